package session

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"taskboard/domain"
)

// CookieName holds the session token for browser requests.
const CookieName = "taskboard_session"

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	clockSkew           = time.Minute
)

// Config configures a Provider. When LocalSecret is set tokens are HS256
// signed with it and JWKS is ignored.
type Config struct {
	JWKS        *keyfunc.JWKS
	Audience    string
	Issuer      string
	LocalSecret []byte
	KeyCacheTTL time.Duration
}

// Provider resolves sessions from signed tokens.
type Provider struct {
	jwks        *keyfunc.JWKS
	audience    string
	issuer      string
	localSecret []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewProvider creates a Provider.
func NewProvider(cfg Config) *Provider {
	p := &Provider{
		jwks:        cfg.JWKS,
		audience:    cfg.Audience,
		issuer:      cfg.Issuer,
		localSecret: cfg.LocalSecret,
		keyCacheTTL: cfg.KeyCacheTTL,
	}
	if p.keyCacheTTL == 0 {
		p.keyCacheTTL = defaultJWKSCacheTTL
	}
	if p.LocalMode() {
		p.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithoutClaimsValidation())
	} else {
		p.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithoutClaimsValidation())
	}
	return p
}

// LocalMode reports whether tokens are verified with a shared secret.
func (p *Provider) LocalMode() bool {
	return len(p.localSecret) > 0
}

// Resolve returns the session carried by r. It returns (nil, nil) when the
// request presents no credentials at all.
func (p *Provider) Resolve(r *http.Request) (*domain.Session, error) {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return p.FromToken(cookie.Value)
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	token, err := bearerTokenFromString(header)
	if err != nil {
		return nil, err
	}
	return p.FromToken(token)
}

// FromToken validates a raw JWT and returns its session.
func (p *Provider) FromToken(tokenStr string) (*domain.Session, error) {
	if !looksLikeJWT(tokenStr) {
		return nil, errBadAuthorization
	}

	var parsedToken *jwt.Token
	var err error
	if p.LocalMode() {
		parsedToken, err = p.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return p.localSecret, nil
		})
	} else {
		parsedToken, err = p.parser.Parse(tokenStr, p.keyForToken)
	}
	if err != nil {
		return nil, err
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}

	// Time claims are checked here with clockSkew leeway on each side.
	now := time.Now()
	if !claims.VerifyExpiresAt(now.Add(-clockSkew).Unix(), true) {
		return nil, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now.Add(clockSkew).Unix(), false) {
		return nil, errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now.Add(clockSkew).Unix(), false) {
		return nil, errors.New("token used before issued")
	}
	if p.audience != "" && !claims.VerifyAudience(p.audience, false) {
		return nil, errors.New("invalid audience")
	}
	if p.issuer != "" && !claims.VerifyIssuer(p.issuer, false) {
		return nil, errors.New("invalid issuer")
	}

	email, ok := claims["email"].(string)
	if !ok || email == "" {
		return nil, errors.New("missing email")
	}
	sess := &domain.Session{Email: email}
	sess.Subject, _ = claims["sub"].(string)
	if exp, ok := claims["exp"].(float64); ok {
		sess.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}
	return sess, nil
}

func (p *Provider) keyForToken(token *jwt.Token) (any, error) {
	if p.jwks == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && p.keyCacheTTL > 0 {
		if cached, ok := p.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			p.keyCache.Delete(kid)
		}
	}

	key, err := p.jwks.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && p.keyCacheTTL > 0 {
		p.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(p.keyCacheTTL)})
	}
	return key, nil
}

// LocalToken signs an HS256 session token for email, for local runs.
func LocalToken(secret []byte, email string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("local auth secret is empty")
	}
	if email == "" {
		return "", errors.New("email is required")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   email,
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}
