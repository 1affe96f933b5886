package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/board"
	"taskboard/domain"
	"taskboard/session"
	"taskboard/storage"
)

const defaultKeepAlive = 30 * time.Second

// Store is the task store behind the board and the public task page.
type Store interface {
	board.DocumentStore
	Get(ctx context.Context, id string) (domain.Task, error)
}

// Options configures the HTTP surface.
type Options struct {
	// BaseURL is the public origin used for share links.
	BaseURL   string
	Logger    *log.Logger
	KeepAlive time.Duration

	// ClipboardTimeout bounds how long a share waits for the page to
	// confirm the clipboard write.
	ClipboardTimeout time.Duration
}

// Server serves the board pages and the per-view endpoints.
type Server struct {
	store     Store
	sessions  *session.Provider
	baseURL   string
	log       *log.Logger
	keepAlive time.Duration
	views     *viewRegistry

	clipboardTimeout time.Duration
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, store Store, sessions *session.Provider, opts Options) *Server {
	s := &Server{
		store:     store,
		sessions:  sessions,
		baseURL:   opts.BaseURL,
		log:       opts.Logger,
		keepAlive: opts.KeepAlive,
		views:     newViewRegistry(),

		clipboardTimeout: opts.ClipboardTimeout,
	}
	if s.log == nil {
		s.log = log.StandardLogger()
	}
	if s.keepAlive <= 0 {
		s.keepAlive = defaultKeepAlive
	}
	e.Renderer = newTemplates()

	e.GET("/", s.landing)
	e.GET("/healthz", healthz)
	e.GET("/task/:id", s.publicTask)
	e.POST("/session", s.signIn)
	e.POST("/session/logout", s.signOut)
	e.DELETE("/session", s.signOut)

	e.GET("/board", s.boardPage, session.Redirect(sessions, s.log))

	views := e.Group("/board/views/:view", session.Reject(sessions, s.log))
	views.GET("/stream", s.streamView)
	views.PUT("/draft", s.updateDraft)
	views.POST("/tasks", s.submitTask)
	views.DELETE("/tasks/:id", s.deleteTask)
	views.POST("/tasks/:id/share", s.shareTask)
	views.POST("/clipboard/:ack", s.clipboardAck)
	return s
}

func healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) landing(c echo.Context) error {
	page := landingPage{Title: "Tasks", LocalMode: s.sessions.LocalMode()}
	if sess, err := s.sessions.Resolve(c.Request()); err == nil && sess != nil {
		page.Email = sess.Email
	}
	return c.Render(http.StatusOK, "landing", page)
}

func (s *Server) signIn(c echo.Context) error {
	token := c.FormValue("token")
	sess, err := s.sessions.FromToken(token)
	if err != nil {
		s.log.WithError(err).Debug("sign in rejected")
		return c.Render(http.StatusUnauthorized, "landing", landingPage{
			Title:     "Tasks",
			Error:     "That token is not valid.",
			LocalMode: s.sessions.LocalMode(),
		})
	}
	c.SetCookie(&http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   c.Request().TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	s.log.WithField("email", sess.Email).Info("session started")
	return c.Redirect(http.StatusSeeOther, "/board")
}

func (s *Server) signOut(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	if c.Request().Method == http.MethodDelete {
		return c.NoContent(http.StatusNoContent)
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) boardPage(c echo.Context) error {
	sess := session.FromContext(c)
	return c.Render(http.StatusOK, "board", boardPage{
		Title:  "Your tasks",
		Email:  sess.Email,
		ViewID: uuid.NewString(),
	})
}

func (s *Server) publicTask(c echo.Context) error {
	task, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.WithError(err).WithField("task", c.Param("id")).Error("load public task")
		return c.String(http.StatusBadGateway, "could not load task")
	}
	if err != nil || !task.IsPublic {
		return c.Render(http.StatusNotFound, "task", taskPage{Title: "Task not found"})
	}
	return c.Render(http.StatusOK, "task", taskPage{Title: task.Text, Task: &task})
}
