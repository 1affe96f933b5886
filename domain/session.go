package domain

import "time"

// Session is the identity resolved for a request.
type Session struct {
	Email     string    `json:"email"`
	Subject   string    `json:"sub"`
	ExpiresAt time.Time `json:"expiresAt"`
}
