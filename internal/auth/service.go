package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"vsoportal/internal/config"
	"vsoportal/internal/session"
)

// ErrInvalidCredentials deliberately does not say which field was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service checks the staff credential pair and binds session ids to timers.
type Service struct {
	username       string
	password       string
	passwordHash   []byte
	sessions       *session.Registry
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
}

// NewService constructs an auth service for the configured credential pair.
func NewService(cfg config.AuthConfig, sessions *session.Registry) *Service {
	s := &Service{
		username:       cfg.Username,
		password:       cfg.Password,
		sessions:       sessions,
		cookieName:     "auth_token",
		headerName:     "Authorization",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
	}
	if cfg.PasswordHash != "" {
		s.passwordHash = []byte(cfg.PasswordHash)
	}
	return s
}

// CheckCredentials compares both strings in constant time, or the password
// against the bcrypt hash when one is configured.
func (s *Service) CheckCredentials(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	var passOK bool
	if s.passwordHash != nil {
		passOK = bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
	}
	return userOK && passOK && s.username != ""
}

// Login verifies the credentials and starts a session timer under a fresh
// random id, which doubles as the auth token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	if !s.CheckCredentials(username, password) {
		return "", ErrInvalidCredentials
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	if _, err := s.sessions.Start(ctx, token); err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	return token, nil
}

// Logout ends the session bound to the token.
func (s *Service) Logout(ctx context.Context, authToken string) error {
	if authToken == "" {
		return nil
	}
	if err := s.sessions.End(ctx, authToken); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

// Sessions exposes the session registry.
func (s *Service) Sessions() *session.Registry {
	return s.sessions
}

// HashPassword produces the value for the password_hash setting.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AuthCookieName returns the cookie name storing auth tokens.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}
