package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"vsoportal/internal/auth"
	"vsoportal/internal/models"
	"vsoportal/internal/service/registry"
	"vsoportal/internal/session"
	"vsoportal/internal/submission"
)

// AssessmentSubmitter posts one assessment to the webhook and reports success.
type AssessmentSubmitter interface {
	Submit(ctx context.Context, client *models.Client, jurist string, selections []submission.Selection) bool
}

// JobDispatcher runs fn on a bounded pool on behalf of a session and waits for it.
type JobDispatcher interface {
	Submit(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error
	CancelSession(sessionID string)
}

// maxBatchFiles sizes the request body cap of one upload batch.
const maxBatchFiles = 10

// Options carries the settings the handlers need from the config.
type Options struct {
	Jurists        []string
	MaxUploadBytes int64
}

// Handler wires HTTP routes to the client registry, the document drafts and
// the assessment submitter.
type Handler struct {
	auth      *auth.Service
	clients   *registry.Service
	drafts    *submission.DraftStore
	submitter AssessmentSubmitter
	workers   JobDispatcher
	jurists   []string
	maxUpload int64
	maxBody   int64

	streams     chan struct{}
	streamsOnce sync.Once
}

// NewHandler constructs a Handler. Drafts and queued jobs of a session are
// dropped as soon as it logs out or expires.
func NewHandler(authService *auth.Service, clients *registry.Service, drafts *submission.DraftStore, submitter AssessmentSubmitter, workers JobDispatcher, opts Options) *Handler {
	h := &Handler{
		auth:      authService,
		clients:   clients,
		drafts:    drafts,
		submitter: submitter,
		workers:   workers,
		jurists:   append([]string(nil), opts.Jurists...),
		maxUpload: opts.MaxUploadBytes,
		streams:   make(chan struct{}),
	}
	if opts.MaxUploadBytes > 0 {
		// base64 in JSON bodies grows by a third, plus room for form fields
		h.maxBody = opts.MaxUploadBytes*maxBatchFiles*4/3 + 64<<10
	}
	authService.Sessions().OnEnd(h.sessionEnded)
	return h
}

// CloseStreams ends every open event stream. Browsers reconnect on their own,
// so the server does not wait for them when it shuts down.
func (h *Handler) CloseStreams() {
	h.streamsOnce.Do(func() { close(h.streams) })
}

func (h *Handler) sessionEnded(id, reason string) {
	h.workers.CancelSession(id)
	h.drafts.Discard(id)
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/login", h.login)
	api.POST("/logout", h.auth.CSRFMiddleware(), h.logout)

	// status polling and the event stream must not count as activity
	passive := api.Group("/session")
	passive.Use(h.auth.PassiveMiddleware())
	passive.GET("", h.sessionStatus)
	passive.GET("/events", h.sessionEvents)

	authed := api.Group("")
	authed.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	authed.POST("/session/activity", h.sessionActivity)
	authed.POST("/session/stay", h.sessionStay)

	authed.GET("/clients", h.searchClients)
	authed.GET("/clients/all", h.listClients)
	authed.GET("/clients/:id", h.getClient)
	authed.POST("/clients", h.createClient)
	authed.DELETE("/clients/:id", h.deleteClient)

	authed.GET("/document-types", h.documentTypes)
	authed.GET("/jurists", h.listJurists)
	authed.GET("/documents", h.listDocuments)
	authed.POST("/documents", h.addDocuments)
	authed.DELETE("/documents", h.discardDocuments)
	authed.DELETE("/documents/:index", h.removeDocument)

	authed.POST("/assessments", h.submitAssessment)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	authToken, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Printf("login failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"auth_token": authToken,
		"csrf_token": csrfToken,
	})
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), h.auth.RequestToken(c)); err != nil {
		log.Printf("logout failed: %v", err)
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

// currentSession returns the session resolved by the auth middleware.
func (h *Handler) currentSession(c *gin.Context) (*session.Manager, bool) {
	mgr, ok := auth.SessionFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return nil, false
	}
	return mgr, true
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	// no MaxAge: the cookies die with the browser, the idle timer does the rest
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
