package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vsoportal/internal/session"
)

const sseKeepAlive = 15 * time.Second

func (h *Handler) sessionStatus(c *gin.Context) {
	mgr, ok := h.currentSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, mgr.Status(c.Request.Context()))
}

func (h *Handler) sessionActivity(c *gin.Context) {
	// the auth middleware already recorded this request as activity
	c.Status(http.StatusNoContent)
}

func (h *Handler) sessionStay(c *gin.Context) {
	mgr, ok := h.currentSession(c)
	if !ok {
		return
	}
	if err := mgr.StayLoggedIn(c.Request.Context()); err != nil {
		if errors.Is(err, session.ErrExpired) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return
	}
	c.Status(http.StatusNoContent)
}

// sessionEvents streams warning, countdown, active and logout events until
// the session ends or the client goes away.
func (h *Handler) sessionEvents(c *gin.Context) {
	mgr, ok := h.currentSession(c)
	if !ok {
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	events, cancel := mgr.Subscribe()
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	ctx := c.Request.Context()
	status := mgr.Status(ctx)
	if err := sendEvent("status", status); err != nil || !status.Authenticated {
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.streams:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sendEvent(string(ev.Type), ev); err != nil || ev.Type == session.EventLogout {
				return
			}
		case <-keepAlive.C:
			// a logout event can be lost to a full buffer, the state cannot
			if mgr.State() == session.LoggedOut {
				_ = sendEvent(string(session.EventLogout), session.Event{Type: session.EventLogout, State: session.LoggedOut.String()})
				return
			}
			if _, err := fmt.Fprint(c.Writer, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
