package api

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"vsoportal/internal/worker"
)

var errSubmissionFailed = errors.New("assessment submission failed")

type assessmentRequest struct {
	ClientID string `json:"client_id"`
	Jurist   string `json:"jurist"`
}

// submitAssessment sends the draft of the session together with the client
// record to the webhook. The draft is cleared afterwards only if nothing was
// added or removed while the submission ran.
func (h *Handler) submitAssessment(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	var req assessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "select a client first"})
		return
	}
	jurist := strings.TrimSpace(req.Jurist)
	if jurist != "" && !h.isJurist(jurist) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown jurist"})
		return
	}

	draft := h.drafts.Get(id)
	selections, gen := draft.Snapshot()
	if len(selections) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "select at least one document"})
		return
	}

	ctx := c.Request.Context()
	client, err := h.clients.GetByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "client not found"})
			return
		}
		log.Printf("load client for assessment: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load client failed"})
		return
	}

	err = h.workers.Submit(ctx, id, func(ctx context.Context) error {
		if !h.submitter.Submit(ctx, client, jurist, selections) {
			return errSubmissionFailed
		}
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, worker.ErrDispatcherBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
		return
	case errors.Is(err, worker.ErrDispatcherClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
		return
	case errors.Is(err, worker.ErrJobCancelled):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session ended"})
		return
	default:
		// the submitter already logged the cause, the user only learns it failed
		c.JSON(http.StatusBadGateway, gin.H{"error": "submitting the assessment failed, please try again"})
		return
	}

	documents := 0
	for _, sel := range selections {
		documents += len(sel.Files)
	}
	c.JSON(http.StatusOK, gin.H{
		"submitted":     true,
		"documents":     documents,
		"draft_cleared": draft.ClearIfGeneration(gen),
	})
}
