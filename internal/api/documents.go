package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"vsoportal/internal/auth"
	"vsoportal/internal/models"
	"vsoportal/internal/session"
	"vsoportal/internal/submission"
)

type documentTypeView struct {
	Type  models.DocumentType `json:"type"`
	Label string              `json:"label"`
}

func (h *Handler) documentTypes(c *gin.Context) {
	types := make([]documentTypeView, len(models.DocumentTypes))
	for i, t := range models.DocumentTypes {
		types[i] = documentTypeView{Type: t, Label: t.Label()}
	}
	c.JSON(http.StatusOK, gin.H{
		"document_types":     types,
		"allowed_extensions": submission.AllowedExtensions,
		"max_file_bytes":     h.maxUpload,
	})
}

func (h *Handler) listJurists(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jurists": h.jurists})
}

func (h *Handler) isJurist(name string) bool {
	for _, j := range h.jurists {
		if j == name {
			return true
		}
	}
	return false
}

// sessionID is the auth token the middleware resolved; drafts are keyed by it.
func (h *Handler) sessionID(c *gin.Context) (string, bool) {
	id, ok := auth.AuthTokenFromContext(c)
	if !ok || id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return "", false
	}
	return id, true
}

func (h *Handler) listDocuments(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": h.drafts.Get(id).List()})
}

type dataURIUpload struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

type documentsRequest struct {
	Type  string          `json:"type"`
	Files []dataURIUpload `json:"files"`
}

// addDocuments attaches a batch of files under one document type, either as
// multipart fields "type" and "files" or as JSON with data URIs.
func (h *Handler) addDocuments(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	if h.maxBody > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)
	}

	var (
		rawType string
		files   []submission.File
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.Request.ParseMultipartForm(h.maxUpload); err != nil {
			h.bodyError(c, err, "invalid multipart form")
			return
		}
		rawType = c.PostForm("type")
		for _, fh := range c.Request.MultipartForm.File["files"] {
			f, err := h.drafts.Spool(id, fh)
			if err != nil {
				submission.DisposeFiles(files)
				h.documentError(c, err)
				return
			}
			files = append(files, f)
		}
	} else {
		var req documentsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.bodyError(c, err, "invalid request body")
			return
		}
		rawType = req.Type
		for _, up := range req.Files {
			f, err := submission.NewDataURIFile(up.Name, up.Data)
			if err != nil {
				submission.DisposeFiles(files)
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			files = append(files, f)
		}
	}

	typ, err := models.ParseDocumentType(rawType)
	if err != nil {
		submission.DisposeFiles(files)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document type"})
		return
	}
	draft := h.drafts.Get(id)
	err = draft.Add(typ, files)
	if !sessionLive(c) {
		// the session ended while the upload was read; its end hook may
		// already have discarded the draft that Get just recreated
		if err != nil {
			submission.DisposeFiles(files)
		}
		h.drafts.Discard(id)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session ended"})
		return
	}
	if err != nil {
		submission.DisposeFiles(files)
		h.documentError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"documents": draft.List()})
}

func sessionLive(c *gin.Context) bool {
	mgr, ok := auth.SessionFromContext(c)
	if !ok {
		return false
	}
	switch mgr.State() {
	case session.Active, session.WarningShown:
		return true
	}
	return false
}

func (h *Handler) bodyError(c *gin.Context, err error, msg string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload batch too large"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func (h *Handler) documentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, submission.ErrFileTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, submission.ErrNoFiles), errors.Is(err, submission.ErrUnsupportedFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Printf("store upload: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store upload failed"})
	}
}

func (h *Handler) removeDocument(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document index"})
		return
	}
	if err := h.drafts.Get(id).Remove(index); err != nil {
		if errors.Is(err, submission.ErrIndexOutOfRange) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) discardDocuments(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	h.drafts.Get(id).Clear()
	c.Status(http.StatusNoContent)
}
