package api

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"vsoportal/internal/models"
	"vsoportal/internal/service/registry"
)

// searchClients serves one page of the client overview:
// ?q=<term>&sort=<key>&dir=asc|desc&page=<n>
func (h *Handler) searchClients(c *gin.Context) {
	q := registry.Query{
		Term: c.Query("q"),
		Sort: strings.ToLower(strings.TrimSpace(c.Query("sort"))),
	}
	if q.Sort != "" && !registry.IsSortKey(q.Sort) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sort key"})
		return
	}
	switch strings.ToLower(c.DefaultQuery("dir", "asc")) {
	case "asc":
	case "desc":
		q.Desc = true
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "dir must be asc or desc"})
		return
	}
	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
			return
		}
		q.Page = page
	}
	page, err := h.clients.Search(c.Request.Context(), q)
	if err != nil {
		log.Printf("search clients: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list clients failed"})
		return
	}
	if page.Clients == nil {
		page.Clients = make([]models.Client, 0)
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) listClients(c *gin.Context) {
	clients, err := h.clients.List(c.Request.Context())
	if err != nil {
		log.Printf("list clients: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list clients failed"})
		return
	}
	if clients == nil {
		clients = make([]models.Client, 0)
	}
	c.JSON(http.StatusOK, gin.H{"clients": clients})
}

func (h *Handler) getClient(c *gin.Context) {
	client, err := h.clients.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "client not found"})
			return
		}
		log.Printf("get client: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load client failed"})
		return
	}
	c.JSON(http.StatusOK, client)
}

func (h *Handler) createClient(c *gin.Context) {
	var form models.ClientFormData
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	client, err := h.clients.Create(c.Request.Context(), form)
	if err != nil {
		var verr *registry.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client", "fields": verr.Fields})
			return
		}
		log.Printf("create client: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save client failed"})
		return
	}
	c.JSON(http.StatusCreated, client)
}

func (h *Handler) deleteClient(c *gin.Context) {
	if err := h.clients.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "client not found"})
			return
		}
		log.Printf("delete client: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete client failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
