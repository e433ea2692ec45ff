// Package documents is the owner-facing HTTP surface for creating documents
// and reading their revision history.
package documents

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"live-collab-sync/internal/auth"
	"live-collab-sync/internal/revisions"
)

type DocumentHandler struct {
	Store       revisions.Store
	AuthService auth.Service
	Log         zerolog.Logger
}

type CreateDocumentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type DocumentResponse struct {
	*revisions.Document
	Version int `json:"version"`
}

// Create godoc
// @Summary Create a new document
// @Description Create a document owned by the authenticated user. Its initial content becomes revision 1.
// @Tags documents
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateDocumentRequest true "Document data"
// @Success 201 {object} DocumentResponse
// @Failure 400 {object} object{error=string}
// @Failure 401 {object} object{error=string}
// @Failure 500 {object} object{error=string}
// @Router /documents [post]
func (h *DocumentHandler) Create(c *gin.Context) {
	var req CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userId, err := h.AuthService.GetUserIDFromGinContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	doc, err := h.Store.CreateDocument(c.Request.Context(), req.Title, req.Content, &userId)
	if err != nil {
		h.Log.Error().Err(err).Int("user_id", userId).Msg("failed to create document")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create document"})
		return
	}

	c.JSON(http.StatusCreated, DocumentResponse{Document: doc, Version: revisions.BaselineVersion})
}

// GetByID godoc
// @Summary Get document by ID
// @Description Current content and version of a document owned by the user
// @Tags documents
// @Produce json
// @Security BearerAuth
// @Param id path int true "Document ID"
// @Success 200 {object} DocumentResponse
// @Failure 400 {object} object{error=string}
// @Failure 401 {object} object{error=string}
// @Failure 403 {object} object{error=string}
// @Failure 404 {object} object{error=string}
// @Failure 500 {object} object{error=string}
// @Router /documents/{id} [get]
func (h *DocumentHandler) GetByID(c *gin.Context) {
	doc, ok := GetDocument(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	version, err := h.Store.LatestVersion(c.Request.Context(), doc.ID)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, DocumentResponse{Document: doc, Version: version})
}

// Revisions godoc
// @Summary List document revisions
// @Description Revision history, newest first
// @Tags documents
// @Produce json
// @Security BearerAuth
// @Param id path int true "Document ID"
// @Param limit query int false "Page size (default 50, max 1000)"
// @Param offset query int false "Revisions to skip"
// @Success 200 {object} object{revisions=[]revisions.Revision}
// @Failure 400 {object} object{error=string}
// @Failure 401 {object} object{error=string}
// @Failure 403 {object} object{error=string}
// @Failure 404 {object} object{error=string}
// @Router /documents/{id}/revisions [get]
func (h *DocumentHandler) Revisions(c *gin.Context) {
	doc, ok := GetDocument(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	limit, err := queryInt(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset"})
		return
	}

	history, err := h.Store.Revisions(c.Request.Context(), doc.ID, limit, offset)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"revisions": history})
}

// Delete godoc
// @Summary Delete document
// @Description Delete a document and its history. Share links to it stop resolving to content.
// @Tags documents
// @Produce json
// @Security BearerAuth
// @Param id path int true "Document ID"
// @Success 200 {object} object{message=string}
// @Failure 401 {object} object{error=string}
// @Failure 403 {object} object{error=string}
// @Failure 404 {object} object{error=string}
// @Failure 500 {object} object{error=string}
// @Router /documents/{id} [delete]
func (h *DocumentHandler) Delete(c *gin.Context) {
	doc, ok := GetDocument(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	if err := h.Store.DeleteDocument(c.Request.Context(), doc.ID); err != nil {
		h.respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Document deleted successfully"})
}

func (h *DocumentHandler) respondStoreError(c *gin.Context, err error) {
	if errors.Is(err, revisions.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}
	h.Log.Error().Err(err).Msg("document store error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
