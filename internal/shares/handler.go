package shares

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"live-collab-sync/internal/auth"
	"live-collab-sync/internal/documents"
	"live-collab-sync/internal/revisions"
)

type ShareHandler struct {
	Shares      Store
	Documents   revisions.Store
	AuthService auth.Service
	BaseURL     string
	Log         zerolog.Logger
}

type CreateShareRequest struct {
	CanEdit bool `json:"can_edit"`
}

type ShareResponse struct {
	ShareLink
	URL string `json:"url"`
}

type SharedDocumentResponse struct {
	DocumentID int    `json:"document_id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Version    int    `json:"version"`
	CanEdit    bool   `json:"can_edit"`
}

func (h *ShareHandler) response(link ShareLink) ShareResponse {
	return ShareResponse{ShareLink: link, URL: h.BaseURL + "/s/" + link.Token}
}

// GetShared godoc
// @Summary Open a shared document
// @Description Current content and version of the document behind a share token. No account needed.
// @Tags shares
// @Produce json
// @Param token path string true "Share token"
// @Success 200 {object} SharedDocumentResponse
// @Failure 404 {object} object{error=string}
// @Failure 500 {object} object{error=string}
// @Router /api/share/{token} [get]
func (h *ShareHandler) GetShared(c *gin.Context) {
	ctx := c.Request.Context()

	capability, err := h.Shares.Resolve(ctx, c.Param("token"))
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Invalid share token"})
		} else {
			h.Log.Error().Err(err).Msg("failed to resolve share token")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		}
		return
	}

	doc, err := h.Documents.Document(ctx, capability.DocumentID)
	if err != nil {
		h.respondDocumentError(c, err)
		return
	}
	version, err := h.Documents.LatestVersion(ctx, doc.ID)
	if err != nil {
		h.respondDocumentError(c, err)
		return
	}

	c.JSON(http.StatusOK, SharedDocumentResponse{
		DocumentID: doc.ID,
		Title:      doc.Title,
		Content:    doc.Content,
		Version:    version,
		CanEdit:    capability.CanEdit,
	})
}

// Create godoc
// @Summary Create a share link
// @Tags shares
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Document ID"
// @Param request body CreateShareRequest true "Share settings"
// @Success 201 {object} ShareResponse
// @Failure 400 {object} object{error=string}
// @Failure 401 {object} object{error=string}
// @Failure 403 {object} object{error=string}
// @Failure 404 {object} object{error=string}
// @Failure 500 {object} object{error=string}
// @Router /documents/{id}/shares [post]
func (h *ShareHandler) Create(c *gin.Context) {
	doc, ok := documents.GetDocument(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	var req CreateShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	link, err := h.Shares.Create(c.Request.Context(), doc.ID, req.CanEdit, doc.OwnerID)
	if err != nil {
		h.Log.Error().Err(err).Int("document_id", doc.ID).Msg("failed to create share link")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create share link"})
		return
	}

	c.JSON(http.StatusCreated, h.response(*link))
}

// List godoc
// @Summary List a document's share links
// @Tags shares
// @Produce json
// @Security BearerAuth
// @Param id path int true "Document ID"
// @Success 200 {object} object{shares=[]ShareResponse}
// @Failure 401 {object} object{error=string}
// @Failure 403 {object} object{error=string}
// @Failure 404 {object} object{error=string}
// @Failure 500 {object} object{error=string}
// @Router /documents/{id}/shares [get]
func (h *ShareHandler) List(c *gin.Context) {
	doc, ok := documents.GetDocument(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	links, err := h.Shares.ListByDocument(c.Request.Context(), doc.ID)
	if err != nil {
		h.Log.Error().Err(err).Int("document_id", doc.ID).Msg("failed to list share links")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	out := make([]ShareResponse, 0, len(links))
	for _, link := range links {
		out = append(out, h.response(link))
	}
	c.JSON(http.StatusOK, gin.H{"shares": out})
}

// Toggle godoc
// @Summary Flip a share link between view-only and editable
// @Description Takes effect on the next realtime message that presents the token.
// @Tags shares
// @Produce json
// @Security BearerAuth
// @Param token path string true "Share token"
// @Success 200 {object} ShareResponse
// @Failure 401 {object} object{error=string}
// @Failure 403 {object} object{error=string}
// @Failure 404 {object} object{error=string}
// @Failure 500 {object} object{error=string}
// @Router /shares/{token}/toggle [post]
func (h *ShareHandler) Toggle(c *gin.Context) {
	token := c.Param("token")
	if !h.authorize(c, token) {
		return
	}

	link, err := h.Shares.ToggleEdit(c.Request.Context(), token)
	if err != nil {
		h.respondShareError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.response(*link))
}

// Revoke godoc
// @Summary Revoke a share link
// @Tags shares
// @Produce json
// @Security BearerAuth
// @Param token path string true "Share token"
// @Success 200 {object} object{message=string}
// @Failure 401 {object} object{error=string}
// @Failure 403 {object} object{error=string}
// @Failure 404 {object} object{error=string}
// @Failure 500 {object} object{error=string}
// @Router /shares/{token} [delete]
func (h *ShareHandler) Revoke(c *gin.Context) {
	token := c.Param("token")
	if !h.authorize(c, token) {
		return
	}

	if err := h.Shares.Revoke(c.Request.Context(), token); err != nil {
		h.respondShareError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Share link revoked"})
}

// authorize writes the error response itself and reports whether the
// caller owns the document behind token. A link whose document is gone
// falls back to the owner recorded on the link.
func (h *ShareHandler) authorize(c *gin.Context, token string) bool {
	userId, err := h.AuthService.GetUserIDFromGinContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return false
	}

	ctx := c.Request.Context()
	link, err := h.Shares.Get(ctx, token)
	if err != nil {
		h.respondShareError(c, err)
		return false
	}

	owner := link.OwnerID
	doc, err := h.Documents.Document(ctx, link.DocumentID)
	switch {
	case err == nil:
		owner = doc.OwnerID
	case !errors.Is(err, revisions.ErrDocumentNotFound):
		h.Log.Error().Err(err).Int("document_id", link.DocumentID).Msg("failed to load shared document")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return false
	}

	if owner == nil || *owner != userId {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied - you don't own this document"})
		return false
	}
	return true
}

func (h *ShareHandler) respondShareError(c *gin.Context, err error) {
	if errors.Is(err, ErrShareNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Share link not found"})
		return
	}
	h.Log.Error().Err(err).Msg("share store error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
}

func (h *ShareHandler) respondDocumentError(c *gin.Context, err error) {
	if errors.Is(err, revisions.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}
	h.Log.Error().Err(err).Msg("document store error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
}
