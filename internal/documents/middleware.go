package documents

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"live-collab-sync/internal/auth"
	"live-collab-sync/internal/revisions"
)

const documentKey = "document"

// DocumentOwnerMiddleware loads the document named by the :id route param
// and aborts unless the authenticated user owns it.
func DocumentOwnerMiddleware(authService auth.Service, store revisions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, err := authService.GetUserIDFromGinContext(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		documentId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid document ID"})
			return
		}

		doc, err := store.Document(c.Request.Context(), documentId)
		if err != nil {
			if errors.Is(err, revisions.ErrDocumentNotFound) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Document not found"})
			} else {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to check document access"})
			}
			return
		}

		if !doc.OwnedBy(userId) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied - you don't own this document"})
			return
		}

		c.Set(auth.ContextUserKey, userId)
		c.Set(documentKey, doc)
		c.Next()
	}
}

// GetDocument returns the document loaded by DocumentOwnerMiddleware.
func GetDocument(c *gin.Context) (*revisions.Document, bool) {
	v, exists := c.Get(documentKey)
	if !exists {
		return nil, false
	}
	doc, ok := v.(*revisions.Document)
	return doc, ok
}
