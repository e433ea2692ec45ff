package documents_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"live-collab-sync/internal/auth"
	authmocks "live-collab-sync/internal/auth/mocks"
	"live-collab-sync/internal/documents"
	"live-collab-sync/internal/revisions"
	"live-collab-sync/internal/revisions/mocks"
)

func ownedDocument(id, owner int) *revisions.Document {
	return &revisions.Document{ID: id, Title: "Notes", Content: "hello", OwnerID: &owner, CreatedAt: time.Now()}
}

func TestCreateDocument(t *testing.T) {
	ctrl := gomock.NewController(t)

	mockStore := mocks.NewMockStore(ctrl)
	mockAuthService := authmocks.NewMockService(ctrl)

	handler := &documents.DocumentHandler{
		Store:       mockStore,
		AuthService: mockAuthService,
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/documents", handler.Create)

	t.Run("Success", func(t *testing.T) {
		reqBody := documents.CreateDocumentRequest{Title: "Notes", Content: "hello"}
		jsonValue, _ := json.Marshal(reqBody)
		req, _ := http.NewRequest("POST", "/documents", bytes.NewBuffer(jsonValue))
		req.Header.Set("Content-Type", "application/json")

		userID := 123
		mockAuthService.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(userID, nil)
		mockStore.EXPECT().CreateDocument(gomock.Any(), "Notes", "hello", gomock.Any()).
			DoAndReturn(func(_ any, title, content string, ownerId *int) (*revisions.Document, error) {
				assert.Equal(t, userID, *ownerId)
				return ownedDocument(1, *ownerId), nil
			})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)

		var response struct {
			ID      int    `json:"id"`
			Title   string `json:"title"`
			Version int    `json:"version"`
		}
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, 1, response.ID)
		assert.Equal(t, "Notes", response.Title)
		assert.Equal(t, revisions.BaselineVersion, response.Version)
	})

	t.Run("Unauthorized", func(t *testing.T) {
		req, _ := http.NewRequest("POST", "/documents", bytes.NewBufferString(`{"title":"Notes"}`))
		req.Header.Set("Content-Type", "application/json")

		mockAuthService.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(0, auth.ErrUnauthorized)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("StoreError", func(t *testing.T) {
		req, _ := http.NewRequest("POST", "/documents", bytes.NewBufferString(`{"title":"Notes"}`))
		req.Header.Set("Content-Type", "application/json")

		mockAuthService.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(7, nil)
		mockStore.EXPECT().CreateDocument(gomock.Any(), "Notes", "", gomock.Any()).Return(nil, errors.New("db down"))

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("InvalidBody", func(t *testing.T) {
		req, _ := http.NewRequest("POST", "/documents", bytes.NewBufferString(`{"title":`))
		req.Header.Set("Content-Type", "application/json")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func setupOwnerRoutes(t *testing.T) (*gin.Engine, *mocks.MockStore, *authmocks.MockService) {
	ctrl := gomock.NewController(t)
	mockStore := mocks.NewMockStore(ctrl)
	mockAuthService := authmocks.NewMockService(ctrl)

	handler := &documents.DocumentHandler{Store: mockStore, AuthService: mockAuthService}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	owned := r.Group("/documents/:id", documents.DocumentOwnerMiddleware(mockAuthService, mockStore))
	owned.GET("", handler.GetByID)
	owned.DELETE("", handler.Delete)
	owned.GET("/revisions", handler.Revisions)
	return r, mockStore, mockAuthService
}

func TestGetDocument(t *testing.T) {
	r, mockStore, mockAuthService := setupOwnerRoutes(t)

	t.Run("Success", func(t *testing.T) {
		mockAuthService.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(5, nil)
		mockStore.EXPECT().Document(gomock.Any(), 1).Return(ownedDocument(1, 5), nil)
		mockStore.EXPECT().LatestVersion(gomock.Any(), 1).Return(4, nil)

		req, _ := http.NewRequest("GET", "/documents/1", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]interface{}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "hello", response["content"])
		assert.Equal(t, float64(4), response["version"])
	})

	t.Run("NotOwner", func(t *testing.T) {
		mockAuthService.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(6, nil)
		mockStore.EXPECT().Document(gomock.Any(), 1).Return(ownedDocument(1, 5), nil)

		req, _ := http.NewRequest("GET", "/documents/1", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("NotFound", func(t *testing.T) {
		mockAuthService.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(5, nil)
		mockStore.EXPECT().Document(gomock.Any(), 9).Return(nil, revisions.ErrDocumentNotFound)

		req, _ := http.NewRequest("GET", "/documents/9", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("InvalidID", func(t *testing.T) {
		mockAuthService.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(5, nil)

		req, _ := http.NewRequest("GET", "/documents/abc", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListRevisions(t *testing.T) {
	r, mockStore, mockAuthService := setupOwnerRoutes(t)

	t.Run("Success", func(t *testing.T) {
		mockAuthService.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(5, nil)
		mockStore.EXPECT().Document(gomock.Any(), 1).Return(ownedDocument(1, 5), nil)
		mockStore.EXPECT().Revisions(gomock.Any(), 1, 2, 1).Return([]revisions.Revision{
			{DocumentID: 1, Version: 2, Content: "AB"},
			{DocumentID: 1, Version: 1, Content: "A"},
		}, nil)

		req, _ := http.NewRequest("GET", "/documents/1/revisions?limit=2&offset=1", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Revisions []revisions.Revision `json:"revisions"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Len(t, response.Revisions, 2)
		assert.Equal(t, 2, response.Revisions[0].Version)
	})

	t.Run("InvalidLimit", func(t *testing.T) {
		mockAuthService.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(5, nil)
		mockStore.EXPECT().Document(gomock.Any(), 1).Return(ownedDocument(1, 5), nil)

		req, _ := http.NewRequest("GET", "/documents/1/revisions?limit=many", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDeleteDocument(t *testing.T) {
	r, mockStore, mockAuthService := setupOwnerRoutes(t)

	mockAuthService.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(5, nil)
	mockStore.EXPECT().Document(gomock.Any(), 1).Return(ownedDocument(1, 5), nil)
	mockStore.EXPECT().DeleteDocument(gomock.Any(), 1).Return(nil)

	req, _ := http.NewRequest("DELETE", "/documents/1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
