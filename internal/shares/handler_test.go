package shares_test

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
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"live-collab-sync/internal/auth"
	authmocks "live-collab-sync/internal/auth/mocks"
	"live-collab-sync/internal/documents"
	"live-collab-sync/internal/revisions"
	revmocks "live-collab-sync/internal/revisions/mocks"
	"live-collab-sync/internal/shares"
	"live-collab-sync/internal/shares/mocks"
)

type shareFixture struct {
	router    *gin.Engine
	shares    *mocks.MockStore
	documents *revmocks.MockStore
	auth      *authmocks.MockService
}

func setupShareRoutes(t *testing.T) *shareFixture {
	ctrl := gomock.NewController(t)
	f := &shareFixture{
		shares:    mocks.NewMockStore(ctrl),
		documents: revmocks.NewMockStore(ctrl),
		auth:      authmocks.NewMockService(ctrl),
	}

	handler := &shares.ShareHandler{
		Shares:      f.shares,
		Documents:   f.documents,
		AuthService: f.auth,
		BaseURL:     "https://collab.example.com",
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/share/:token", handler.GetShared)
	owned := r.Group("/documents/:id", documents.DocumentOwnerMiddleware(f.auth, f.documents))
	owned.POST("/shares", handler.Create)
	owned.GET("/shares", handler.List)
	r.POST("/shares/:token/toggle", handler.Toggle)
	r.DELETE("/shares/:token", handler.Revoke)
	f.router = r
	return f
}

func (f *shareFixture) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func owned(id, owner int) *revisions.Document {
	return &revisions.Document{ID: id, Title: "Plan", Content: "draft", OwnerID: &owner}
}

func TestGetShared(t *testing.T) {
	f := setupShareRoutes(t)

	t.Run("Success", func(t *testing.T) {
		f.shares.EXPECT().Resolve(gomock.Any(), "tok").Return(shares.Capability{Token: "tok", DocumentID: 3, CanEdit: true}, nil)
		f.documents.EXPECT().Document(gomock.Any(), 3).Return(owned(3, 1), nil)
		f.documents.EXPECT().LatestVersion(gomock.Any(), 3).Return(5, nil)

		w := f.do("GET", "/api/share/tok", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var response shares.SharedDocumentResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, shares.SharedDocumentResponse{DocumentID: 3, Title: "Plan", Content: "draft", Version: 5, CanEdit: true}, response)
	})

	t.Run("InvalidToken", func(t *testing.T) {
		f.shares.EXPECT().Resolve(gomock.Any(), "bad").Return(shares.Capability{}, shares.ErrInvalidToken)

		w := f.do("GET", "/api/share/bad", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("DocumentGone", func(t *testing.T) {
		f.shares.EXPECT().Resolve(gomock.Any(), "orphan").Return(shares.Capability{Token: "orphan", DocumentID: 4}, nil)
		f.documents.EXPECT().Document(gomock.Any(), 4).Return(nil, revisions.ErrDocumentNotFound)

		w := f.do("GET", "/api/share/orphan", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("StoreFailure", func(t *testing.T) {
		f.shares.EXPECT().Resolve(gomock.Any(), "tok").Return(shares.Capability{}, errors.New("connection refused"))

		w := f.do("GET", "/api/share/tok", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestCreateShare(t *testing.T) {
	f := setupShareRoutes(t)

	t.Run("Success", func(t *testing.T) {
		f.auth.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(1, nil)
		f.documents.EXPECT().Document(gomock.Any(), 3).Return(owned(3, 1), nil)
		f.shares.EXPECT().Create(gomock.Any(), 3, true, gomock.Any()).
			Return(&shares.ShareLink{ID: 9, Token: "abc", DocumentID: 3, CanEdit: true, CreatedAt: time.Now()}, nil)

		w := f.do("POST", "/documents/3/shares", []byte(`{"can_edit": true}`))

		assert.Equal(t, http.StatusCreated, w.Code)
		var response shares.ShareResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "abc", response.Token)
		assert.True(t, response.CanEdit)
		assert.Equal(t, "https://collab.example.com/s/abc", response.URL)
	})

	t.Run("NotOwner", func(t *testing.T) {
		f.auth.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(2, nil)
		f.documents.EXPECT().Document(gomock.Any(), 3).Return(owned(3, 1), nil)

		w := f.do("POST", "/documents/3/shares", []byte(`{"can_edit": true}`))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		f.auth.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(0, auth.ErrUnauthorized)

		w := f.do("POST", "/documents/3/shares", []byte(`{"can_edit": true}`))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestListShares(t *testing.T) {
	f := setupShareRoutes(t)

	f.auth.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(1, nil)
	f.documents.EXPECT().Document(gomock.Any(), 3).Return(owned(3, 1), nil)
	f.shares.EXPECT().ListByDocument(gomock.Any(), 3).Return([]shares.ShareLink{
		{ID: 2, Token: "edit", DocumentID: 3, CanEdit: true},
		{ID: 1, Token: "view", DocumentID: 3},
	}, nil)

	w := f.do("GET", "/documents/3/shares", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var response struct {
		Shares []shares.ShareResponse `json:"shares"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Len(t, response.Shares, 2)
	assert.Equal(t, "https://collab.example.com/s/view", response.Shares[1].URL)
}

func TestToggleShare(t *testing.T) {
	f := setupShareRoutes(t)

	t.Run("Success", func(t *testing.T) {
		f.auth.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(1, nil)
		f.shares.EXPECT().Get(gomock.Any(), "tok").Return(&shares.ShareLink{Token: "tok", DocumentID: 3, CanEdit: true}, nil)
		f.documents.EXPECT().Document(gomock.Any(), 3).Return(owned(3, 1), nil)
		f.shares.EXPECT().ToggleEdit(gomock.Any(), "tok").Return(&shares.ShareLink{Token: "tok", DocumentID: 3, CanEdit: false}, nil)

		w := f.do("POST", "/shares/tok/toggle", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var response shares.ShareResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.False(t, response.CanEdit)
	})

	t.Run("UnknownToken", func(t *testing.T) {
		f.auth.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(1, nil)
		f.shares.EXPECT().Get(gomock.Any(), "nope").Return(nil, shares.ErrShareNotFound)

		w := f.do("POST", "/shares/nope/toggle", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("NotOwner", func(t *testing.T) {
		f.auth.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(2, nil)
		f.shares.EXPECT().Get(gomock.Any(), "tok").Return(&shares.ShareLink{Token: "tok", DocumentID: 3}, nil)
		f.documents.EXPECT().Document(gomock.Any(), 3).Return(owned(3, 1), nil)

		w := f.do("POST", "/shares/tok/toggle", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestRevokeShare(t *testing.T) {
	f := setupShareRoutes(t)

	t.Run("OrphanedLinkFallsBackToLinkOwner", func(t *testing.T) {
		owner := 1
		f.auth.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(1, nil)
		f.shares.EXPECT().Get(gomock.Any(), "tok").Return(&shares.ShareLink{Token: "tok", DocumentID: 3, OwnerID: &owner}, nil)
		f.documents.EXPECT().Document(gomock.Any(), 3).Return(nil, revisions.ErrDocumentNotFound)
		f.shares.EXPECT().Revoke(gomock.Any(), "tok").Return(nil)

		w := f.do("DELETE", "/shares/tok", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		f.auth.EXPECT().GetUserIDFromGinContext(gomock.Any()).Return(0, auth.ErrUnauthorized)

		w := f.do("DELETE", "/shares/tok", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
