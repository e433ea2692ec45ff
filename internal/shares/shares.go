// Package shares resolves share tokens to the document and edit capability
// they grant. It is the only access check on the realtime path.
package shares

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidToken  = errors.New("invalid share token")
	ErrShareNotFound = errors.New("share not found")
)

type ShareLink struct {
	ID         int       `json:"id"`
	Token      string    `json:"token"`
	DocumentID int       `json:"document_id"`
	CanEdit    bool      `json:"can_edit"`
	OwnerID    *int      `json:"owner_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Capability is what a resolved token grants.
type Capability struct {
	Token      string
	DocumentID int
	CanEdit    bool
}

func (s *ShareLink) Capability() Capability {
	return Capability{Token: s.Token, DocumentID: s.DocumentID, CanEdit: s.CanEdit}
}

// Resolver is the authorization gate consumed by the sync engine.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Capability, error)
}

type Store interface {
	Resolver
	Create(ctx context.Context, documentId int, canEdit bool, ownerId *int) (*ShareLink, error)
	Get(ctx context.Context, token string) (*ShareLink, error)
	ListByDocument(ctx context.Context, documentId int) ([]ShareLink, error)
	ToggleEdit(ctx context.Context, token string) (*ShareLink, error)
	Revoke(ctx context.Context, token string) error
}

const tokenBytes = 16

// NewToken returns a random URL-safe token.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate share token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
