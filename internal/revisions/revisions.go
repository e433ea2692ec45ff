// Package revisions owns documents and their versioned content history.
//
// Every accepted change to a document goes through Store.Commit, a
// compare-and-commit against the latest version. Versions of one document
// form the contiguous sequence 1, 2, 3, ... and the document's content
// always equals its highest revision.
package revisions

import (
	"context"
	"errors"
	"time"
)

// BaselineVersion is the implicit version of a document that has no
// revision rows yet.
const BaselineVersion = 1

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 1000
)

var ErrDocumentNotFound = errors.New("document not found")

type Document struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	OwnerID   *int      `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OwnedBy reports whether userId owns the document.
func (d *Document) OwnedBy(userId int) bool {
	return d.OwnerID != nil && *d.OwnerID == userId
}

type Revision struct {
	DocumentID int       `json:"document_id"`
	Version    int       `json:"version"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

type Outcome int

const (
	Accepted Outcome = iota + 1
	Conflict
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// CommitResult is the outcome of a compare-and-commit. On Accepted, Version
// and Content describe the new revision. On Conflict they describe the
// current revision the caller was stale against.
type CommitResult struct {
	Outcome Outcome
	Version int
	Content string
}

type Store interface {
	CreateDocument(ctx context.Context, title, content string, ownerId *int) (*Document, error)
	Document(ctx context.Context, documentId int) (*Document, error)
	DeleteDocument(ctx context.Context, documentId int) error
	LatestVersion(ctx context.Context, documentId int) (int, error)
	Commit(ctx context.Context, documentId int, content string, expectedVersion int) (CommitResult, error)
	Revisions(ctx context.Context, documentId int, limit, offset int) ([]Revision, error)
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = DefaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
