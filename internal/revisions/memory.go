package revisions

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps documents in process memory. Commits to one document
// are serialized by that document's own lock, so unrelated documents never
// contend.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int
	docs   map[int]*memoryDocument
	now    func() time.Time
}

type memoryDocument struct {
	mu        sync.Mutex
	doc       Document
	revisions []Revision
	deleted   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[int]*memoryDocument),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) CreateDocument(_ context.Context, title, content string, ownerId *int) (*Document, error) {
	if title == "" {
		title = "Untitled"
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++

	entry := &memoryDocument{
		doc: Document{
			ID:        m.nextID,
			Title:     title,
			Content:   content,
			OwnerID:   copyInt(ownerId),
			CreatedAt: now,
			UpdatedAt: now,
		},
		revisions: []Revision{{DocumentID: m.nextID, Version: BaselineVersion, Content: content, CreatedAt: now}},
	}
	m.docs[entry.doc.ID] = entry

	doc := entry.doc
	return &doc, nil
}

func (m *MemoryStore) entry(documentId int) (*memoryDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.docs[documentId]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return e, nil
}

func (m *MemoryStore) Document(_ context.Context, documentId int) (*Document, error) {
	e, err := m.entry(documentId)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, ErrDocumentNotFound
	}
	doc := e.doc
	doc.OwnerID = copyInt(e.doc.OwnerID)
	return &doc, nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, documentId int) error {
	m.mu.Lock()
	e, ok := m.docs[documentId]
	delete(m.docs, documentId)
	m.mu.Unlock()
	if !ok {
		return ErrDocumentNotFound
	}

	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	return nil
}

func (m *MemoryStore) LatestVersion(_ context.Context, documentId int) (int, error) {
	e, err := m.entry(documentId)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return 0, ErrDocumentNotFound
	}
	return e.latestLocked(), nil
}

func (m *MemoryStore) Commit(_ context.Context, documentId int, content string, expectedVersion int) (CommitResult, error) {
	e, err := m.entry(documentId)
	if err != nil {
		return CommitResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return CommitResult{}, ErrDocumentNotFound
	}

	current := e.latestLocked()
	if current != expectedVersion {
		return CommitResult{Outcome: Conflict, Version: current, Content: e.doc.Content}, nil
	}

	now := m.now()
	next := current + 1
	e.revisions = append(e.revisions, Revision{DocumentID: documentId, Version: next, Content: content, CreatedAt: now})
	e.doc.Content = content
	e.doc.UpdatedAt = now

	return CommitResult{Outcome: Accepted, Version: next, Content: content}, nil
}

func (m *MemoryStore) Revisions(_ context.Context, documentId int, limit, offset int) ([]Revision, error) {
	e, err := m.entry(documentId)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, ErrDocumentNotFound
	}

	limit, offset = normalizePage(limit, offset)
	out := make([]Revision, 0, limit)
	for i := len(e.revisions) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.revisions[i])
	}
	return out, nil
}

func (e *memoryDocument) latestLocked() int {
	if len(e.revisions) == 0 {
		return BaselineVersion
	}
	return e.revisions[len(e.revisions)-1].Version
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
