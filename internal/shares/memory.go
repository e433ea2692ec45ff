package shares

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu     sync.RWMutex
	nextID int
	links  map[string]*ShareLink
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{links: make(map[string]*ShareLink)}
}

func (m *MemoryStore) Resolve(_ context.Context, token string) (Capability, error) {
	if token == "" {
		return Capability{}, ErrInvalidToken
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	link, ok := m.links[token]
	if !ok {
		return Capability{}, ErrInvalidToken
	}
	return link.Capability(), nil
}

func (m *MemoryStore) Create(_ context.Context, documentId int, canEdit bool, ownerId *int) (*ShareLink, error) {
	token, err := NewToken()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	link := &ShareLink{
		ID:         m.nextID,
		Token:      token,
		DocumentID: documentId,
		CanEdit:    canEdit,
		CreatedAt:  time.Now().UTC(),
	}
	if ownerId != nil {
		id := *ownerId
		link.OwnerID = &id
	}
	m.links[token] = link

	out := *link
	return &out, nil
}

func (m *MemoryStore) Get(_ context.Context, token string) (*ShareLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	link, ok := m.links[token]
	if !ok {
		return nil, ErrShareNotFound
	}
	out := *link
	return &out, nil
}

func (m *MemoryStore) ListByDocument(_ context.Context, documentId int) ([]ShareLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []ShareLink{}
	for _, link := range m.links {
		if link.DocumentID == documentId {
			out = append(out, *link)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) ToggleEdit(_ context.Context, token string) (*ShareLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[token]
	if !ok {
		return nil, ErrShareNotFound
	}
	link.CanEdit = !link.CanEdit
	out := *link
	return &out, nil
}

func (m *MemoryStore) Revoke(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.links[token]; !ok {
		return ErrShareNotFound
	}
	delete(m.links, token)
	return nil
}
