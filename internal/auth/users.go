package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
)

type User struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (int, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int) (*User, error)
}

type PostgresUserStore struct {
	DB *sql.DB
}

func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{DB: db}
}

func (s *PostgresUserStore) CreateUser(ctx context.Context, email, passwordHash string) (int, error) {
	var id int
	err := s.DB.QueryRowContext(ctx,
		"INSERT INTO users (email, password) VALUES ($1, $2) RETURNING id", email, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, ErrUserExists
		}
		return 0, fmt.Errorf("error creating user: %w", err)
	}
	return id, nil
}

func (s *PostgresUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	u := User{Email: email}
	err := s.DB.QueryRowContext(ctx, "SELECT id, password FROM users WHERE email = $1", email).Scan(&u.ID, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("error finding user: %w", err)
	}
	return &u, nil
}

func (s *PostgresUserStore) FindByID(ctx context.Context, id int) (*User, error) {
	u := User{ID: id}
	err := s.DB.QueryRowContext(ctx, "SELECT email, created_at FROM users WHERE id = $1", id).Scan(&u.Email, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("error finding user: %w", err)
	}
	return &u, nil
}

// MemoryUserStore backs owner accounts when the server runs without a
// database.
type MemoryUserStore struct {
	mu      sync.RWMutex
	nextID  int
	byID    map[int]*User
	byEmail map[string]*User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{byID: make(map[int]*User), byEmail: make(map[string]*User)}
}

func (m *MemoryUserStore) CreateUser(_ context.Context, email, passwordHash string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[email]; ok {
		return 0, ErrUserExists
	}
	m.nextID++
	u := &User{ID: m.nextID, Email: email, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}
	m.byID[u.ID] = u
	m.byEmail[email] = u
	return u.ID, nil
}

func (m *MemoryUserStore) FindByEmail(_ context.Context, email string) (*User, error) {
	return m.find(func() (*User, bool) {
		u, ok := m.byEmail[email]
		return u, ok
	})
}

func (m *MemoryUserStore) FindByID(_ context.Context, id int) (*User, error) {
	return m.find(func() (*User, bool) {
		u, ok := m.byID[id]
		return u, ok
	})
}

func (m *MemoryUserStore) find(lookup func() (*User, bool)) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := lookup()
	if !ok {
		return nil, ErrUserNotFound
	}
	out := *u
	return &out, nil
}
