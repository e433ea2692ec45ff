package shares

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	DB *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

func (s *PostgresStore) Resolve(ctx context.Context, token string) (Capability, error) {
	if token == "" {
		return Capability{}, ErrInvalidToken
	}
	var c Capability
	err := s.DB.QueryRowContext(ctx,
		"SELECT token, document_id, can_edit FROM shared_links WHERE token = $1", token,
	).Scan(&c.Token, &c.DocumentID, &c.CanEdit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Capability{}, ErrInvalidToken
		}
		return Capability{}, fmt.Errorf("failed to resolve share token: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Create(ctx context.Context, documentId int, canEdit bool, ownerId *int) (*ShareLink, error) {
	token, err := NewToken()
	if err != nil {
		return nil, err
	}

	var owner sql.NullInt64
	if ownerId != nil {
		owner = sql.NullInt64{Int64: int64(*ownerId), Valid: true}
	}

	link := ShareLink{Token: token, DocumentID: documentId, CanEdit: canEdit}
	err = s.DB.QueryRowContext(ctx, `
		INSERT INTO shared_links (token, document_id, can_edit, owner_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		token, documentId, canEdit, owner,
	).Scan(&link.ID, &link.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("error creating share link: %w", err)
	}
	if ownerId != nil {
		id := *ownerId
		link.OwnerID = &id
	}
	return &link, nil
}

const selectLink = "SELECT id, token, document_id, can_edit, owner_id, created_at FROM shared_links"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*ShareLink, error) {
	var link ShareLink
	var owner sql.NullInt64
	if err := row.Scan(&link.ID, &link.Token, &link.DocumentID, &link.CanEdit, &owner, &link.CreatedAt); err != nil {
		return nil, err
	}
	if owner.Valid {
		id := int(owner.Int64)
		link.OwnerID = &id
	}
	return &link, nil
}

func (s *PostgresStore) Get(ctx context.Context, token string) (*ShareLink, error) {
	link, err := scanLink(s.DB.QueryRowContext(ctx, selectLink+" WHERE token = $1", token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrShareNotFound
		}
		return nil, fmt.Errorf("error getting share link: %w", err)
	}
	return link, nil
}

func (s *PostgresStore) ListByDocument(ctx context.Context, documentId int) ([]ShareLink, error) {
	rows, err := s.DB.QueryContext(ctx, selectLink+" WHERE document_id = $1 ORDER BY id DESC", documentId)
	if err != nil {
		return nil, fmt.Errorf("error listing share links: %w", err)
	}
	defer rows.Close()

	links := []ShareLink{}
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share link: %w", err)
		}
		links = append(links, *link)
	}
	return links, rows.Err()
}

func (s *PostgresStore) ToggleEdit(ctx context.Context, token string) (*ShareLink, error) {
	link, err := scanLink(s.DB.QueryRowContext(ctx, `
		UPDATE shared_links SET can_edit = NOT can_edit WHERE token = $1
		RETURNING id, token, document_id, can_edit, owner_id, created_at`, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrShareNotFound
		}
		return nil, fmt.Errorf("error toggling share link: %w", err)
	}
	return link, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, token string) error {
	result, err := s.DB.ExecContext(ctx, "DELETE FROM shared_links WHERE token = $1", token)
	if err != nil {
		return fmt.Errorf("failed to revoke share link: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrShareNotFound
	}
	return nil
}
