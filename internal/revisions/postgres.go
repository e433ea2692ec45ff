package revisions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore persists documents and their revisions. Commit serializes
// writers of one document through a row lock on that document, so commits
// to different documents proceed in parallel.
type PostgresStore struct {
	DB *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

func (s *PostgresStore) CreateDocument(ctx context.Context, title, content string, ownerId *int) (*Document, error) {
	if title == "" {
		title = "Untitled"
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	doc := Document{Title: title, Content: content, OwnerID: copyInt(ownerId)}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO documents (title, content, owner_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		title, content, nullableInt(ownerId),
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("error creating document: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO document_revisions (document_id, version, content) VALUES ($1, $2, $3)",
		doc.ID, BaselineVersion, content)
	if err != nil {
		return nil, fmt.Errorf("error creating baseline revision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing transaction: %w", err)
	}
	return &doc, nil
}

func (s *PostgresStore) Document(ctx context.Context, documentId int) (*Document, error) {
	var doc Document
	var owner sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, title, content, owner_id, created_at, updated_at
		FROM documents WHERE id = $1`, documentId,
	).Scan(&doc.ID, &doc.Title, &doc.Content, &owner, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("error getting document: %w", err)
	}
	if owner.Valid {
		id := int(owner.Int64)
		doc.OwnerID = &id
	}
	return &doc, nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentId int) error {
	result, err := s.DB.ExecContext(ctx, "DELETE FROM documents WHERE id = $1", documentId)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *PostgresStore) LatestVersion(ctx context.Context, documentId int) (int, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM documents WHERE id = $1)", documentId).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("error checking document: %w", err)
	}
	if !exists {
		return 0, ErrDocumentNotFound
	}

	var latest sql.NullInt64
	err = s.DB.QueryRowContext(ctx, "SELECT MAX(version) FROM document_revisions WHERE document_id = $1", documentId).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("error reading latest version: %w", err)
	}
	if !latest.Valid {
		return BaselineVersion, nil
	}
	return int(latest.Int64), nil
}

func (s *PostgresStore) Commit(ctx context.Context, documentId int, content string, expectedVersion int) (CommitResult, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return CommitResult{}, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT content FROM documents WHERE id = $1 FOR UPDATE", documentId).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CommitResult{}, ErrDocumentNotFound
		}
		return CommitResult{}, fmt.Errorf("error locking document: %w", err)
	}

	var latest sql.NullInt64
	err = tx.QueryRowContext(ctx, "SELECT MAX(version) FROM document_revisions WHERE document_id = $1", documentId).Scan(&latest)
	if err != nil {
		return CommitResult{}, fmt.Errorf("error reading latest version: %w", err)
	}

	version := BaselineVersion
	if latest.Valid {
		version = int(latest.Int64)
	}
	if version != expectedVersion {
		return CommitResult{Outcome: Conflict, Version: version, Content: current}, nil
	}

	if !latest.Valid {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO document_revisions (document_id, version, content) VALUES ($1, $2, $3)",
			documentId, BaselineVersion, current)
		if err != nil {
			return CommitResult{}, fmt.Errorf("error creating baseline revision: %w", err)
		}
	}

	next := version + 1
	_, err = tx.ExecContext(ctx,
		"INSERT INTO document_revisions (document_id, version, content) VALUES ($1, $2, $3)",
		documentId, next, content)
	if err != nil {
		return CommitResult{}, fmt.Errorf("error creating revision: %w", err)
	}

	_, err = tx.ExecContext(ctx, "UPDATE documents SET content = $1, updated_at = NOW() WHERE id = $2", content, documentId)
	if err != nil {
		return CommitResult{}, fmt.Errorf("error updating document content: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return CommitResult{}, fmt.Errorf("error committing transaction: %w", err)
	}
	return CommitResult{Outcome: Accepted, Version: next, Content: content}, nil
}

func (s *PostgresStore) Revisions(ctx context.Context, documentId int, limit, offset int) ([]Revision, error) {
	limit, offset = normalizePage(limit, offset)

	if _, err := s.Document(ctx, documentId); err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT document_id, version, content, created_at
		FROM document_revisions WHERE document_id = $1
		ORDER BY version DESC LIMIT $2 OFFSET $3`, documentId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query revisions: %w", err)
	}
	defer rows.Close()

	revisions := []Revision{}
	for rows.Next() {
		var r Revision
		if err := rows.Scan(&r.DocumentID, &r.Version, &r.Content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		revisions = append(revisions, r)
	}
	return revisions, rows.Err()
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
