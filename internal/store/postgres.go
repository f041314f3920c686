package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned for lookups of documents that do not exist.
var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) (Document, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, title, content)
		VALUES ($1, $2, $3)
		RETURNING updated_at
	`, doc.ID, doc.Title, doc.Content).Scan(&doc.UpdatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns metadata only; content is omitted from listings.
func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, updated_at FROM documents ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, updated_at FROM documents WHERE id=$1
	`, id).Scan(&doc.ID, &doc.Title, &doc.Content, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// UpdateContent overwrites the document content wholesale. There is no
// version check: the last write to commit wins.
func (s *PostgresStore) UpdateContent(ctx context.Context, id, content string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET content=$1, updated_at=NOW() WHERE id=$2
	`, content, id)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendChatMessage(ctx context.Context, docID, username, message string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (document_id, username, message, created_at)
		VALUES ($1, $2, $3, $4)
	`, docID, username, message, at)
	if err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

// RecentChatMessages returns the newest limit messages for a document in
// chronological order.
func (s *PostgresStore) RecentChatMessages(ctx context.Context, docID string, limit int) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, username, message, created_at
		FROM chat_messages
		WHERE document_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, docID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent chat messages: %w", err)
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var msg ChatMessage
		if err := rows.Scan(&msg.ID, &msg.DocumentID, &msg.Username, &msg.Message, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent chat messages: %w", err)
	}
	return chronological(messages), nil
}

// chronological reverses a newest-first slice in place.
func chronological(messages []ChatMessage) []ChatMessage {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages
}
