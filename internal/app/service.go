package app

import (
	"context"
	"log"
	"net/http"
	"strings"

	"collabedit/api/internal/config"
	"collabedit/api/internal/presence"
	"collabedit/api/internal/store"
	"collabedit/api/internal/util"
)

// recentChatLimit is the window returned with a single document.
const recentChatLimit = 20

type dataStore interface {
	Ping(ctx context.Context) error
	InsertDocument(ctx context.Context, doc store.Document) (store.Document, error)
	ListDocuments(ctx context.Context) ([]store.Document, error)
	GetDocument(ctx context.Context, id string) (store.Document, error)
	RecentChatMessages(ctx context.Context, docID string, limit int) ([]store.ChatMessage, error)
}

type presenceView interface {
	Count(ctx context.Context, docID string) (int64, error)
	Ping(ctx context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	presence presenceView
}

func New(cfg config.Config, dataStore *store.PostgresStore, registry *presence.Registry) *Service {
	return &Service{cfg: cfg, store: dataStore, presence: registry}
}

// DocumentSummary is a listing row: document metadata plus the live count
// of participants currently present.
type DocumentSummary struct {
	Document    store.Document
	ActiveUsers int64
}

func (s *Service) CreateDocument(ctx context.Context, title string) (store.Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Document{}, domainError(http.StatusBadRequest, "TITLE_REQUIRED", "Title is required", nil)
	}
	doc := store.Document{
		ID:    util.NewID("doc"),
		Title: title,
	}
	return s.store.InsertDocument(ctx, doc)
}

// ListDocuments enriches each document with its active-user count. A
// registry failure degrades the count to zero instead of failing the
// listing.
func (s *Service) ListDocuments(ctx context.Context) ([]DocumentSummary, error) {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]DocumentSummary, 0, len(docs))
	for _, doc := range docs {
		count, err := s.presence.Count(ctx, doc.ID)
		if err != nil {
			log.Printf("active user count failed for %s: %v", doc.ID, err)
			count = 0
		}
		summaries = append(summaries, DocumentSummary{Document: doc, ActiveUsers: count})
	}
	return summaries, nil
}

// GetDocument returns the document and its most recent chat messages in
// chronological order.
func (s *Service) GetDocument(ctx context.Context, id string) (store.Document, []store.ChatMessage, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return store.Document{}, nil, err
	}
	chat, err := s.store.RecentChatMessages(ctx, id, recentChatLimit)
	if err != nil {
		return store.Document{}, nil, err
	}
	return doc, chat, nil
}

// Login is the stub login: it echoes a non-empty username back. There is
// no credential check by design.
func (s *Service) Login(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", domainError(http.StatusBadRequest, "USERNAME_REQUIRED", "Username required", nil)
	}
	return username, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingPresence(ctx context.Context) error {
	return s.presence.Ping(ctx)
}
