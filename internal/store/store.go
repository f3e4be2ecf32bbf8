// Package store defines the persistence interface for the reader library:
// books, their chapter lists and reading positions.
package store

import (
	"context"

	"github.com/listenupapp/listenup-reader/internal/domain"
)

// Store is implemented by the SQLite store.
type Store interface {
	Close() error
	SetEmitter(emitter EventEmitter)

	// Books
	CreateBook(ctx context.Context, book *domain.Book) error
	GetBook(ctx context.Context, id string) (*domain.Book, error)
	GetBookByURL(ctx context.Context, url string) (*domain.Book, error)
	ListBooks(ctx context.Context, params PaginationParams) (*PaginatedResult[*domain.Book], error)
	DeleteBook(ctx context.Context, id string) error

	// Chapters
	AddChapters(ctx context.Context, bookID string, chapters []domain.Chapter) error
	GetChapter(ctx context.Context, url string) (*domain.Chapter, error)
	ListChapters(ctx context.Context, bookID string) ([]domain.Chapter, error)

	// Positions
	SavePosition(ctx context.Context, bookID string, newState domain.ChapterState, oldState *domain.ChapterState) error
	MarkChapterStartSeen(ctx context.Context, chapterURL string) error
	MarkChapterEndSeen(ctx context.Context, chapterURL string) error
}

// Event types emitted after a write commits.
const (
	EventBookCreated   = "book.created"
	EventBookDeleted   = "book.deleted"
	EventChaptersAdded = "chapters.added"
	EventPositionSaved = "position.saved"
	EventChapterRead   = "chapter.read"
)

// Event describes a committed library change.
type Event struct {
	Type       string `json:"type"`
	BookID     string `json:"book_id,omitempty"`
	ChapterURL string `json:"chapter_url,omitempty"`
}

// EventEmitter receives library changes. The store calls it outside of
// any transaction.
type EventEmitter interface {
	Emit(event Event)
}

// NoopEmitter discards events.
type NoopEmitter struct{}

// Emit implements EventEmitter.
func (NoopEmitter) Emit(Event) {}
