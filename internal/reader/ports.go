package reader

import (
	"context"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/feed"
	"github.com/listenupapp/listenup-reader/internal/tts"
)

// ChapterBody is the raw text of a chapter as returned by a BodySource.
type ChapterBody struct {
	Body  string
	Title string
}

// BodySource fetches chapter bodies, cache first.
type BodySource interface {
	Fetch(ctx context.Context, chapterURL string) (ChapterBody, error)
}

// Converter turns chapter text into ordered items. Positions start at startPosition.
type Converter interface {
	Convert(chapterURL string, chapterIndex, startPosition int, text string) []domain.Item
}

// Translator rewrites text when active. Translate never fails: it reports false
// and the caller keeps the original text.
type Translator interface {
	IsActive() bool
	SourceLanguage() string
	TargetLanguage() string
	Translate(ctx context.Context, text string) (string, bool)
}

// ResumePolicy decides where an initial load lands inside its chapter.
type ResumePolicy interface {
	InitialPosition(ctx context.Context, bookID string, chapterIndex int, chapter domain.Chapter) (domain.InitialPositionChapter, error)
}

// PositionRepository persists reading positions.
type PositionRepository interface {
	// SavePosition records newState as the book's position. When oldState is
	// non-nil its chapter row is updated in the same transaction.
	SavePosition(ctx context.Context, bookID string, newState domain.ChapterState, oldState *domain.ChapterState) error
	MarkChapterStartSeen(ctx context.Context, chapterURL string) error
	MarkChapterEndSeen(ctx context.Context, chapterURL string) error
}

// Library is the read side a session needs at construction time.
type Library interface {
	GetBook(ctx context.Context, id string) (*domain.Book, error)
	GetChapter(ctx context.Context, url string) (*domain.Chapter, error)
	ListChapters(ctx context.Context, bookID string) ([]domain.Chapter, error)
}

// SpeechEngine synthesizes utterances in the order they are queued and reports
// progress through Progress. Speak must not block on synthesis.
type SpeechEngine interface {
	Speak(ctx context.Context, id, text string) error
	Flush() error
	SetVoice(voice string) error
	SetSpeed(speed float64) error
	SetPitch(pitch float64) error
	Progress() *feed.Feed[tts.Progress]
}
