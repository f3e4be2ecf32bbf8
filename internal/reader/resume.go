package reader

import (
	"context"
	"fmt"

	"github.com/listenupapp/listenup-reader/internal/domain"
)

// StoredResumePolicy resumes at the position stored for the chapter.
// A chapter already read to the end, and not the book's last read chapter,
// starts over from its title.
type StoredResumePolicy struct {
	library Library
}

// NewStoredResumePolicy creates a resume policy backed by library.
func NewStoredResumePolicy(library Library) *StoredResumePolicy {
	return &StoredResumePolicy{library: library}
}

// InitialPosition implements ResumePolicy.
func (p *StoredResumePolicy) InitialPosition(ctx context.Context, bookID string, chapterIndex int, chapter domain.Chapter) (domain.InitialPositionChapter, error) {
	book, err := p.library.GetBook(ctx, bookID)
	if err != nil {
		return domain.InitialPositionChapter{}, fmt.Errorf("get book: %w", err)
	}
	stored, err := p.library.GetChapter(ctx, chapter.URL)
	if err != nil {
		return domain.InitialPositionChapter{}, fmt.Errorf("get chapter: %w", err)
	}

	pos := domain.InitialPositionChapter{ChapterIndex: chapterIndex}
	if book.LastReadChapter == chapter.URL || !stored.Read {
		pos.ChapterItemPosition = stored.LastReadPosition
		pos.ChapterItemOffset = stored.LastReadOffset
	}
	return pos, nil
}
