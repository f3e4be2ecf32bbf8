// Package service holds the application services behind the CLI and the HTTP
// API: the book library and the live reader sessions.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	sfuzzy "github.com/sahilm/fuzzy"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/errors"
	"github.com/listenupapp/listenup-reader/internal/source"
	"github.com/listenupapp/listenup-reader/internal/store"
	"github.com/listenupapp/listenup-reader/internal/validation"
)

// ChapterInput describes a chapter to add to a book.
type ChapterInput struct {
	URL   string `json:"url" validate:"required,chapterurl"`
	Title string `json:"title" validate:"max=500"`
}

// CreateBookRequest creates a book with its chapter list.
type CreateBookRequest struct {
	Title    string         `json:"title" validate:"required,max=500"`
	URL      string         `json:"url" validate:"required,chapterurl"`
	CoverURL string         `json:"cover_url" validate:"omitempty,url"`
	Chapters []ChapterInput `json:"chapters" validate:"dive"`
}

// ChapterMatch is a chapter search hit. MatchedIndexes are byte offsets of
// the matched characters in the chapter title.
type ChapterMatch struct {
	Chapter        domain.Chapter `json:"chapter"`
	MatchedIndexes []int          `json:"matched_indexes"`
	Score          int            `json:"score"`
}

// chapterIndex implements sahilm/fuzzy.Source over chapter titles.
type chapterIndex struct {
	chapters    []domain.Chapter
	lowerTitles []string
}

func (idx *chapterIndex) String(i int) string { return idx.lowerTitles[i] }

func (idx *chapterIndex) Len() int { return len(idx.chapters) }

// LibraryService manages books and their chapter lists.
type LibraryService struct {
	store     store.Store
	validator *validation.Validator
	logger    *slog.Logger
}

// NewLibraryService creates a new library service.
func NewLibraryService(store store.Store, validator *validation.Validator, logger *slog.Logger) *LibraryService {
	return &LibraryService{
		store:     store,
		validator: validator,
		logger:    logger,
	}
}

// CreateBook validates req and stores the book with its chapters.
func (s *LibraryService) CreateBook(ctx context.Context, req CreateBookRequest) (*domain.Book, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	book := &domain.Book{
		Title:    strings.TrimSpace(req.Title),
		URL:      req.URL,
		CoverURL: req.CoverURL,
	}
	if err := s.store.CreateBook(ctx, book); err != nil {
		return nil, fmt.Errorf("create book: %w", err)
	}

	if len(req.Chapters) > 0 {
		chapters := make([]domain.Chapter, len(req.Chapters))
		for i, c := range req.Chapters {
			title := strings.TrimSpace(c.Title)
			if title == "" {
				title = fmt.Sprintf("Chapter %d", i+1)
			}
			chapters[i] = domain.Chapter{URL: c.URL, Title: title}
		}
		if err := s.store.AddChapters(ctx, book.ID, chapters); err != nil {
			if delErr := s.store.DeleteBook(ctx, book.ID); delErr != nil {
				s.logger.Error("failed to remove partially created book", "book_id", book.ID, "error", delErr)
			}
			return nil, fmt.Errorf("add chapters: %w", err)
		}
	}

	s.logger.Info("book created", "book_id", book.ID, "title", book.Title, "chapters", len(req.Chapters))
	return book, nil
}

// ImportEPUB adds the EPUB at path to the library, one chapter per spine
// document with text. Importing the same file twice returns
// errors.ErrAlreadyExists.
func (s *LibraryService) ImportEPUB(ctx context.Context, path string) (*domain.Book, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	epub, err := source.ReadEPUB(abs)
	if err != nil {
		return nil, err
	}
	if len(epub.Chapters) == 0 {
		return nil, errors.Unsupportedf("epub %s has no readable chapters", path)
	}

	req := CreateBookRequest{
		Title: epub.Title,
		URL:   source.EPUBURL(abs, ""),
	}
	for _, c := range epub.Chapters {
		req.Chapters = append(req.Chapters, ChapterInput{URL: c.URL, Title: c.Title})
	}

	book, err := s.CreateBook(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.Info("imported epub", "path", abs, "author", epub.Author)
	return book, nil
}

// GetBook returns a book by id.
func (s *LibraryService) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	book, err := s.store.GetBook(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get book %s: %w", id, err)
	}
	return book, nil
}

// ListBooks returns one page of the library.
func (s *LibraryService) ListBooks(ctx context.Context, params store.PaginationParams) (*store.PaginatedResult[*domain.Book], error) {
	return s.store.ListBooks(ctx, params)
}

// DeleteBook removes a book and its chapters.
func (s *LibraryService) DeleteBook(ctx context.Context, id string) error {
	if err := s.store.DeleteBook(ctx, id); err != nil {
		return fmt.Errorf("delete book %s: %w", id, err)
	}
	s.logger.Info("book deleted", "book_id", id)
	return nil
}

// ListChapters returns a book's chapters in reading order.
func (s *LibraryService) ListChapters(ctx context.Context, bookID string) ([]domain.Chapter, error) {
	if _, err := s.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	return s.store.ListChapters(ctx, bookID)
}

// ResumeChapter returns the chapter a reader should open for the book: the
// last read chapter, or the first one.
func (s *LibraryService) ResumeChapter(ctx context.Context, bookID string) (*domain.Chapter, error) {
	book, err := s.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	chapters, err := s.store.ListChapters(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if len(chapters) == 0 {
		return nil, errors.NotFoundf("book %s has no chapters", bookID)
	}
	if i := domain.IndexOfChapter(chapters, book.LastReadChapter); i >= 0 {
		return &chapters[i], nil
	}
	return &chapters[0], nil
}

// SearchChapters fuzzy-matches query against the book's chapter titles,
// best match first. An empty query returns every chapter in order.
func (s *LibraryService) SearchChapters(ctx context.Context, bookID, query string) ([]ChapterMatch, error) {
	chapters, err := s.ListChapters(ctx, bookID)
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		out := make([]ChapterMatch, len(chapters))
		for i, c := range chapters {
			out[i] = ChapterMatch{Chapter: c}
		}
		return out, nil
	}

	idx := &chapterIndex{chapters: chapters, lowerTitles: make([]string, len(chapters))}
	for i, c := range chapters {
		idx.lowerTitles[i] = strings.ToLower(c.Title)
	}

	matches := sfuzzy.FindFrom(query, idx)
	out := make([]ChapterMatch, len(matches))
	for i, m := range matches {
		out[i] = ChapterMatch{
			Chapter:        idx.chapters[m.Index],
			MatchedIndexes: m.MatchedIndexes,
			Score:          m.Score,
		}
	}
	return out, nil
}

// SearchBooks ranks library books whose title contains the query's letters
// in order, closest title first.
func (s *LibraryService) SearchBooks(ctx context.Context, query string) ([]*domain.Book, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	var books []*domain.Book
	params := store.PaginationParams{Limit: store.MaxPageSize}
	for {
		page, err := s.store.ListBooks(ctx, params)
		if err != nil {
			return nil, err
		}
		books = append(books, page.Items...)
		if !page.HasMore {
			break
		}
		params.Cursor = page.NextCursor
	}

	titles := make([]string, len(books))
	for i, b := range books {
		titles[i] = b.Title
	}
	ranks := fuzzy.RankFindNormalizedFold(query, titles)
	slices.SortStableFunc(ranks, func(a, b fuzzy.Rank) int {
		if a.Distance != b.Distance {
			return a.Distance - b.Distance
		}
		return a.OriginalIndex - b.OriginalIndex
	})

	out := make([]*domain.Book, len(ranks))
	for i, r := range ranks {
		out[i] = books[r.OriginalIndex]
	}
	return out, nil
}
