package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/store"
)

const chapterColumns = `url, book_id, idx, title, read, start_seen, end_seen, last_read_position, last_read_offset`

func scanChapter(scanner interface{ Scan(dest ...any) error }) (*domain.Chapter, error) {
	var (
		c                        domain.Chapter
		read, startSeen, endSeen int
	)
	err := scanner.Scan(
		&c.URL,
		&c.BookID,
		&c.Index,
		&c.Title,
		&read,
		&startSeen,
		&endSeen,
		&c.LastReadPosition,
		&c.LastReadOffset,
	)
	if err != nil {
		return nil, err
	}
	c.Read = read != 0
	c.StartSeen = startSeen != 0
	c.EndSeen = endSeen != 0
	return &c, nil
}

// AddChapters appends chapters to the end of a book's chapter list in one
// transaction. Index and BookID of the given chapters are assigned here.
func (s *Store) AddChapters(ctx context.Context, bookID string, chapters []domain.Chapter) error {
	if len(chapters) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add chapters: %w", err)
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(idx) + 1, 0) FROM chapters WHERE book_id = ?`, bookID).Scan(&next)
	if err != nil {
		return fmt.Errorf("next chapter index: %w", err)
	}

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM books WHERE id = ?`, bookID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check book: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chapters (`+chapterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chapter insert: %w", err)
	}
	defer stmt.Close()

	for i := range chapters {
		c := &chapters[i]
		if c.URL == "" {
			return fmt.Errorf("chapter %d has no url: %w", i, store.ErrInvalidInput)
		}
		c.BookID = bookID
		c.Index = next + i
		_, err := stmt.ExecContext(ctx,
			c.URL,
			c.BookID,
			c.Index,
			c.Title,
			boolInt(c.Read),
			boolInt(c.StartSeen),
			boolInt(c.EndSeen),
			c.LastReadPosition,
			c.LastReadOffset,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("chapter %s: %w", c.URL, store.ErrAlreadyExists)
		}
		if err != nil {
			return fmt.Errorf("insert chapter: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add chapters: %w", err)
	}

	s.emit(store.Event{Type: store.EventChaptersAdded, BookID: bookID})
	return nil
}

// GetChapter retrieves a chapter by URL.
func (s *Store) GetChapter(ctx context.Context, url string) (*domain.Chapter, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chapterColumns+` FROM chapters WHERE url = ?`, url)
	c, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chapter: %w", err)
	}
	return c, nil
}

// ListChapters returns a book's chapters in reading order.
func (s *Store) ListChapters(ctx context.Context, bookID string) ([]domain.Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chapterColumns+` FROM chapters
		WHERE book_id = ?
		ORDER BY idx`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	var chapters []domain.Chapter
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		chapters = append(chapters, *c)
	}
	return chapters, rows.Err()
}
