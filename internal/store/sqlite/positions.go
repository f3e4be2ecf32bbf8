package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/store"
)

// SavePosition records newState as the book's reading position. The book's
// last-read chapter, the vacated chapter row (when oldState is non-nil) and
// the new chapter row change in one transaction.
func (s *Store) SavePosition(ctx context.Context, bookID string, newState domain.ChapterState, oldState *domain.ChapterState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save position: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE books SET last_read_chapter = ?, updated_at = ?
		WHERE id = ?`,
		newState.ChapterURL, formatTime(time.Now()), bookID)
	if err != nil {
		return fmt.Errorf("update book position: %w", err)
	}
	if err := requireRow(result, "book "+bookID); err != nil {
		return err
	}

	if oldState != nil && oldState.ChapterURL != newState.ChapterURL {
		if _, err := updateChapterPosition(ctx, tx, *oldState); err != nil {
			return err
		}
	}

	result, err = updateChapterPosition(ctx, tx, newState)
	if err != nil {
		return err
	}
	if err := requireRow(result, "chapter "+newState.ChapterURL); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save position: %w", err)
	}

	s.emit(store.Event{Type: store.EventPositionSaved, BookID: bookID, ChapterURL: newState.ChapterURL})
	return nil
}

func updateChapterPosition(ctx context.Context, tx *sql.Tx, state domain.ChapterState) (sql.Result, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE chapters SET last_read_position = ?, last_read_offset = ?
		WHERE url = ?`,
		state.ChapterItemPosition, state.Offset, state.ChapterURL)
	if err != nil {
		return nil, fmt.Errorf("update chapter position: %w", err)
	}
	return result, nil
}

// MarkChapterStartSeen records that the chapter's first paragraph was reached.
func (s *Store) MarkChapterStartSeen(ctx context.Context, chapterURL string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE chapters SET start_seen = 1 WHERE url = ?`, chapterURL)
	if err != nil {
		return fmt.Errorf("mark chapter start: %w", err)
	}
	return requireRow(result, "chapter "+chapterURL)
}

// MarkChapterEndSeen records that the chapter's last paragraph was reached
// and marks the chapter read. Reaching the end of the book's last chapter
// completes the book.
func (s *Store) MarkChapterEndSeen(ctx context.Context, chapterURL string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark chapter end: %w", err)
	}
	defer tx.Rollback()

	var bookID string
	var idx int
	err = tx.QueryRowContext(ctx, `SELECT book_id, idx FROM chapters WHERE url = ?`, chapterURL).Scan(&bookID, &idx)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("chapter %s: %w", chapterURL, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get chapter: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chapters SET end_seen = 1, read = 1 WHERE url = ?`, chapterURL); err != nil {
		return fmt.Errorf("mark chapter end: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE books SET completed = 1, updated_at = ?
		WHERE id = ? AND ? = (SELECT MAX(idx) FROM chapters WHERE book_id = ?)`,
		formatTime(time.Now()), bookID, idx, bookID)
	if err != nil {
		return fmt.Errorf("complete book: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark chapter end: %w", err)
	}

	s.emit(store.Event{Type: store.EventChapterRead, BookID: bookID, ChapterURL: chapterURL})
	return nil
}

func requireRow(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}
