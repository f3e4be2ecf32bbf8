package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/id"
	"github.com/listenupapp/listenup-reader/internal/store"
)

// bookColumns must match the scan order in scanBook.
const bookColumns = `id, title, url, cover_url, last_read_chapter, completed, created_at, updated_at`

func scanBook(scanner interface{ Scan(dest ...any) error }) (*domain.Book, error) {
	var (
		b         domain.Book
		coverURL  sql.NullString
		lastRead  sql.NullString
		completed int
		createdAt string
		updatedAt string
	)
	err := scanner.Scan(&b.ID, &b.Title, &b.URL, &coverURL, &lastRead, &completed, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	b.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	b.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	b.CoverURL = coverURL.String
	b.LastReadChapter = lastRead.String
	b.Completed = completed != 0
	return &b, nil
}

// CreateBook inserts a book. An empty ID is filled with a sortable id.
// Returns store.ErrAlreadyExists when a book with the same URL exists.
func (s *Store) CreateBook(ctx context.Context, book *domain.Book) error {
	if book.Title == "" || book.URL == "" {
		return fmt.Errorf("create book: title and url are required: %w", store.ErrInvalidInput)
	}
	if book.ID == "" {
		book.ID = id.Sortable(id.PrefixBook)
	}
	now := time.Now()
	if book.CreatedAt.IsZero() {
		book.CreatedAt = now
	}
	book.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (`+bookColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		book.ID,
		book.Title,
		book.URL,
		nullString(book.CoverURL),
		nullString(book.LastReadChapter),
		boolInt(book.Completed),
		formatTime(book.CreatedAt),
		formatTime(book.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}

	s.emit(store.Event{Type: store.EventBookCreated, BookID: book.ID})
	return nil
}

// GetBook retrieves a book by ID.
func (s *Store) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get book %s: %w", id, err)
	}
	return b, nil
}

// GetBookByURL retrieves a book by its source URL.
func (s *Store) GetBookByURL(ctx context.Context, url string) (*domain.Book, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE url = ?`, url)
	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get book by url: %w", err)
	}
	return b, nil
}

// ListBooks returns books ordered by id, which is creation order for
// generated ids.
func (s *Store) ListBooks(ctx context.Context, params store.PaginationParams) (*store.PaginatedResult[*domain.Book], error) {
	params.Normalize()
	after, err := store.DecodeCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bookColumns+` FROM books
		WHERE id > ?
		ORDER BY id
		LIMIT ?`, after, params.Limit+1)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	books := make([]*domain.Book, 0, params.Limit)
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}

	result := &store.PaginatedResult[*domain.Book]{Items: books}
	if len(books) > params.Limit {
		result.Items = books[:params.Limit]
		result.HasMore = true
		result.NextCursor = store.EncodeCursor(result.Items[params.Limit-1].ID)
	}
	return result, nil
}

// DeleteBook removes a book and its chapters.
func (s *Store) DeleteBook(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}

	s.emit(store.Event{Type: store.EventBookDeleted, BookID: id})
	return nil
}
