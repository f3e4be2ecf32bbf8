package service

import (
	"context"
	"log/slog"

	"github.com/listenupapp/listenup-reader/internal/errors"
	"github.com/listenupapp/listenup-reader/internal/watcher"
)

// FolderImporter adds EPUB files reported by a watcher to the library.
type FolderImporter struct {
	library *LibraryService
	logger  *slog.Logger
}

// NewFolderImporter creates an importer backed by library.
func NewFolderImporter(library *LibraryService, logger *slog.Logger) *FolderImporter {
	return &FolderImporter{library: library, logger: logger}
}

// Run imports each reported file until ctx is done.
func (f *FolderImporter) Run(ctx context.Context, events <-chan watcher.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			f.importFile(ctx, ev.Path)
		}
	}
}

func (f *FolderImporter) importFile(ctx context.Context, path string) {
	book, err := f.library.ImportEPUB(ctx, path)
	switch {
	case err == nil:
		f.logger.Info("imported book from folder", "path", path, "book_id", book.ID, "title", book.Title)
	case errors.Is(err, errors.ErrAlreadyExists):
		f.logger.Debug("book already in library", "path", path)
	case ctx.Err() != nil:
	default:
		f.logger.Warn("failed to import book", "path", path, "error", err)
	}
}
