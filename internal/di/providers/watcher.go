package providers

import (
	"context"
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-reader/internal/config"
	"github.com/listenupapp/listenup-reader/internal/service"
	"github.com/listenupapp/listenup-reader/internal/watcher"
)

// ImportWatcherHandle runs the import folder watcher. It is inert when no
// import directory is configured.
type ImportWatcherHandle struct {
	watcher *watcher.Watcher
	cancel  context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *ImportWatcherHandle) Shutdown() error {
	if h.watcher == nil {
		return nil
	}
	h.cancel()
	return h.watcher.Stop()
}

// ProvideImportWatcher watches the import directory and adds new EPUB files
// to the library.
func ProvideImportWatcher(i do.Injector) (*ImportWatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	library := do.MustInvoke[*service.LibraryService](i)

	if cfg.Data.ImportDir == "" {
		return &ImportWatcherHandle{}, nil
	}

	w, err := watcher.New(log.With("component", "watcher"), watcher.Options{})
	if err != nil {
		return nil, err
	}
	if err := w.Watch(cfg.Data.ImportDir); err != nil {
		_ = w.Stop()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	go w.Start(ctx)
	go service.NewFolderImporter(library, log).Run(ctx, w.Events())

	log.Info("watching import directory", "path", cfg.Data.ImportDir)
	return &ImportWatcherHandle{watcher: w, cancel: cancel}, nil
}
