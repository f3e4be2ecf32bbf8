package providers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofrs/flock"
	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-reader/internal/config"
	"github.com/listenupapp/listenup-reader/internal/sse"
	"github.com/listenupapp/listenup-reader/internal/store/sqlite"
)

// DataLockHandle holds the exclusive lock on the data directory.
type DataLockHandle struct {
	*flock.Flock
}

// Shutdown implements do.Shutdownable.
func (h *DataLockHandle) Shutdown() error {
	return h.Unlock()
}

// ProvideDataLock locks the data directory so that one process at a time
// owns the library database and caches.
func ProvideDataLock(i do.Injector) (*DataLockHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	lock := flock.New(cfg.Data.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock data directory: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("data directory %s is in use by another reader process", cfg.Data.Dir)
	}
	return &DataLockHandle{Flock: lock}, nil
}

// StoreHandle wraps the store with shutdown capability.
type StoreHandle struct {
	*sqlite.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the library database.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	_ = do.MustInvoke[*DataLockHandle](i)

	st, err := sqlite.Open(cfg.Data.DatabasePath(), log)
	if err != nil {
		return nil, err
	}
	return &StoreHandle{Store: st}, nil
}

// SSEManagerHandle wraps the SSE manager with its context for lifecycle management.
type SSEManagerHandle struct {
	*sse.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SSEManagerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := h.Manager.Shutdown(ctx)
	h.cancel()
	return err
}

// ProvideSSEManager provides the server-sent events manager and routes the
// store's change events through it.
func ProvideSSEManager(i do.Injector) (*SSEManagerHandle, error) {
	log := do.MustInvoke[*slog.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	manager := sse.NewManager(log)

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)

	storeHandle.SetEmitter(manager.LibraryEmitter())

	return &SSEManagerHandle{Manager: manager, cancel: cancel}, nil
}
