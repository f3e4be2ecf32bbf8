// Package di provides dependency injection configuration for the reader.
package di

import (
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-reader/internal/config"
	"github.com/listenupapp/listenup-reader/internal/di/providers"
	"github.com/listenupapp/listenup-reader/internal/service"
)

// NewContainer creates the DI container with all providers. Services are
// built lazily on first use, so CLI commands only open what they need.
func NewContainer(cfg *config.Config) *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.ProvideValue(injector, cfg)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideValidator)
	do.Provide(injector, providers.ProvideDataLock)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideChapterCache)
	do.Provide(injector, providers.ProvideSSEManager)

	// Reader collaborators
	do.Provide(injector, providers.ProvideSource)
	do.Provide(injector, providers.ProvideConverter)
	do.Provide(injector, providers.ProvideTranslation)

	// Business services
	do.Provide(injector, providers.ProvideLibraryService)
	do.Provide(injector, providers.ProvideSessionService)
	do.Provide(injector, providers.ProvideImportWatcher)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Library returns the library service, opening the store on first use.
func Library(injector do.Injector) (*service.LibraryService, error) {
	return do.Invoke[*service.LibraryService](injector)
}

// Serve starts the import folder watcher and the HTTP server, returning the
// server's handle.
func Serve(injector do.Injector) (*providers.HTTPServerHandle, error) {
	if _, err := do.Invoke[*providers.ImportWatcherHandle](injector); err != nil {
		return nil, err
	}
	return do.Invoke[*providers.HTTPServerHandle](injector)
}

// Logger returns the container's logger.
func Logger(injector do.Injector) *slog.Logger {
	return do.MustInvoke[*slog.Logger](injector)
}
