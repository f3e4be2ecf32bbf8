package providers

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-reader/internal/cache"
	"github.com/listenupapp/listenup-reader/internal/config"
	"github.com/listenupapp/listenup-reader/internal/converter"
	"github.com/listenupapp/listenup-reader/internal/source"
)

const cacheGCInterval = 10 * time.Minute

// ChapterCacheHandle wraps the chapter body cache. Cache is nil when caching
// is disabled.
type ChapterCacheHandle struct {
	Cache  *cache.Cache
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *ChapterCacheHandle) Shutdown() error {
	if h.Cache == nil {
		return nil
	}
	h.cancel()
	return h.Cache.Close()
}

// ProvideChapterCache provides the badger chapter cache and starts its
// value log GC.
func ProvideChapterCache(i do.Injector) (*ChapterCacheHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	_ = do.MustInvoke[*DataLockHandle](i)

	if !cfg.Source.CacheEnabled {
		log.Info("chapter cache disabled")
		return &ChapterCacheHandle{}, nil
	}

	c, err := cache.Open(cache.Options{Path: cfg.Data.CachePath(), TTL: cfg.Source.CacheTTL, Logger: log})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	go c.RunGC(ctx, cacheGCInterval)

	return &ChapterCacheHandle{Cache: c, cancel: cancel}, nil
}

// SourceHandle wraps the chapter source router.
type SourceHandle struct {
	*source.Router
	http *source.HTTPSource
}

// Shutdown implements do.Shutdownable.
func (h *SourceHandle) Shutdown() error {
	h.http.Close()
	return nil
}

// ProvideSource provides the chapter source: web pages through the cache,
// local files and EPUB documents directly.
func ProvideSource(i do.Injector) (*SourceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	cacheHandle := do.MustInvoke[*ChapterCacheHandle](i)

	httpSource := source.NewHTTPSource(source.HTTPConfig{
		UserAgent:         cfg.Source.UserAgent,
		Timeout:           cfg.Source.Timeout,
		RequestsPerSecond: cfg.Source.RequestsPerSecond,
		Burst:             cfg.Source.Burst,
		Logger:            log,
	})

	// A nil *cache.Cache must not reach the router as a non-nil interface.
	var c source.Cache
	if cacheHandle.Cache != nil {
		c = cacheHandle.Cache
	}

	router := source.NewRouter(c, log).
		Handle(httpSource, true, "http", "https").
		Handle(source.NewFileSource(), false, "file").
		Handle(source.NewEPUBSource(), false, "epub")

	return &SourceHandle{Router: router, http: httpSource}, nil
}

// ProvideConverter provides the chapter text converter.
func ProvideConverter(do.Injector) (*converter.Converter, error) {
	return converter.New(), nil
}
