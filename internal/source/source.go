// Package source fetches chapter bodies. Router picks a source by url scheme
// and answers from the chapter cache before touching the network.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/listenupapp/listenup-reader/internal/cache"
	appErrors "github.com/listenupapp/listenup-reader/internal/errors"
	"github.com/listenupapp/listenup-reader/internal/reader"
)

// Fetcher fetches one kind of chapter url.
type Fetcher interface {
	Fetch(ctx context.Context, chapterURL string) (reader.ChapterBody, error)
}

// Cache is the chapter body cache the router consults.
type Cache interface {
	Get(url string) (cache.Entry, error)
	Put(url string, entry cache.Entry) error
}

// Router dispatches chapter urls to fetchers by scheme.
type Router struct {
	cache    Cache
	fetchers map[string]Fetcher
	cached   map[string]bool
	logger   *slog.Logger
}

// NewRouter creates a router. A nil cache disables caching.
func NewRouter(c Cache, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cache:    c,
		fetchers: make(map[string]Fetcher),
		cached:   make(map[string]bool),
		logger:   logger.With("component", "chapter_source"),
	}
}

// Handle registers f for the given schemes. Bodies fetched by a cached
// fetcher are stored in the chapter cache.
func (r *Router) Handle(f Fetcher, cached bool, schemes ...string) *Router {
	for _, s := range schemes {
		r.fetchers[s] = f
		r.cached[s] = cached
	}
	return r
}

// Fetch implements reader.BodySource.
func (r *Router) Fetch(ctx context.Context, chapterURL string) (reader.ChapterBody, error) {
	scheme, err := schemeOf(chapterURL)
	if err != nil {
		return reader.ChapterBody{}, err
	}
	f, ok := r.fetchers[scheme]
	if !ok {
		return reader.ChapterBody{}, appErrors.Unsupportedf("no source handles %q urls", scheme)
	}

	useCache := r.cache != nil && r.cached[scheme]
	if useCache {
		entry, err := r.cache.Get(chapterURL)
		switch {
		case err == nil:
			r.logger.Debug("chapter cache hit", "chapter_url", chapterURL)
			return reader.ChapterBody{Body: entry.Body, Title: entry.Title}, nil
		case !errors.Is(err, cache.ErrMiss):
			r.logger.Warn("chapter cache read failed", "chapter_url", chapterURL, "error", err)
		}
	}

	start := time.Now()
	body, err := f.Fetch(ctx, chapterURL)
	if err != nil {
		return reader.ChapterBody{}, err
	}
	r.logger.Debug("chapter fetched", "chapter_url", chapterURL, "duration", time.Since(start))

	if useCache {
		if err := r.cache.Put(chapterURL, cache.Entry{Title: body.Title, Body: body.Body}); err != nil {
			r.logger.Warn("chapter cache write failed", "chapter_url", chapterURL, "error", err)
		}
	}
	return body, nil
}

func schemeOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", appErrors.Unsupportedf("malformed chapter url %q", raw).WithCause(err)
	}
	if u.Scheme == "" {
		return "", appErrors.Unsupportedf("chapter url %q has no scheme", raw)
	}
	return strings.ToLower(u.Scheme), nil
}

// errorf wraps a fetch failure with the chapter url.
func errorf(chapterURL string, err error) error {
	return fmt.Errorf("fetch %s: %w", chapterURL, err)
}
