// Package translation turns chapter text into a target language through a
// remote backend, caching every result.
package translation

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/language"

	"github.com/listenupapp/listenup-reader/internal/errors"
)

// Manager holds a session's translation toggle and language pair. It never
// fails a translation: errors are logged and the caller keeps its text.
type Manager struct {
	backend Backend
	cache   *Cache
	logger  *slog.Logger

	mu        sync.RWMutex
	active    bool
	source    string
	target    string
	supported map[string][]string
}

// NewManager creates an inactive manager. backend may be nil, in which case
// translation can never be enabled.
func NewManager(backend Backend, cache *Cache, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend: backend,
		cache:   cache,
		logger:  logger,
	}
}

// Init loads the backend's language list. Failure leaves the list unknown
// and every well-formed language pair is accepted.
func (m *Manager) Init(ctx context.Context) error {
	if m.backend == nil {
		return nil
	}
	langs, err := m.backend.Languages(ctx)
	if err != nil {
		m.logger.Warn("failed to load translation languages", "error", err)
		return nil
	}

	supported := make(map[string][]string, len(langs))
	for _, l := range langs {
		supported[l.Code] = l.Targets
	}

	m.mu.Lock()
	m.supported = supported
	m.mu.Unlock()
	return nil
}

// Languages returns the known language codes, empty until Init succeeds.
func (m *Manager) Languages() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.supported))
	for code := range m.supported {
		out = append(out, code)
	}
	return out
}

// Configure sets the toggle and language pair. Codes are BCP 47 tags and
// are stored in canonical form.
func (m *Manager) Configure(active bool, source, target string) error {
	if !active {
		m.mu.Lock()
		m.active = false
		m.mu.Unlock()
		return nil
	}
	if m.backend == nil {
		return errors.Validation("translation backend is not configured")
	}

	src, err := canonical(source)
	if err != nil {
		return err
	}
	dst, err := canonical(target)
	if err != nil {
		return err
	}
	if src == dst {
		return errors.Validationf("source and target language are both %q", src)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.supported != nil {
		targets, ok := m.supported[src]
		if !ok {
			return errors.Validationf("source language %q is not supported", src)
		}
		if len(targets) > 0 && !slices.Contains(targets, dst) {
			return errors.Validationf("cannot translate from %q to %q", src, dst)
		}
	}
	m.active = true
	m.source = src
	m.target = dst
	return nil
}

// IsActive reports whether translation is enabled.
func (m *Manager) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// SourceLanguage returns the configured source language.
func (m *Manager) SourceLanguage() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.source
}

// TargetLanguage returns the configured target language.
func (m *Manager) TargetLanguage() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.target
}

// Translate returns text in the target language, false when inactive or
// when the backend fails.
func (m *Manager) Translate(ctx context.Context, text string) (string, bool) {
	m.mu.RLock()
	active, src, dst := m.active, m.source, m.target
	m.mu.RUnlock()

	if !active || strings.TrimSpace(text) == "" {
		return "", false
	}

	if m.cache != nil {
		if out, ok := m.cache.Get(src, dst, text); ok {
			return out, true
		}
	}

	out, err := m.backend.Translate(ctx, src, dst, text)
	if err != nil {
		m.logger.Debug("translation failed", "source", src, "target", dst, "error", err)
		return "", false
	}

	if m.cache != nil {
		if err := m.cache.Put(src, dst, text, out); err != nil {
			m.logger.Warn("failed to cache translation", "error", err)
		}
	}
	return out, true
}

func canonical(code string) (string, error) {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return "", errors.Validationf("invalid language %q", code)
	}
	return tag.String(), nil
}
