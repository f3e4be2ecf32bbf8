package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/listenupapp/listenup-reader/internal/errors"
	"github.com/listenupapp/listenup-reader/internal/ratelimit"
	"github.com/listenupapp/listenup-reader/internal/reader"
)

const (
	defaultUserAgent = "listenup-reader/1.0"
	maxPageBytes     = 8 << 20
)

// HTTPConfig configures an HTTPSource.
type HTTPConfig struct {
	UserAgent string
	Timeout   time.Duration
	// RequestsPerSecond limits requests per host. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	Client            *http.Client // optional
	Logger            *slog.Logger
}

// HTTPSource downloads chapter pages and extracts their text.
type HTTPSource struct {
	client    *http.Client
	limiter   *ratelimit.KeyedRateLimiter
	userAgent string
	logger    *slog.Logger
}

// NewHTTPSource creates an HTTP chapter source.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSource{
		client:    client,
		limiter:   ratelimit.New(cfg.RequestsPerSecond, cfg.Burst),
		userAgent: ua,
		logger:    logger.With("component", "http_source"),
	}
}

// Close stops the per-host limiter.
func (s *HTTPSource) Close() {
	s.limiter.Stop()
}

// Fetch downloads chapterURL and returns its readable text.
func (s *HTTPSource) Fetch(ctx context.Context, chapterURL string) (reader.ChapterBody, error) {
	u, err := url.Parse(chapterURL)
	if err != nil {
		return reader.ChapterBody{}, errors.Unsupportedf("malformed chapter url %q", chapterURL).WithCause(err)
	}
	if err := s.limiter.Wait(ctx, u.Host); err != nil {
		return reader.ChapterBody{}, errorf(chapterURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, chapterURL, nil)
	if err != nil {
		return reader.ChapterBody{}, errorf(chapterURL, err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return reader.ChapterBody{}, errors.Unreachablef("fetch %s", chapterURL).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return reader.ChapterBody{}, errors.Unreachablef("fetch %s: unexpected status %d", chapterURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return reader.ChapterBody{}, errors.Unreachablef("read %s", chapterURL).WithCause(err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "text/plain":
		return reader.ChapterBody{Body: strings.TrimSpace(string(data))}, nil
	case mediaType == "" || strings.Contains(mediaType, "html"):
		page, err := extractChapter(data)
		if err != nil {
			return reader.ChapterBody{}, fmt.Errorf("extract chapter text from %s: %w", chapterURL, err)
		}
		if page.Body == "" {
			return reader.ChapterBody{}, errors.Unsupportedf("no chapter text found at %s", chapterURL)
		}
		s.logger.Debug("chapter page extracted", "chapter_url", chapterURL, "bytes", len(data))
		return reader.ChapterBody{Body: page.Body, Title: page.Title}, nil
	default:
		return reader.ChapterBody{}, errors.Unsupportedf("unsupported content type %q at %s", mediaType, chapterURL)
	}
}
