package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/listenupapp/listenup-reader/internal/ratelimit"
)

// Backend translates text between two languages.
type Backend interface {
	Translate(ctx context.Context, source, target, text string) (string, error)
	Languages(ctx context.Context) ([]Language, error)
}

// Language is one language the backend can translate from or to.
type Language struct {
	Code    string   `json:"code"`
	Name    string   `json:"name"`
	Targets []string `json:"targets,omitempty"`
}

// ClientConfig configures an HTTPClient.
type ClientConfig struct {
	Endpoint          string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Logger            *slog.Logger
}

// HTTPClient talks to a LibreTranslate-compatible server.
type HTTPClient struct {
	endpoint    *url.URL
	apiKey      string
	httpClient  *http.Client
	rateLimiter *ratelimit.KeyedRateLimiter
	logger      *slog.Logger
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error,omitempty"`
}

// NewHTTPClient creates a client for the server at cfg.Endpoint.
func NewHTTPClient(cfg ClientConfig) (*HTTPClient, error) {
	endpoint, err := url.Parse(strings.TrimSuffix(cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse translation endpoint: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("translation endpoint %q: unsupported scheme", cfg.Endpoint)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		endpoint:    endpoint,
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: ratelimit.New(cfg.RequestsPerSecond, cfg.Burst),
		logger:      logger,
	}, nil
}

// Close stops the rate limiter cleanup.
func (c *HTTPClient) Close() {
	c.rateLimiter.Stop()
}

func (c *HTTPClient) wait(ctx context.Context) error {
	return c.rateLimiter.Wait(ctx, c.endpoint.Host)
}

// Translate translates text from source to target.
func (c *HTTPClient) Translate(ctx context.Context, source, target, text string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	body, err := json.Marshal(translateRequest{
		Q:      text,
		Source: source,
		Target: target,
		Format: "text",
		APIKey: c.apiKey,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.JoinPath("translate").String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate request: %w", err)
	}
	defer resp.Body.Close()

	var out translateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("parse response: status %d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translate failed: status %d: %s", resp.StatusCode, out.Error)
	}

	c.logger.Debug("translated text",
		"source", source,
		"target", target,
		"length", len(text),
	)
	return out.TranslatedText, nil
}

// Languages lists the languages the server supports.
func (c *HTTPClient) Languages(ctx context.Context) ([]Language, error) {
	if err := c.wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.JoinPath("languages").String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("languages request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("languages failed: status %d", resp.StatusCode)
	}

	var langs []Language
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&langs); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return langs, nil
}
