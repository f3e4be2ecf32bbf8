package providers

import (
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-reader/internal/config"
	"github.com/listenupapp/listenup-reader/internal/translation"
)

// TranslationHandle holds the translation backend and its cache. Backend is
// nil when no endpoint is configured.
type TranslationHandle struct {
	Backend translation.Backend
	Cache   *translation.Cache
	client  *translation.HTTPClient
}

// Shutdown implements do.Shutdownable.
func (h *TranslationHandle) Shutdown() error {
	if h.client != nil {
		h.client.Close()
	}
	if h.Cache != nil {
		return h.Cache.Close()
	}
	return nil
}

// ProvideTranslation provides the LibreTranslate client and the bbolt
// translation cache.
func ProvideTranslation(i do.Injector) (*TranslationHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	_ = do.MustInvoke[*DataLockHandle](i)

	if cfg.Translation.Endpoint == "" {
		log.Info("translation disabled, no endpoint configured")
		return &TranslationHandle{}, nil
	}

	client, err := translation.NewHTTPClient(translation.ClientConfig{
		Endpoint:          cfg.Translation.Endpoint,
		APIKey:            cfg.Translation.APIKey,
		Timeout:           cfg.Translation.Timeout,
		RequestsPerSecond: cfg.Translation.RequestsPerSecond,
		Burst:             cfg.Reader.TranslationWorkers,
		Logger:            log,
	})
	if err != nil {
		return nil, err
	}

	tc, err := translation.OpenCache(cfg.Data.TranslationCachePath())
	if err != nil {
		client.Close()
		return nil, err
	}

	log.Info("translation enabled", "endpoint", cfg.Translation.Endpoint, "cached", tc.Len())
	return &TranslationHandle{Backend: client, Cache: tc, client: client}, nil
}
