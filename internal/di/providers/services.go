package providers

import (
	"context"
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-reader/internal/config"
	"github.com/listenupapp/listenup-reader/internal/converter"
	"github.com/listenupapp/listenup-reader/internal/service"
	"github.com/listenupapp/listenup-reader/internal/tts"
	"github.com/listenupapp/listenup-reader/internal/validation"
)

// ProvideLibraryService provides the book library service.
func ProvideLibraryService(i do.Injector) (*service.LibraryService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	v := do.MustInvoke[*validation.Validator](i)
	log := do.MustInvoke[*slog.Logger](i)

	return service.NewLibraryService(storeHandle.Store, v, log), nil
}

// SessionServiceHandle closes every live session on shutdown, persisting
// their positions.
type SessionServiceHandle struct {
	*service.SessionService
}

// Shutdown implements do.Shutdownable.
func (h *SessionServiceHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.SessionService.Shutdown(ctx)
}

// ProvideSessionService provides the live session service. Each session
// gets its own synthesizer process engine.
func ProvideSessionService(i do.Injector) (*SessionServiceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	sourceHandle := do.MustInvoke[*SourceHandle](i)
	translationHandle := do.MustInvoke[*TranslationHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	library := do.MustInvoke[*service.LibraryService](i)
	conv := do.MustInvoke[*converter.Converter](i)
	v := do.MustInvoke[*validation.Validator](i)

	engines := func(settings tts.Settings) (service.SpeechEngine, error) {
		engine, err := tts.NewProcessEngine(tts.ProcessConfig{
			Command:  cfg.TTS.Command,
			Args:     cfg.TTS.Args,
			Settings: settings,
			Logger:   log,
		})
		if err != nil {
			return nil, err
		}
		return engine, nil
	}

	svc := service.NewSessionService(service.SessionDeps{
		Library:     library,
		Store:       storeHandle.Store,
		Source:      sourceHandle.Router,
		Converter:   conv,
		Translation: translationHandle.Backend,
		Cache:       translationHandle.Cache,
		Engines:     engines,
		Sink:        sseHandle.Manager,
		Validator:   v,
		Logger:      log,
	}, service.SessionDefaults{
		HalfBuffer:         cfg.Reader.HalfBuffer,
		TranslationWorkers: cfg.Reader.TranslationWorkers,
		Speech:             cfg.TTS.Settings(),
		TranslationEnabled: cfg.Translation.Enabled,
		SourceLanguage:     cfg.Translation.Source,
		TargetLanguage:     cfg.Translation.Target,
		MaxSessions:        cfg.Reader.MaxSessions,
	})
	return &SessionServiceHandle{SessionService: svc}, nil
}
