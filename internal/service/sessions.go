package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/errors"
	"github.com/listenupapp/listenup-reader/internal/id"
	"github.com/listenupapp/listenup-reader/internal/reader"
	"github.com/listenupapp/listenup-reader/internal/translation"
	"github.com/listenupapp/listenup-reader/internal/tts"
	"github.com/listenupapp/listenup-reader/internal/validation"
)

// SpeechEngine is a reader speech engine owned by one session.
type SpeechEngine interface {
	reader.SpeechEngine
	Shutdown() error
}

// EngineFactory creates the speech engine of a new session.
type EngineFactory func(settings tts.Settings) (SpeechEngine, error)

// EventSink receives the merged events of every live session.
type EventSink interface {
	PublishSession(sessionID, bookID string, ev reader.SessionEvent)
	SessionClosed(sessionID, bookID string)
}

// SessionDefaults are applied to every new session.
type SessionDefaults struct {
	HalfBuffer         int
	TranslationWorkers int
	Speech             tts.Settings
	TranslationEnabled bool
	SourceLanguage     string
	TargetLanguage     string
	// MaxSessions bounds the number of live sessions; 0 means unbounded.
	MaxSessions int
}

// Repository is the library and position store sessions read and write.
type Repository interface {
	reader.Library
	reader.PositionRepository
}

// SessionDeps are the collaborators shared by all sessions.
type SessionDeps struct {
	Library     *LibraryService
	Store       Repository
	Source      reader.BodySource
	Converter   reader.Converter
	Translation translation.Backend // nil disables translation
	Cache       *translation.Cache
	Engines     EngineFactory
	Sink        EventSink
	Validator   *validation.Validator
	Logger      *slog.Logger
}

// OpenSessionRequest opens a book. ChapterURL defaults to the book's last
// read chapter.
type OpenSessionRequest struct {
	BookID     string `json:"book_id" validate:"required"`
	ChapterURL string `json:"chapter_url" validate:"omitempty,chapterurl"`
}

// TranslationRequest changes a session's translation settings. Both
// languages are required when Enabled is set.
type TranslationRequest struct {
	Enabled bool   `json:"enabled"`
	Source  string `json:"source" validate:"omitempty,langtag"`
	Target  string `json:"target" validate:"omitempty,langtag"`
}

// SpeechSettingsRequest changes a session's voice parameters. Nil fields
// are left unchanged.
type SpeechSettingsRequest struct {
	Voice *string  `json:"voice" validate:"omitempty,max=100"`
	Speed *float64 `json:"speed" validate:"omitempty,gt=0,lte=4"`
	Pitch *float64 `json:"pitch" validate:"omitempty,gt=0,lte=2"`
}

// PositionRequest moves the reading position. ItemIndex addresses an entry
// of the session's item list; otherwise ChapterURL and ChapterItemPosition
// name the position directly.
type PositionRequest struct {
	ItemIndex           *int   `json:"item_index" validate:"omitempty,gte=0"`
	ChapterURL          string `json:"chapter_url" validate:"omitempty,chapterurl"`
	ChapterItemPosition int    `json:"chapter_item_position" validate:"gte=0"`
	Offset              int    `json:"offset" validate:"gte=0"`
}

// Speech actions accepted by SpeechAction.
const (
	SpeechStart           = "start"
	SpeechStop            = "stop"
	SpeechNextItem        = "next_item"
	SpeechPreviousItem    = "previous_item"
	SpeechNextChapter     = "next_chapter"
	SpeechPreviousChapter = "previous_chapter"
)

// Load intents accepted by Load.
const (
	LoadInitial  = "initial"
	LoadRestart  = "restart"
	LoadPrevious = "previous"
	LoadNext     = "next"
	LoadReload   = "reload"
)

// LoadRequest carries the target of the initial and restart intents. Initial
// takes a chapter index; restart takes a chapter position.
type LoadRequest struct {
	ChapterIndex        *int   `json:"chapter_index" validate:"omitempty,gte=0"`
	ChapterURL          string `json:"chapter_url" validate:"omitempty,chapterurl"`
	ChapterItemPosition int    `json:"chapter_item_position" validate:"gte=0"`
	Offset              int    `json:"offset" validate:"gte=0"`
}

// LiveSession is an open reader session.
type LiveSession struct {
	ID         string
	CreatedAt  time.Time
	Session    *reader.Session
	Translator *translation.Manager

	engine SpeechEngine
	unsub  func()
}

// SessionInfo summarizes a live session.
type SessionInfo struct {
	ID                 string              `json:"id"`
	BookID             string              `json:"book_id"`
	BookTitle          string              `json:"book_title"`
	CreatedAt          time.Time           `json:"created_at"`
	Mode               domain.ReaderMode   `json:"mode"`
	Position           domain.ChapterState `json:"position"`
	LoaderState        reader.LoaderState  `json:"loader_state"`
	LoadedChapters     []string            `json:"loaded_chapters"`
	ItemCount          int                 `json:"item_count"`
	Speech             tts.Settings        `json:"speech"`
	TranslationEnabled bool                `json:"translation_enabled"`
	SourceLanguage     string              `json:"source_language,omitempty"`
	TargetLanguage     string              `json:"target_language,omitempty"`
}

// Info returns a snapshot of the session's state.
func (l *LiveSession) Info() SessionInfo {
	s := l.Session
	book := s.Book()
	return SessionInfo{
		ID:                 l.ID,
		BookID:             book.ID,
		BookTitle:          book.Title,
		CreatedAt:          l.CreatedAt,
		Mode:               s.Mode(),
		Position:           s.Current(),
		LoaderState:        s.Loader().State(),
		LoadedChapters:     s.Loader().LoadedChapters(),
		ItemCount:          s.Loader().Items().Len(),
		Speech:             s.Speech().Settings(),
		TranslationEnabled: l.Translator.IsActive(),
		SourceLanguage:     l.Translator.SourceLanguage(),
		TargetLanguage:     l.Translator.TargetLanguage(),
	}
}

// SessionService owns the live reader sessions.
type SessionService struct {
	deps     SessionDeps
	defaults SessionDefaults
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*LiveSession
}

// NewSessionService creates a session service.
func NewSessionService(deps SessionDeps, defaults SessionDefaults) *SessionService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		deps:     deps,
		defaults: defaults,
		logger:   logger,
		sessions: make(map[string]*LiveSession),
	}
}

// Open starts a session on req.BookID.
func (s *SessionService) Open(ctx context.Context, req OpenSessionRequest) (*LiveSession, error) {
	if err := s.deps.Validator.Validate(req); err != nil {
		return nil, err
	}

	if s.defaults.MaxSessions > 0 && s.Count() >= s.defaults.MaxSessions {
		return nil, errors.Conflictf("session limit of %d reached", s.defaults.MaxSessions)
	}

	chapterURL := req.ChapterURL
	if chapterURL == "" {
		chapter, err := s.deps.Library.ResumeChapter(ctx, req.BookID)
		if err != nil {
			return nil, err
		}
		chapterURL = chapter.URL
	}

	sessionID, err := id.Generate(id.PrefixSession)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("session_id", sessionID)

	translator := translation.NewManager(s.deps.Translation, s.deps.Cache, logger)
	if s.deps.Translation != nil {
		if err := translator.Init(ctx); err != nil {
			logger.Warn("translation init failed", "error", err)
		}
		if s.defaults.TranslationEnabled {
			if err := translator.Configure(true, s.defaults.SourceLanguage, s.defaults.TargetLanguage); err != nil {
				logger.Warn("default translation rejected", "error", err)
			}
		}
	}

	engine, err := s.deps.Engines(s.defaults.Speech)
	if err != nil {
		return nil, fmt.Errorf("create speech engine: %w", err)
	}

	sess, err := reader.NewSession(ctx, reader.SessionConfig{
		BookID:             req.BookID,
		ChapterURL:         chapterURL,
		HalfBuffer:         s.defaults.HalfBuffer,
		TranslationWorkers: s.defaults.TranslationWorkers,
		Speech:             s.defaults.Speech,
	}, reader.SessionDeps{
		Library:    s.deps.Store,
		Positions:  s.deps.Store,
		Source:     s.deps.Source,
		Converter:  s.deps.Converter,
		Translator: translator,
		Engine:     engine,
		Logger:     logger,
	})
	if err != nil {
		if shutdownErr := engine.Shutdown(); shutdownErr != nil {
			logger.Warn("failed to shut down speech engine", "error", shutdownErr)
		}
		return nil, err
	}

	live := &LiveSession{
		ID:         sessionID,
		CreatedAt:  time.Now(),
		Session:    sess,
		Translator: translator,
		engine:     engine,
		unsub:      func() {},
	}
	if s.deps.Sink != nil {
		bookID := sess.Book().ID
		live.unsub = sess.Events().Subscribe(func(ev reader.SessionEvent) {
			s.deps.Sink.PublishSession(sessionID, bookID, ev)
		})
	}

	s.mu.Lock()
	s.sessions[sessionID] = live
	s.mu.Unlock()

	logger.Info("session started", "book_id", req.BookID, "chapter_url", chapterURL)
	return live, nil
}

// Get returns a live session.
func (s *SessionService) Get(sessionID string) (*LiveSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, ok := s.sessions[sessionID]
	if !ok {
		return nil, errors.NotFoundf("session %s not found", sessionID)
	}
	return live, nil
}

// List returns the live sessions, oldest first.
func (s *SessionService) List() []SessionInfo {
	s.mu.RLock()
	sessions := slices.Collect(maps.Values(s.sessions))
	s.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b *LiveSession) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	out := make([]SessionInfo, len(sessions))
	for i, l := range sessions {
		out[i] = l.Info()
	}
	return out
}

// Count returns the number of live sessions.
func (s *SessionService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// UpdatePosition records a manual reading position.
func (s *SessionService) UpdatePosition(ctx context.Context, sessionID string, req PositionRequest) error {
	if err := s.deps.Validator.Validate(req); err != nil {
		return err
	}
	if req.ItemIndex == nil && req.ChapterURL == "" {
		return errors.Validation("item_index or chapter_url is required")
	}
	live, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	if req.ItemIndex != nil {
		return live.Session.UpdateReadingPositionAt(ctx, *req.ItemIndex, req.Offset)
	}
	return live.Session.UpdateReadingPosition(ctx, domain.ChapterState{
		ChapterURL:          req.ChapterURL,
		ChapterItemPosition: req.ChapterItemPosition,
		Offset:              req.Offset,
	})
}

// Load requests a chapter load. It reports whether the intent was queued;
// a false result means an equivalent load is already pending or the book
// has no chapter in that direction. Initial and restart replace the loaded
// sequence and stop playback.
func (s *SessionService) Load(sessionID, intent string, req LoadRequest) (bool, error) {
	live, err := s.Get(sessionID)
	if err != nil {
		return false, err
	}
	sess := live.Session
	switch intent {
	case LoadInitial, LoadRestart:
		if err := s.deps.Validator.Validate(req); err != nil {
			return false, err
		}
	}

	switch intent {
	case LoadInitial:
		if req.ChapterIndex == nil {
			return false, errors.Validation("chapter_index is required")
		}
		if !sess.Loader().IsChapterIndexValid(*req.ChapterIndex) {
			return false, errors.InvalidChapterf("chapter index %d is out of range", *req.ChapterIndex)
		}
		return sess.LoadChapter(*req.ChapterIndex), nil
	case LoadRestart:
		if req.ChapterURL == "" {
			return false, errors.Validation("chapter_url is required")
		}
		if domain.IndexOfChapter(sess.Loader().OrderedChapters(), req.ChapterURL) < 0 {
			return false, errors.InvalidChapterf("chapter %s is not part of the book", req.ChapterURL)
		}
		return sess.RestartAt(domain.ChapterState{
			ChapterURL:          req.ChapterURL,
			ChapterItemPosition: req.ChapterItemPosition,
			Offset:              req.Offset,
		}), nil
	case LoadPrevious:
		return sess.Loader().TryLoadPrevious(), nil
	case LoadNext:
		return sess.Loader().TryLoadNext(), nil
	case LoadReload:
		sess.Reload()
		return true, nil
	default:
		return false, errors.Validationf("unknown load intent %q", intent)
	}
}

// SpeechAction drives the session's playback.
func (s *SessionService) SpeechAction(ctx context.Context, sessionID, action string) error {
	live, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	sess := live.Session
	switch action {
	case SpeechStart:
		return sess.StartSpeaking(ctx)
	case SpeechStop:
		sess.StopSpeaking()
		return nil
	}

	if !sess.Speech().Active() {
		return errors.Conflictf("speech is not active")
	}
	switch action {
	case SpeechNextItem:
		sess.Speech().PlayNextItem(ctx)
		return nil
	case SpeechPreviousItem:
		sess.Speech().PlayPreviousItem(ctx)
		return nil
	case SpeechNextChapter:
		return sess.Speech().PlayNextChapter(ctx)
	case SpeechPreviousChapter:
		return sess.Speech().PlayPreviousChapter(ctx)
	default:
		return errors.Validationf("unknown speech action %q", action)
	}
}

// SetTranslation applies req and reloads the session at its position.
func (s *SessionService) SetTranslation(sessionID string, req TranslationRequest) error {
	if err := s.deps.Validator.Validate(req); err != nil {
		return err
	}
	live, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	return live.Session.SetTranslation(req.Enabled, req.Source, req.Target)
}

// SetSpeech applies the non-nil fields of req.
func (s *SessionService) SetSpeech(ctx context.Context, sessionID string, req SpeechSettingsRequest) error {
	if err := s.deps.Validator.Validate(req); err != nil {
		return err
	}
	live, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	speech := live.Session.Speech()
	if req.Voice != nil {
		if err := speech.SetVoice(ctx, *req.Voice); err != nil {
			return fmt.Errorf("set voice: %w", err)
		}
	}
	if req.Speed != nil {
		if err := speech.SetSpeed(ctx, *req.Speed); err != nil {
			return fmt.Errorf("set speed: %w", err)
		}
	}
	if req.Pitch != nil {
		if err := speech.SetPitch(ctx, *req.Pitch); err != nil {
			return fmt.Errorf("set pitch: %w", err)
		}
	}
	return nil
}

// Close closes a session, persisting its position.
func (s *SessionService) Close(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	live, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return errors.NotFoundf("session %s not found", sessionID)
	}
	return s.close(ctx, live)
}

func (s *SessionService) close(ctx context.Context, live *LiveSession) error {
	live.unsub()
	err := live.Session.Close(ctx)
	if shutdownErr := live.engine.Shutdown(); shutdownErr != nil {
		s.logger.Warn("failed to shut down speech engine", "session_id", live.ID, "error", shutdownErr)
	}
	if s.deps.Sink != nil {
		s.deps.Sink.SessionClosed(live.ID, live.Session.Book().ID)
	}
	s.logger.Info("session ended", "session_id", live.ID)
	return err
}

// Shutdown closes every live session.
func (s *SessionService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*LiveSession)
	s.mu.Unlock()

	var errs []error
	for _, live := range sessions {
		if err := s.close(ctx, live); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
