package reader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/errors"
	"github.com/listenupapp/listenup-reader/internal/feed"
	"github.com/listenupapp/listenup-reader/internal/tts"
)

// SessionTranslator is a Translator the session can initialize and reconfigure.
type SessionTranslator interface {
	Translator
	Init(ctx context.Context) error
	Configure(active bool, source, target string) error
}

// SessionConfig selects what a session opens and how it plays.
type SessionConfig struct {
	BookID             string
	ChapterURL         string
	HalfBuffer         int
	TranslationWorkers int
	Speech             tts.Settings
}

// SessionDeps are the collaborators of a session.
type SessionDeps struct {
	Library    Library
	Positions  PositionRepository
	Source     BodySource
	Converter  Converter
	Translator SessionTranslator // optional
	Engine     SpeechEngine
	Resume     ResumePolicy // defaults to StoredResumePolicy over Library
	View       View         // optional presentation view
	Logger     *slog.Logger
}

// Session event types.
const (
	EventTypeItemsChanged    = "items_changed"
	EventTypeChapterLoaded   = "chapter_loaded"
	EventTypeInvalidChapter  = "invalid_chapter"
	EventTypeInitialPosition = "initial_position"
	EventTypePlayback        = "playback"
	EventTypeUtterance       = "utterance"
	EventTypePosition        = "position"
	EventTypeMode            = "mode"
)

// SessionEvent is the merged event stream of a session.
type SessionEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// UtteranceEvent is the payload of utterance events.
type UtteranceEvent struct {
	ID       string           `json:"id"`
	State    domain.PlayState `json:"state"`
	Position domain.Position  `json:"position"`
}

// Session composes a chapter loader, a playback controller and a translator
// for one open book, and owns the book's current reading position.
//
// While speech is active the session is in Speaking mode and only
// speech-driven positions are persisted; otherwise manual position changes are.
type Session struct {
	book       domain.Book
	loader     *Loader
	speech     *Controller
	translator SessionTranslator
	positions  PositionRepository
	logger     *slog.Logger

	events feed.Feed[SessionEvent]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	current    domain.ChapterState
	lastSpoken *domain.ChapterState
	unsubs     []func()
	closed     bool
}

// NewSession loads the book, the opened chapter, the chapter list and the
// translator concurrently, then queues the initial load of the opened chapter.
func NewSession(ctx context.Context, cfg SessionConfig, deps SessionDeps) (*Session, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		book     *domain.Book
		opened   *domain.Chapter
		chapters []domain.Chapter
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		book, err = deps.Library.GetBook(gctx, cfg.BookID)
		return err
	})
	g.Go(func() error {
		var err error
		opened, err = deps.Library.GetChapter(gctx, cfg.ChapterURL)
		return err
	})
	g.Go(func() error {
		var err error
		chapters, err = deps.Library.ListChapters(gctx, cfg.BookID)
		return err
	})
	if deps.Translator != nil {
		g.Go(func() error { return deps.Translator.Init(gctx) })
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	index := domain.IndexOfChapter(chapters, cfg.ChapterURL)
	if index < 0 {
		return nil, errors.InvalidChapterf("chapter %s is not part of book %s", cfg.ChapterURL, cfg.BookID)
	}

	resume := deps.Resume
	if resume == nil {
		resume = NewStoredResumePolicy(deps.Library)
	}

	var translator Translator
	if deps.Translator != nil {
		translator = deps.Translator
	}

	logger = logger.With("book_id", book.ID)
	loader := NewLoader(LoaderConfig{
		BookID:             book.ID,
		Chapters:           chapters,
		Source:             deps.Source,
		Converter:          deps.Converter,
		Translator:         translator,
		Resume:             resume,
		TranslationWorkers: cfg.TranslationWorkers,
		Logger:             logger,
	})
	speech := NewController(loader, deps.Engine, SpeechConfig{
		HalfBuffer: cfg.HalfBuffer,
		Settings:   cfg.Speech,
		Logger:     logger,
	})

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		book:       *book,
		loader:     loader,
		speech:     speech,
		translator: deps.Translator,
		positions:  deps.Positions,
		logger:     logger.With("component", "session"),
		ctx:        sctx,
		cancel:     cancel,
		current:    opened.State(),
	}
	s.wire()
	loader.Attach(sessionView{session: s, inner: deps.View})

	loader.TryLoadInitial(index)
	s.logger.Info("session opened", "chapter_url", cfg.ChapterURL, "chapter_index", index)
	return s, nil
}

func (s *Session) wire() {
	s.unsubs = append(s.unsubs,
		s.loader.Items().Changes().Subscribe(func(c ListChange) {
			s.events.Publish(SessionEvent{Type: EventTypeItemsChanged, Data: c})
		}),
		s.loader.ChapterLoaded().Subscribe(func(ev ChapterLoaded) {
			s.events.Publish(SessionEvent{Type: EventTypeChapterLoaded, Data: ev})
		}),
		s.loader.InvalidChapter().Subscribe(func(ev InvalidChapter) {
			s.events.Publish(SessionEvent{Type: EventTypeInvalidChapter, Data: ev})
		}),
		s.speech.Events().Subscribe(s.onPlaybackEvent),
		s.speech.Utterances().Subscribe(s.onUtterance),
	)
}

// sessionView receives the loader's signals for the session and forwards
// everything to the optional presentation view.
type sessionView struct {
	session *Session
	inner   View
}

func (v sessionView) view() View {
	if v.inner == nil {
		return NopView{}
	}
	return v.inner
}

func (v sessionView) MaintainPosition(fn func())            { v.view().MaintainPosition(fn) }
func (v sessionView) MaintainStartPosition(fn func())       { v.view().MaintainStartPosition(fn) }
func (v sessionView) MaintainLastVisiblePosition(fn func()) { v.view().MaintainLastVisiblePosition(fn) }
func (v sessionView) ShowInvalidChapterDialog()             { v.view().ShowInvalidChapterDialog() }

func (v sessionView) SetInitialPosition(pos domain.InitialPositionChapter) {
	v.session.onInitialPosition(pos)
	v.view().SetInitialPosition(pos)
}

// onInitialPosition moves the current position to where a fresh load starts.
func (s *Session) onInitialPosition(pos domain.InitialPositionChapter) {
	if !s.loader.IsChapterIndexValid(pos.ChapterIndex) {
		return
	}
	state := domain.ChapterState{
		ChapterURL:          s.loader.chapters[pos.ChapterIndex].URL,
		ChapterItemPosition: pos.ChapterItemPosition,
		Offset:              pos.ChapterItemOffset,
	}
	s.mu.Lock()
	s.current = state
	s.mu.Unlock()

	s.events.Publish(SessionEvent{Type: EventTypeInitialPosition, Data: pos})
}

// Book returns the book the session reads.
func (s *Session) Book() domain.Book { return s.book }

// Loader returns the session's chapter loader.
func (s *Session) Loader() *Loader { return s.loader }

// Speech returns the session's playback controller.
func (s *Session) Speech() *Controller { return s.speech }

// Events returns the merged session event feed.
func (s *Session) Events() *feed.Feed[SessionEvent] { return &s.events }

// Mode reports which position source is authoritative.
func (s *Session) Mode() domain.ReaderMode {
	if s.speech.Active() {
		return domain.ModeSpeaking
	}
	return domain.ModeReading
}

// Current returns the current reading position.
func (s *Session) Current() domain.ChapterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// UpdateReadingPosition records a manually driven position change.
func (s *Session) UpdateReadingPosition(ctx context.Context, state domain.ChapterState) error {
	return s.setCurrent(ctx, state)
}

// UpdateReadingPositionAt records the item at itemIndex as the reading position.
func (s *Session) UpdateReadingPositionAt(ctx context.Context, itemIndex, offset int) error {
	item, ok := s.loader.Items().At(itemIndex)
	if !ok {
		return errors.Validationf("item index %d out of range", itemIndex)
	}
	p, ok := domain.AsPositioned(item)
	if !ok {
		return errors.Validationf("item %d has no position", itemIndex)
	}
	state := domain.StateOf(p)
	state.Offset = offset
	return s.setCurrent(ctx, state)
}

// setCurrent replaces the current position. The change is persisted here only
// in Reading mode; speech-driven positions are persisted by onUtterance.
func (s *Session) setCurrent(ctx context.Context, state domain.ChapterState) error {
	s.mu.Lock()
	old := s.current
	if old == state {
		s.mu.Unlock()
		return nil
	}
	s.current = state
	s.mu.Unlock()

	s.events.Publish(SessionEvent{Type: EventTypePosition, Data: state})

	if s.Mode() != domain.ModeReading {
		return nil
	}
	if err := s.positions.SavePosition(ctx, s.book.ID, state, &old); err != nil {
		return fmt.Errorf("save reading position: %w", err)
	}
	return nil
}

func (s *Session) onUtterance(u domain.Utterance) {
	s.events.Publish(SessionEvent{Type: EventTypeUtterance, Data: UtteranceEvent{
		ID:       u.ID,
		State:    u.State,
		Position: u.Item.Pos(),
	}})

	if u.State != domain.PlayPlaying || s.Mode() != domain.ModeSpeaking {
		return
	}

	state := domain.StateOf(u.Item)
	s.mu.Lock()
	old := s.lastSpoken
	s.lastSpoken = &state
	s.mu.Unlock()

	if err := s.setCurrent(s.ctx, state); err != nil {
		s.logger.Warn("update current position", "error", err)
	}
	if err := s.positions.SavePosition(s.ctx, s.book.ID, state, old); err != nil {
		s.logger.Warn("save speech position", "chapter_url", state.ChapterURL, "error", err)
	}

	body, ok := u.Item.(domain.Body)
	if !ok {
		return
	}
	var err error
	switch body.Location {
	case domain.LocationFirst:
		err = s.positions.MarkChapterStartSeen(s.ctx, body.ChapterURL)
	case domain.LocationLast:
		err = s.positions.MarkChapterEndSeen(s.ctx, body.ChapterURL)
	}
	if err != nil {
		s.logger.Warn("mark chapter seen", "chapter_url", body.ChapterURL, "error", err)
	}
}

func (s *Session) onPlaybackEvent(ev PlaybackEvent) {
	s.events.Publish(SessionEvent{Type: EventTypePlayback, Data: ev})

	if ev.Kind != EventReachedChapterEnd || !s.speech.Active() {
		return
	}
	if s.loader.IsChapterIndexTheLast(ev.ChapterIndex) {
		s.goBackground(func(context.Context) { s.StopSpeaking() })
		return
	}
	s.goBackground(func(ctx context.Context) {
		if err := s.speech.ContinueAfterChapterEnd(ctx, ev.ChapterIndex); err != nil && ctx.Err() == nil {
			s.logger.Warn("continue after chapter end", "chapter_index", ev.ChapterIndex, "error", err)
		}
	})
}

func (s *Session) goBackground(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// StartSpeaking starts playback at the current reading position.
func (s *Session) StartSpeaking(ctx context.Context) error {
	cur := s.Current()
	chapterIndex := domain.IndexOfChapter(s.loader.chapters, cur.ChapterURL)
	if chapterIndex < 0 {
		return errors.InvalidChapterf("chapter %s is not part of the book", cur.ChapterURL)
	}
	if !s.loader.IsChapterIndexLoaded(chapterIndex) {
		return errors.Conflictf("chapter %d is still loading", chapterIndex)
	}

	s.speech.Start()
	s.events.Publish(SessionEvent{Type: EventTypeMode, Data: domain.ModeSpeaking})

	itemIndex := s.loader.Items().IndexOfPosition(chapterIndex, cur.ChapterItemPosition)
	if itemIndex < 0 {
		s.speech.ReadChapterStartingFromStart(ctx, chapterIndex)
		return nil
	}
	s.speech.ReadChapterStartingFromItemIndex(ctx, itemIndex, chapterIndex)
	return nil
}

// StopSpeaking stops playback; the session returns to Reading mode.
func (s *Session) StopSpeaking() {
	if !s.speech.Active() {
		return
	}
	s.speech.Stop()
	s.events.Publish(SessionEvent{Type: EventTypeMode, Data: domain.ModeReading})
}

// Reload reloads the session at the current position.
func (s *Session) Reload() {
	s.RestartAt(s.Current())
}

// LoadChapter stops playback and restarts the sequence at chapterIndex. The
// resume policy picks the position inside the chapter.
func (s *Session) LoadChapter(chapterIndex int) bool {
	s.StopSpeaking()
	s.loader.Reload()
	return s.loader.TryLoadInitial(chapterIndex)
}

// RestartAt stops playback and restarts the sequence at state.
func (s *Session) RestartAt(state domain.ChapterState) bool {
	s.StopSpeaking()
	s.loader.Reload()
	return s.loader.TryLoadRestartedInitial(state)
}

// SetTranslation reconfigures the translator and reloads at the current position.
func (s *Session) SetTranslation(active bool, source, target string) error {
	if s.translator == nil {
		return errors.Validation("translation is not available")
	}
	if err := s.translator.Configure(active, source, target); err != nil {
		return fmt.Errorf("configure translation: %w", err)
	}
	s.logger.Info("translation changed", "active", active, "source", source, "target", target)
	s.Reload()
	return nil
}

// authoritative returns the position owned by the current mode.
func (s *Session) authoritative() domain.ChapterState {
	if s.Mode() == domain.ModeSpeaking {
		if u, ok := s.speech.Current(); ok {
			return domain.StateOf(u.Item)
		}
	}
	return s.Current()
}

// Close cancels background work, persists the authoritative position and
// releases the loader and speech controller.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	s.cancel()
	state := s.authoritative()
	err := s.positions.SavePosition(ctx, s.book.ID, state, nil)

	for _, unsub := range unsubs {
		unsub()
	}
	s.speech.Stop()
	s.wg.Wait()
	s.loader.Close()

	s.logger.Info("session closed", "chapter_url", state.ChapterURL, "chapter_item_position", state.ChapterItemPosition)
	if err != nil {
		return fmt.Errorf("save position on close: %w", err)
	}
	return nil
}
