package reader

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/feed"
	"github.com/listenupapp/listenup-reader/internal/tts"
)

// DefaultHalfBuffer is the look-ahead used when SpeechConfig.HalfBuffer is unset.
const DefaultHalfBuffer = 2

// ContentLoader is the part of the chapter loader the playback controller uses.
type ContentLoader interface {
	Items() *ItemList
	ChapterLoaded() *feed.Feed[ChapterLoaded]
	IsChapterIndexValid(index int) bool
	IsChapterIndexLoaded(index int) bool
	TryLoadNext() bool
	TryLoadPrevious() bool
}

// SpeechConfig configures a Controller.
type SpeechConfig struct {
	HalfBuffer int
	Settings   tts.Settings
	Logger     *slog.Logger
}

// Controller keeps the speech engine fed from the live item sequence.
//
// A run of up to 2*halfBuffer items is queued when playback starts. Every time
// an utterance finishes and exactly halfBuffer remain, up to halfBuffer more
// items of the same chapter are queued. When the queue drains, a
// reached-chapter-end event is emitted.
type Controller struct {
	loader     ContentLoader
	engine     SpeechEngine
	halfBuffer int
	logger     *slog.Logger
	newID      func() string

	utterances feed.Feed[domain.Utterance]
	events     feed.Feed[PlaybackEvent]

	// lifecycle serializes Start, Stop and in-place restarts.
	lifecycle sync.Mutex

	mu       sync.Mutex
	active   bool
	runCtx   context.Context
	stopRun  context.CancelFunc
	unsub    func()
	queue    []domain.Utterance
	current  domain.Utterance
	settings tts.Settings
}

// NewController creates an inactive controller.
func NewController(loader ContentLoader, engine SpeechEngine, cfg SpeechConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	half := cfg.HalfBuffer
	if half <= 0 {
		half = DefaultHalfBuffer
	}
	settings := cfg.Settings
	if settings.Speed <= 0 {
		settings.Speed = 1
	}
	if settings.Pitch <= 0 {
		settings.Pitch = 1
	}

	return &Controller{
		loader:     loader,
		engine:     engine,
		halfBuffer: half,
		logger:     logger.With("component", "speech"),
		newID:      uuid.NewString,
		settings:   settings,
	}
}

// Utterances returns the "now playing" feed. Every state change of the
// current utterance is published.
func (c *Controller) Utterances() *feed.Feed[domain.Utterance] { return &c.utterances }

// Events returns the playback event feed.
func (c *Controller) Events() *feed.Feed[PlaybackEvent] { return &c.events }

// HalfBuffer returns the refill threshold.
func (c *Controller) HalfBuffer() int { return c.halfBuffer }

// Active reports whether playback is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Current returns the most recent utterance, if any.
func (c *Controller) Current() (domain.Utterance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current.Item != nil
}

// QueueSize returns the number of unfinished queued utterances.
func (c *Controller) QueueSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Settings returns the voice, speed and pitch in use.
func (c *Controller) Settings() tts.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Start subscribes to engine progress. Calling Start while active is a no-op.
func (c *Controller) Start() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return
	}
	c.active = true
	c.runCtx, c.stopRun = context.WithCancel(context.Background())
	c.mu.Unlock()

	unsub := c.engine.Progress().Subscribe(c.onProgress)

	c.mu.Lock()
	c.unsub = unsub
	c.mu.Unlock()

	if err := c.applySettings(c.Settings()); err != nil {
		c.logger.Warn("apply speech settings", "error", err)
	}
	c.logger.Info("speech started")
}

// Stop cancels the progress subscription and clears the engine queue.
// Calling Stop while inactive is a no-op.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.stopRun()
	unsub := c.unsub
	c.unsub = nil
	c.queue = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if err := c.engine.Flush(); err != nil {
		c.logger.Warn("flush speech engine", "error", err)
	}
	c.logger.Info("speech stopped")
}

// ReadChapterStartingFromStart starts playback at the first positioned item of chapterIndex.
func (c *Controller) ReadChapterStartingFromStart(ctx context.Context, chapterIndex int) {
	c.readFrom(ctx, 0, chapterIndex)
}

// ReadChapterStartingFromItemIndex starts playback at itemIndex of the live
// sequence, staying inside chapterIndex.
func (c *Controller) ReadChapterStartingFromItemIndex(ctx context.Context, itemIndex, chapterIndex int) {
	c.readFrom(ctx, itemIndex, chapterIndex)
}

func (c *Controller) readFrom(ctx context.Context, start, chapterIndex int) {
	run := chapterRun(c.loader.Items().Snapshot(), start, chapterIndex, 2*c.halfBuffer)
	if len(run) == 0 {
		c.logger.Debug("no items to read", "chapter_index", chapterIndex, "item_index", start)
		c.events.Publish(PlaybackEvent{Kind: EventReachedChapterEnd, ChapterIndex: chapterIndex})
		return
	}

	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	if err := c.engine.Flush(); err != nil {
		c.logger.Warn("flush speech engine", "error", err)
	}
	c.queue = c.queue[:0]
	c.enqueueLocked(ctx, run)
	first := c.queue[0]
	c.current = first
	c.mu.Unlock()

	c.utterances.Publish(first)
}

// enqueueLocked appends utterances for items and hands them to the engine.
func (c *Controller) enqueueLocked(ctx context.Context, items []domain.Positioned) {
	for _, it := range items {
		u := domain.Utterance{ID: c.newID(), Item: it, State: domain.PlayLoading}
		c.queue = append(c.queue, u)
		if err := c.engine.Speak(ctx, u.ID, it.SpeakText()); err != nil {
			c.logger.Warn("queue utterance", "utterance_id", u.ID, "error", err)
		}
	}
}

func (c *Controller) onProgress(p tts.Progress) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	i := slices.IndexFunc(c.queue, func(u domain.Utterance) bool { return u.ID == p.UtteranceID })
	if i < 0 {
		c.mu.Unlock()
		return
	}

	switch p.Kind {
	case tts.ProgressStart:
		c.queue[i].State = domain.PlayPlaying
		u := c.queue[i]
		c.current = u
		c.mu.Unlock()

		c.utterances.Publish(u)
		if idx := c.loader.Items().IndexOf(u.Item); idx >= 0 {
			c.events.Publish(PlaybackEvent{Kind: EventScrollToItem, ChapterIndex: u.Item.ChapterIndex(), ItemIndex: idx})
		}

	case tts.ProgressDone, tts.ProgressError:
		if p.Err != nil {
			c.logger.Warn("utterance failed", "utterance_id", p.UtteranceID, "error", p.Err)
		}
		u := c.queue[i]
		u.State = domain.PlayFinished
		c.queue = slices.Delete(c.queue, i, i+1)
		c.current = u

		var end *PlaybackEvent
		switch len(c.queue) {
		case c.halfBuffer:
			c.refillLocked()
		case 0:
			end = &PlaybackEvent{Kind: EventReachedChapterEnd, ChapterIndex: u.Item.ChapterIndex()}
		}
		c.mu.Unlock()

		c.utterances.Publish(u)
		if end != nil {
			c.logger.Debug("reached chapter end", "chapter_index", end.ChapterIndex)
			c.events.Publish(*end)
		}
	default:
		c.mu.Unlock()
	}
}

// refillLocked queues up to halfBuffer items following the last queued one
// within the same chapter.
func (c *Controller) refillLocked() {
	last := c.queue[len(c.queue)-1].Item
	items := c.loader.Items().Snapshot()
	idx := slices.Index(items, domain.Item(last))
	if idx < 0 {
		return
	}
	run := chapterRun(items, idx+1, last.ChapterIndex(), c.halfBuffer)
	c.logger.Debug("refilling speech queue", "queued", len(c.queue), "added", len(run))
	c.enqueueLocked(c.runCtx, run)
}

// chapterRun collects up to limit positioned items of chapterIndex starting at
// start. It stops at the first item of a later chapter.
func chapterRun(items []domain.Item, start, chapterIndex, limit int) []domain.Positioned {
	var run []domain.Positioned
	for i := max(start, 0); i < len(items) && len(run) < limit; i++ {
		it := items[i]
		if ci := it.ChapterIndex(); ci != chapterIndex {
			if ci > chapterIndex {
				break
			}
			continue
		}
		if p, ok := domain.AsPositioned(it); ok {
			run = append(run, p)
		}
	}
	return run
}

// PlayNextItem restarts playback at the positioned item after the current one.
func (c *Controller) PlayNextItem(ctx context.Context) {
	c.playAdjacentItem(ctx, 1)
}

// PlayPreviousItem restarts playback at the positioned item before the current one.
func (c *Controller) PlayPreviousItem(ctx context.Context) {
	c.playAdjacentItem(ctx, -1)
}

func (c *Controller) playAdjacentItem(ctx context.Context, step int) {
	cur, ok := c.Current()
	if !ok || !c.Active() {
		return
	}
	items := c.loader.Items().Snapshot()
	idx := slices.Index(items, domain.Item(cur.Item))
	if idx < 0 {
		return
	}
	for j := idx + step; j >= 0 && j < len(items); j += step {
		if p, ok := domain.AsPositioned(items[j]); ok {
			c.readFrom(ctx, j, p.ChapterIndex())
			return
		}
	}
}

// PlayNextChapter moves playback to the start of the chapter after the current
// one, loading it first when needed. It blocks until playback restarted, ctx
// is done, or the controller is stopped.
func (c *Controller) PlayNextChapter(ctx context.Context) error {
	cur, ok := c.Current()
	if !ok || !c.Active() {
		return nil
	}
	return c.playChapter(ctx, cur.Item.ChapterIndex()+1, LoadNext)
}

// PlayPreviousChapter moves playback to the start of the chapter before the current one.
func (c *Controller) PlayPreviousChapter(ctx context.Context) error {
	cur, ok := c.Current()
	if !ok || !c.Active() {
		return nil
	}
	return c.playChapter(ctx, cur.Item.ChapterIndex()-1, LoadPrevious)
}

// ContinueAfterChapterEnd starts the chapter following chapterIndex.
func (c *Controller) ContinueAfterChapterEnd(ctx context.Context, chapterIndex int) error {
	if !c.Active() {
		return nil
	}
	return c.playChapter(ctx, chapterIndex+1, LoadNext)
}

func (c *Controller) playChapter(ctx context.Context, target int, kind LoadKind) error {
	if !c.loader.IsChapterIndexValid(target) {
		c.events.Publish(c.boundaryEvent(target, kind))
		return nil
	}

	if err := c.awaitChapter(ctx, target, kind); err != nil {
		return err
	}

	c.events.Publish(PlaybackEvent{Kind: EventScrollToChapterTop, ChapterIndex: target})
	c.ReadChapterStartingFromStart(ctx, target)
	return nil
}

// boundaryEvent clamps a chapter move one past either end of the book to the
// first or last item of the sequence.
func (c *Controller) boundaryEvent(target int, kind LoadKind) PlaybackEvent {
	if kind == LoadPrevious {
		return PlaybackEvent{Kind: EventScrolledToTop, ChapterIndex: target + 1, ItemIndex: 0}
	}
	return PlaybackEvent{
		Kind:         EventScrolledToBottom,
		ChapterIndex: target - 1,
		ItemIndex:    max(c.loader.Items().Len()-1, 0),
	}
}

// awaitChapter triggers kind loads until target is loaded.
func (c *Controller) awaitChapter(ctx context.Context, target int, kind LoadKind) error {
	c.mu.Lock()
	runCtx := c.runCtx
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	for !c.loader.IsChapterIndexLoaded(target) {
		w := feed.Watch(c.loader.ChapterLoaded(), func(ev ChapterLoaded) bool { return ev.Kind == kind })
		if c.loader.IsChapterIndexLoaded(target) {
			w.Cancel()
			break
		}
		if kind == LoadPrevious {
			c.loader.TryLoadPrevious()
		} else {
			c.loader.TryLoadNext()
		}
		if _, err := w.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// SetVoice changes the voice and restarts the current utterance with it.
func (c *Controller) SetVoice(ctx context.Context, voice string) error {
	if err := c.engine.SetVoice(voice); err != nil {
		return err
	}
	c.mu.Lock()
	c.settings.Voice = voice
	c.mu.Unlock()
	c.restartInPlace(ctx)
	return nil
}

// SetSpeed changes the speed and restarts the current utterance with it.
func (c *Controller) SetSpeed(ctx context.Context, speed float64) error {
	if err := c.engine.SetSpeed(speed); err != nil {
		return err
	}
	c.mu.Lock()
	c.settings.Speed = speed
	c.mu.Unlock()
	c.restartInPlace(ctx)
	return nil
}

// SetPitch changes the pitch and restarts the current utterance with it.
func (c *Controller) SetPitch(ctx context.Context, pitch float64) error {
	if err := c.engine.SetPitch(pitch); err != nil {
		return err
	}
	c.mu.Lock()
	c.settings.Pitch = pitch
	c.mu.Unlock()
	c.restartInPlace(ctx)
	return nil
}

func (c *Controller) applySettings(s tts.Settings) error {
	if s.Voice != "" {
		if err := c.engine.SetVoice(s.Voice); err != nil {
			return err
		}
	}
	if err := c.engine.SetSpeed(s.Speed); err != nil {
		return err
	}
	return c.engine.SetPitch(s.Pitch)
}

func (c *Controller) restartInPlace(ctx context.Context) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	cur, ok := c.Current()
	if !ok || !c.Active() {
		return
	}
	idx := c.loader.Items().IndexOf(cur.Item)
	if idx < 0 {
		return
	}
	c.readFrom(ctx, idx, cur.Item.ChapterIndex())
}
