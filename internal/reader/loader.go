// Package reader implements the reader session engine: the chapter loader that
// owns the live item sequence, the speech playback buffer controller, and the
// session that arbitrates between reading and speaking positions.
package reader

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/feed"
)

const defaultTranslationWorkers = 4

// LoaderConfig wires a Loader to its collaborators.
type LoaderConfig struct {
	BookID     string
	Chapters   []domain.Chapter
	Source     BodySource
	Converter  Converter
	Translator Translator // optional
	Resume     ResumePolicy
	// TranslationWorkers bounds concurrent Translate calls per chapter.
	TranslationWorkers int
	Logger             *slog.Logger
}

// Loader turns an ordered chapter list into the live item sequence.
//
// Load intents are deduplicated by kind and processed one at a time by a single
// watcher goroutine; every edit of the sequence runs on the loader's main queue.
type Loader struct {
	bookID     string
	chapters   []domain.Chapter
	source     BodySource
	converter  Converter
	translator Translator
	resume     ResumePolicy
	workers    int
	logger     *slog.Logger

	items ItemList
	main  *mainQueue
	view  viewSlot

	chapterLoaded  feed.Feed[ChapterLoaded]
	invalidChapter feed.Feed[InvalidChapter]

	reloadMu sync.Mutex

	mu       sync.Mutex
	queue    []LoadIntent
	inFlight *LoadKind
	state    LoaderState
	loaded   map[string]bool
	stats    map[string]domain.ChapterStats
	wake     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
}

// NewLoader creates a loader and starts its intent watcher.
func NewLoader(cfg LoaderConfig) *Loader {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.TranslationWorkers
	if workers <= 0 {
		workers = defaultTranslationWorkers
	}

	l := &Loader{
		bookID:     cfg.BookID,
		chapters:   slices.Clone(cfg.Chapters),
		source:     cfg.Source,
		converter:  cfg.Converter,
		translator: cfg.Translator,
		resume:     cfg.Resume,
		workers:    workers,
		logger:     logger.With("component", "chapter_loader", "book_id", cfg.BookID),
		main:       newMainQueue(),
		state:      StateInitialLoad,
		loaded:     make(map[string]bool),
		stats:      make(map[string]domain.ChapterStats),
		wake:       make(chan struct{}, 1),
	}

	l.mu.Lock()
	l.startWatcher()
	l.mu.Unlock()
	return l
}

// Items returns the live item sequence.
func (l *Loader) Items() *ItemList { return &l.items }

// ChapterLoaded returns the feed of completed chapter loads.
func (l *Loader) ChapterLoaded() *feed.Feed[ChapterLoaded] { return &l.chapterLoaded }

// InvalidChapter returns the feed of rejected initial loads.
func (l *Loader) InvalidChapter() *feed.Feed[InvalidChapter] { return &l.invalidChapter }

// OrderedChapters returns a copy of the chapter list the loader is bound to.
func (l *Loader) OrderedChapters() []domain.Chapter { return slices.Clone(l.chapters) }

// Attach sets the view driven by the loader. Passing nil detaches.
func (l *Loader) Attach(v View) { l.view.attach(v) }

// Detach removes the attached view; edits then run without anchor handling.
func (l *Loader) Detach() { l.view.detach() }

// State returns the current loader state.
func (l *Loader) State() LoaderState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// TryLoadInitial queues an initial load of chapterIndex unless one is already queued.
func (l *Loader) TryLoadInitial(chapterIndex int) bool {
	return l.enqueue(LoadIntent{Kind: LoadInitial, ChapterIndex: chapterIndex})
}

// TryLoadRestartedInitial queues an initial load that resumes at state.
func (l *Loader) TryLoadRestartedInitial(state domain.ChapterState) bool {
	return l.enqueue(LoadIntent{Kind: LoadRestartInitial, State: state})
}

// TryLoadPrevious queues loading the chapter before the first loaded one.
func (l *Loader) TryLoadPrevious() bool {
	return l.enqueue(LoadIntent{Kind: LoadPrevious})
}

// TryLoadNext queues loading the chapter after the last loaded one.
func (l *Loader) TryLoadNext() bool {
	return l.enqueue(LoadIntent{Kind: LoadNext})
}

func (l *Loader) enqueue(intent LoadIntent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.hasKindLocked(intent.Kind) {
		return false
	}
	l.queue = append(l.queue, intent)

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Loader) hasKindLocked(kind LoadKind) bool {
	if l.inFlight != nil && *l.inFlight == kind {
		return true
	}
	return slices.ContainsFunc(l.queue, func(i LoadIntent) bool { return i.Kind == kind })
}

// Reload cancels queued and running work, clears the sequence and the loaded
// chapter set, and restarts the watcher in the initial-load state.
// It must not be called from a View callback.
func (l *Loader) Reload() {
	l.reloadMu.Lock()
	defer l.reloadMu.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done

	_ = l.main.Do(context.Background(), l.items.clear)

	l.mu.Lock()
	l.queue = nil
	l.inFlight = nil
	l.loaded = make(map[string]bool)
	l.state = StateInitialLoad
	l.startWatcher()
	l.mu.Unlock()

	l.logger.Info("loader reloaded")
}

// Close stops the watcher and the main queue. The loader cannot be used afterwards.
func (l *Loader) Close() {
	l.reloadMu.Lock()
	defer l.reloadMu.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
	l.main.Close()
}

// startWatcher must be called with l.mu held.
func (l *Loader) startWatcher() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.cancel, l.done = cancel, done
	go l.watch(ctx, done)
}

func (l *Loader) watch(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		intent, ok := l.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-l.wake:
				continue
			}
		}

		l.process(ctx, intent)
		if ctx.Err() != nil {
			return
		}
	}
}

// dequeue picks the oldest runnable intent. Previous and Next wait until an
// initial load has run.
func (l *Loader) dequeue() (LoadIntent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, intent := range l.queue {
		if l.state == StateInitialLoad && (intent.Kind == LoadPrevious || intent.Kind == LoadNext) {
			continue
		}
		l.queue = slices.Delete(l.queue, i, i+1)
		kind := intent.Kind
		l.inFlight = &kind
		l.state = StateLoading
		return intent, true
	}
	return LoadIntent{}, false
}

func (l *Loader) process(ctx context.Context, intent LoadIntent) {
	defer func() {
		l.mu.Lock()
		l.inFlight = nil
		if l.state == StateLoading {
			l.state = StateIdle
		}
		l.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("load intent panicked", "kind", intent.Kind.String(), "panic", r)
		}
	}()

	l.logger.Debug("processing load intent", "kind", intent.Kind.String())

	var err error
	switch intent.Kind {
	case LoadInitial:
		err = l.loadInitial(ctx, intent.ChapterIndex, nil)
	case LoadRestartInitial:
		index := domain.IndexOfChapter(l.chapters, intent.State.ChapterURL)
		if index < 0 {
			err = l.signalInvalid(ctx, InvalidChapter{ChapterIndex: -1, ChapterURL: intent.State.ChapterURL})
			break
		}
		err = l.loadInitial(ctx, index, &intent.State)
	case LoadPrevious:
		err = l.loadPrevious(ctx)
	case LoadNext:
		err = l.loadNext(ctx)
	}

	if err != nil && ctx.Err() == nil {
		l.logger.Warn("load intent failed", "kind", intent.Kind.String(), "error", err)
	}
}

func (l *Loader) loadInitial(ctx context.Context, index int, restart *domain.ChapterState) error {
	if !l.IsChapterIndexValid(index) {
		return l.signalInvalid(ctx, InvalidChapter{ChapterIndex: index})
	}

	err := l.main.Do(ctx, func() {
		l.items.clear()
		l.mu.Lock()
		clear(l.loaded)
		l.mu.Unlock()
	})
	if err != nil {
		return err
	}

	if err := l.addChapter(ctx, index, l.appendEditor(runDirect)); err != nil {
		return err
	}

	pos := domain.InitialPositionChapter{ChapterIndex: index}
	if restart != nil {
		pos.ChapterItemPosition = restart.ChapterItemPosition
		pos.ChapterItemOffset = restart.Offset
	} else if l.resume != nil {
		resumed, err := l.resume.InitialPosition(ctx, l.bookID, index, l.chapters[index])
		if err != nil {
			l.logger.Warn("resume position unavailable", "chapter_index", index, "error", err)
		} else {
			pos = resumed
		}
	}

	if err := l.main.Do(ctx, func() { l.view.get().SetInitialPosition(pos) }); err != nil {
		return err
	}

	l.logger.Info("initial chapter loaded",
		"chapter_index", index,
		"chapter_item_position", pos.ChapterItemPosition,
		"restarted", restart != nil,
	)
	l.chapterLoaded.Publish(ChapterLoaded{ChapterIndex: index, Kind: LoadInitial})
	return nil
}

func (l *Loader) loadPrevious(ctx context.Context) error {
	first, ok := l.items.First()
	if !ok {
		return nil
	}
	if _, atStart := first.(domain.BookStart); atStart {
		return nil
	}

	index := first.ChapterIndex() - 1
	if index < 0 {
		return l.main.Do(ctx, func() {
			l.view.get().MaintainStartPosition(func() {
				l.items.insertAt(0, domain.BookStart{})
			})
		})
	}

	ed := l.prependEditor(func(fn func()) { l.view.get().MaintainLastVisiblePosition(fn) })
	if err := l.addChapter(ctx, index, ed); err != nil {
		return err
	}

	l.logger.Info("previous chapter loaded", "chapter_index", index)
	l.chapterLoaded.Publish(ChapterLoaded{ChapterIndex: index, Kind: LoadPrevious})
	return nil
}

func (l *Loader) loadNext(ctx context.Context) error {
	last, ok := l.items.Last()
	if !ok {
		return nil
	}
	if _, atEnd := last.(domain.BookEnd); atEnd {
		return nil
	}

	index := last.ChapterIndex() + 1
	if index >= len(l.chapters) {
		return l.main.Do(ctx, func() {
			l.view.get().MaintainPosition(func() {
				l.items.append(domain.BookEnd{Chapter: len(l.chapters)})
			})
		})
	}

	ed := l.appendEditor(func(fn func()) { l.view.get().MaintainPosition(fn) })
	if err := l.addChapter(ctx, index, ed); err != nil {
		return err
	}

	l.logger.Info("next chapter loaded", "chapter_index", index)
	l.chapterLoaded.Publish(ChapterLoaded{ChapterIndex: index, Kind: LoadNext})
	return nil
}

func (l *Loader) signalInvalid(ctx context.Context, ev InvalidChapter) error {
	l.logger.Warn("invalid chapter requested", "chapter_index", ev.ChapterIndex, "chapter_url", ev.ChapterURL)
	if err := l.main.Do(ctx, func() { l.view.get().ShowInvalidChapterDialog() }); err != nil {
		return err
	}
	l.invalidChapter.Publish(ev)
	return nil
}

// editor is the set of structural edits addChapter performs. Every call happens
// inside a maintain scope on the main queue.
type editor struct {
	insert    func(domain.Item)
	insertAll func([]domain.Item)
	remove    func(domain.Item)
	maintain  func(fn func())
}

func runDirect(fn func()) { fn() }

func (l *Loader) appendEditor(maintain func(fn func())) editor {
	return editor{
		insert:    func(it domain.Item) { l.items.append(it) },
		insertAll: func(its []domain.Item) { l.items.append(its...) },
		remove:    func(it domain.Item) { l.items.remove(it) },
		maintain:  maintain,
	}
}

// prependEditor inserts at a cursor that starts at the head of the sequence.
func (l *Loader) prependEditor(maintain func(fn func())) editor {
	cursor := 0
	return editor{
		insert: func(it domain.Item) {
			l.items.insertAt(cursor, it)
			cursor++
		},
		insertAll: func(its []domain.Item) {
			l.items.insertAt(cursor, its...)
			cursor += len(its)
		},
		remove: func(it domain.Item) {
			if i := l.items.remove(it); i >= 0 && i < cursor {
				cursor--
			}
		},
		maintain: maintain,
	}
}

func (l *Loader) apply(ctx context.Context, ed editor, edits func()) error {
	return l.main.Do(ctx, func() { ed.maintain(edits) })
}

func (l *Loader) addChapter(ctx context.Context, index int, ed editor) error {
	chapter := l.chapters[index]
	translate := l.translationActive()

	title := domain.Title{
		Position: domain.Position{ChapterIndex: index, ChapterItemPosition: 0, ChapterURL: chapter.URL},
		Text:     chapter.Title,
	}
	if translate {
		if text, ok := l.translateTitle(ctx, chapter.Title); ok {
			title.TextTranslated = text
		}
	}
	progress := domain.Progressbar{Chapter: index}

	err := l.apply(ctx, ed, func() {
		ed.insert(domain.Divider{Chapter: index})
		ed.insert(title)
		ed.insert(progress)
	})
	if err != nil {
		return err
	}

	body, err := l.fetch(ctx, chapter.URL)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return l.failChapter(ctx, ed, index, err, progress)
	}

	items, err := l.convert(chapter.URL, index, body.Body)
	if err != nil {
		return l.failChapter(ctx, ed, index, err, progress)
	}

	var marker domain.Item
	if translate {
		marker = domain.Translating{
			Chapter:        index,
			SourceLanguage: l.translator.SourceLanguage(),
			TargetLanguage: l.translator.TargetLanguage(),
		}
		if err := l.apply(ctx, ed, func() { ed.insert(marker) }); err != nil {
			return err
		}
		items, err = l.translateItems(ctx, items)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return l.failChapter(ctx, ed, index, err, progress, marker)
		}
	}

	l.setStats(domain.ChapterStats{Chapter: chapter, ItemsCount: len(items), OrderedChaptersIndex: index})

	err = l.apply(ctx, ed, func() {
		ed.remove(progress)
		if marker != nil {
			ed.remove(marker)
		}
		if translate {
			ed.insert(domain.TranslationAttribution{Chapter: index})
		}
		ed.insertAll(items)
		ed.insert(domain.Divider{Chapter: index})
	})
	if err != nil {
		return err
	}

	l.markLoaded(chapter.URL)
	return nil
}

// failChapter replaces the transient items of a chapter with an error item.
// The chapter still counts as loaded.
func (l *Loader) failChapter(ctx context.Context, ed editor, index int, cause error, transient ...domain.Item) error {
	chapter := l.chapters[index]
	l.logger.Warn("chapter body unavailable",
		"chapter_index", index,
		"chapter_url", chapter.URL,
		"error", cause,
	)
	l.setStats(domain.ChapterStats{Chapter: chapter, ItemsCount: 1, OrderedChaptersIndex: index})
	failure := domain.ErrorItem{Chapter: index, Message: cause.Error()}
	err := l.apply(ctx, ed, func() {
		for _, it := range transient {
			ed.remove(it)
		}
		ed.insert(failure)
	})
	if err != nil {
		return err
	}
	l.markLoaded(chapter.URL)
	return nil
}

func (l *Loader) fetch(ctx context.Context, url string) (body ChapterBody, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chapter source panicked: %v", r)
		}
	}()
	return l.source.Fetch(ctx, url)
}

func (l *Loader) convert(url string, index int, text string) (items []domain.Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chapter converter panicked: %v", r)
		}
	}()
	return l.converter.Convert(url, index, 1, text), nil
}

// translateTitle reports a panicking translator as an untranslated title.
func (l *Loader) translateTitle(ctx context.Context, text string) (translated string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("translator panicked", "panic", r)
			translated, ok = "", false
		}
	}()
	return l.translator.Translate(ctx, text)
}

func (l *Loader) translationActive() bool {
	return l.translator != nil && l.translator.IsActive()
}

// translateItems rewrites every body paragraph. Paragraphs whose translation
// fails keep their original text; a panicking translator fails the pass.
func (l *Loader) translateItems(ctx context.Context, items []domain.Item) ([]domain.Item, error) {
	out := slices.Clone(items)

	var g errgroup.Group
	g.SetLimit(l.workers)
	for i, it := range items {
		b, ok := it.(domain.Body)
		if !ok {
			continue
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("translator panicked: %v", r)
				}
			}()
			if text, ok := l.translator.Translate(ctx, b.Text); ok {
				b.TextTranslated = text
				out[i] = b
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Loader) setStats(s domain.ChapterStats) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats[s.Chapter.URL] = s
}

func (l *Loader) markLoaded(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded[url] = true
}

// ChapterStats returns the stats recorded for chapterURL.
func (l *Loader) ChapterStats(chapterURL string) (domain.ChapterStats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stats[chapterURL]
	return s, ok
}

// LoadedChapters returns the urls of loaded chapters in chapter order.
func (l *Loader) LoadedChapters() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var urls []string
	for _, c := range l.chapters {
		if l.loaded[c.URL] {
			urls = append(urls, c.URL)
		}
	}
	return urls
}

// ItemContext resolves the item at itemIndex, read as part of chapterURL.
func (l *Loader) ItemContext(itemIndex int, chapterURL string) (domain.ReadingChapterPosStats, bool) {
	item, ok := l.items.At(itemIndex)
	if !ok {
		return domain.ReadingChapterPosStats{}, false
	}
	stats, ok := l.ChapterStats(chapterURL)
	if !ok {
		return domain.ReadingChapterPosStats{}, false
	}

	position := 0
	if p, ok := domain.AsPositioned(item); ok {
		position = p.Pos().ChapterItemPosition
	}
	return l.posStats(stats, position), true
}

// ItemContextAt resolves a (chapterIndex, chapterItemPosition) pair.
func (l *Loader) ItemContextAt(chapterIndex, chapterItemPosition int) (domain.ReadingChapterPosStats, bool) {
	if !l.IsChapterIndexValid(chapterIndex) {
		return domain.ReadingChapterPosStats{}, false
	}
	stats, ok := l.ChapterStats(l.chapters[chapterIndex].URL)
	if !ok {
		return domain.ReadingChapterPosStats{}, false
	}
	return l.posStats(stats, chapterItemPosition), true
}

func (l *Loader) posStats(stats domain.ChapterStats, position int) domain.ReadingChapterPosStats {
	return domain.ReadingChapterPosStats{
		ChapterIndex:        stats.OrderedChaptersIndex,
		ChapterCount:        len(l.chapters),
		ChapterItemPosition: position,
		ChapterItemsCount:   stats.ItemsCount,
		ChapterTitle:        stats.Chapter.Title,
		ChapterURL:          stats.Chapter.URL,
	}
}

// IsLastChapter reports whether chapterURL is the final chapter of the book.
func (l *Loader) IsLastChapter(chapterURL string) bool {
	return len(l.chapters) > 0 && l.chapters[len(l.chapters)-1].URL == chapterURL
}

// IsChapterIndexLoaded reports whether the chapter at index has been loaded.
func (l *Loader) IsChapterIndexLoaded(index int) bool {
	if !l.IsChapterIndexValid(index) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded[l.chapters[index].URL]
}

// IsChapterIndexValid reports whether index addresses a chapter.
func (l *Loader) IsChapterIndexValid(index int) bool {
	return index >= 0 && index < len(l.chapters)
}

// IsChapterIndexTheLast reports whether index is the final chapter.
func (l *Loader) IsChapterIndexTheLast(index int) bool {
	return index == len(l.chapters)-1
}
