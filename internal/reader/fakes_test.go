package reader

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/errors"
	"github.com/listenupapp/listenup-reader/internal/feed"
	"github.com/listenupapp/listenup-reader/internal/tts"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testChapters(n int) []domain.Chapter {
	chapters := make([]domain.Chapter, n)
	for i := range chapters {
		chapters[i] = domain.Chapter{
			URL:    fmt.Sprintf("https://example.com/book/%d", i),
			BookID: "book-1",
			Index:  i,
			Title:  fmt.Sprintf("Chapter %d", i),
		}
	}
	return chapters
}

// fakeSource serves bodies by url. A url listed in gates blocks until the gate is closed.
type fakeSource struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	gates  map[string]chan struct{}
	calls  map[string]int
}

func newFakeSource(chapters []domain.Chapter, paragraphs int) *fakeSource {
	s := &fakeSource{
		bodies: make(map[string]string),
		errs:   make(map[string]error),
		gates:  make(map[string]chan struct{}),
		calls:  make(map[string]int),
	}
	for i, c := range chapters {
		parts := make([]string, paragraphs)
		for p := range parts {
			parts[p] = fmt.Sprintf("c%d p%d", i, p+1)
		}
		s.bodies[c.URL] = strings.Join(parts, "\n\n")
	}
	return s
}

func (s *fakeSource) Fetch(ctx context.Context, url string) (ChapterBody, error) {
	s.mu.Lock()
	s.calls[url]++
	gate := s.gates[url]
	err := s.errs[url]
	body, ok := s.bodies[url]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ChapterBody{}, ctx.Err()
		}
	}
	if err != nil {
		return ChapterBody{}, err
	}
	if !ok {
		return ChapterBody{}, errors.Unreachablef("no body for %s", url)
	}
	return ChapterBody{Body: body}, nil
}

func (s *fakeSource) gate(url string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.gates[url] = ch
	return ch
}

func (s *fakeSource) callCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

// paragraphConverter splits on blank lines.
type paragraphConverter struct{}

func (paragraphConverter) Convert(url string, chapterIndex, start int, text string) []domain.Item {
	parts := strings.Split(text, "\n\n")
	items := make([]domain.Item, 0, len(parts))
	for i, p := range parts {
		loc := domain.LocationMiddle
		switch {
		case i == len(parts)-1:
			loc = domain.LocationLast
		case i == 0:
			loc = domain.LocationFirst
		}
		items = append(items, domain.Body{
			Position: domain.Position{ChapterIndex: chapterIndex, ChapterItemPosition: start + i, ChapterURL: url},
			Text:     p,
			Location: loc,
		})
	}
	return items
}

// panickingConverter fails every conversion with a panic.
type panickingConverter struct{}

func (panickingConverter) Convert(string, int, int, string) []domain.Item {
	panic("malformed chapter")
}

// panickingTranslator translates titles and panics on body text.
type panickingTranslator struct{ upperTranslator }

func (t *panickingTranslator) Translate(ctx context.Context, text string) (string, bool) {
	if strings.HasPrefix(text, "Chapter") {
		return t.upperTranslator.Translate(ctx, text)
	}
	panic("translation backend crashed")
}

// upperTranslator uppercases text; texts listed in failures are not translated.
type upperTranslator struct {
	mu       sync.Mutex
	active   bool
	src, dst string
	failures map[string]bool
}

func (t *upperTranslator) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
func (t *upperTranslator) SourceLanguage() string { return t.src }
func (t *upperTranslator) TargetLanguage() string { return t.dst }

func (t *upperTranslator) Translate(_ context.Context, text string) (string, bool) {
	if t.failures[text] {
		return "", false
	}
	return strings.ToUpper(text), true
}

func (t *upperTranslator) Init(context.Context) error { return nil }

func (t *upperTranslator) Configure(active bool, src, dst string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active, t.src, t.dst = active, src, dst
	return nil
}

// fixedResume returns the same position for every chapter.
type fixedResume struct {
	position, offset int
}

func (r fixedResume) InitialPosition(_ context.Context, _ string, index int, _ domain.Chapter) (domain.InitialPositionChapter, error) {
	return domain.InitialPositionChapter{ChapterIndex: index, ChapterItemPosition: r.position, ChapterItemOffset: r.offset}, nil
}

// recordingView records every call made by the loader.
type recordingView struct {
	mu       sync.Mutex
	calls    []string
	initial  []domain.InitialPositionChapter
	invalids int
}

func (v *recordingView) record(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, name)
}

func (v *recordingView) MaintainPosition(fn func()) { v.record("maintain"); fn() }
func (v *recordingView) MaintainStartPosition(fn func()) {
	v.record("maintain_start")
	fn()
}
func (v *recordingView) MaintainLastVisiblePosition(fn func()) {
	v.record("maintain_last_visible")
	fn()
}

func (v *recordingView) SetInitialPosition(pos domain.InitialPositionChapter) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.initial = append(v.initial, pos)
}

func (v *recordingView) ShowInvalidChapterDialog() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.invalids++
}

func (v *recordingView) snapshot() ([]string, []domain.InitialPositionChapter, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.calls...), append([]domain.InitialPositionChapter(nil), v.initial...), v.invalids
}

// fakeEngine records queued utterances; tests drive progress explicitly.
type fakeEngine struct {
	mu       sync.Mutex
	spoken   []string
	texts    []string
	flushes  int
	settings tts.Settings
	progress feed.Feed[tts.Progress]
}

func (e *fakeEngine) Speak(_ context.Context, id, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spoken = append(e.spoken, id)
	e.texts = append(e.texts, text)
	return nil
}

func (e *fakeEngine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushes++
	return nil
}

func (e *fakeEngine) SetVoice(v string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings.Voice = v
	return nil
}

func (e *fakeEngine) SetSpeed(s float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings.Speed = s
	return nil
}

func (e *fakeEngine) SetPitch(p float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings.Pitch = p
	return nil
}

func (e *fakeEngine) Progress() *feed.Feed[tts.Progress] { return &e.progress }

func (e *fakeEngine) spokenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.spoken)
}

func (e *fakeEngine) spokenTexts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

func (e *fakeEngine) idAt(i int) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spoken[i]
}

func (e *fakeEngine) start(id string) {
	e.progress.Publish(tts.Progress{UtteranceID: id, Kind: tts.ProgressStart})
}

func (e *fakeEngine) done(id string) {
	e.progress.Publish(tts.Progress{UtteranceID: id, Kind: tts.ProgressDone})
}

// fakeRepo is an in-memory library and position repository.
type fakeRepo struct {
	mu       sync.Mutex
	book     domain.Book
	chapters []domain.Chapter
	saves    []savedPosition
	starts   []string
	ends     []string
}

type savedPosition struct {
	New domain.ChapterState
	Old *domain.ChapterState
}

func newFakeRepo(chapters []domain.Chapter) *fakeRepo {
	return &fakeRepo{
		book:     domain.Book{ID: "book-1", Title: "Test Book", LastReadChapter: chapters[0].URL},
		chapters: chapters,
	}
}

func (r *fakeRepo) GetBook(_ context.Context, id string) (*domain.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != r.book.ID {
		return nil, errors.NotFoundf("book %s", id)
	}
	b := r.book
	return &b, nil
}

func (r *fakeRepo) GetChapter(_ context.Context, url string) (*domain.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chapters {
		if c.URL == url {
			return &c, nil
		}
	}
	return nil, errors.NotFoundf("chapter %s", url)
}

func (r *fakeRepo) ListChapters(context.Context, string) ([]domain.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Chapter(nil), r.chapters...), nil
}

func (r *fakeRepo) SavePosition(_ context.Context, _ string, newState domain.ChapterState, oldState *domain.ChapterState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var old *domain.ChapterState
	if oldState != nil {
		o := *oldState
		old = &o
	}
	r.saves = append(r.saves, savedPosition{New: newState, Old: old})
	return nil
}

func (r *fakeRepo) MarkChapterStartSeen(_ context.Context, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, url)
	return nil
}

func (r *fakeRepo) MarkChapterEndSeen(_ context.Context, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends = append(r.ends, url)
	return nil
}

func (r *fakeRepo) savedPositions() []savedPosition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]savedPosition(nil), r.saves...)
}

type loaderFixture struct {
	loader   *Loader
	source   *fakeSource
	view     *recordingView
	chapters []domain.Chapter
}

func newLoaderFixture(t *testing.T, chapterCount, paragraphs int, opts ...func(*LoaderConfig)) *loaderFixture {
	t.Helper()
	chapters := testChapters(chapterCount)
	source := newFakeSource(chapters, paragraphs)
	cfg := LoaderConfig{
		BookID:    "book-1",
		Chapters:  chapters,
		Source:    source,
		Converter: paragraphConverter{},
		Resume:    fixedResume{},
		Logger:    discardLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	l := NewLoader(cfg)
	view := &recordingView{}
	l.Attach(view)
	t.Cleanup(l.Close)
	return &loaderFixture{loader: l, source: source, view: view, chapters: chapters}
}

// waitLoaded blocks until the chapter at index is loaded and the loader is idle.
func (f *loaderFixture) waitLoaded(t *testing.T, index int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.loader.IsChapterIndexLoaded(index) && f.loader.State() == StateIdle
	}, waitFor, tick)
}

func kinds(items []domain.Item) []domain.ItemKind {
	out := make([]domain.ItemKind, len(items))
	for i, it := range items {
		out[i] = it.Kind()
	}
	return out
}

// requireOrdered asserts positioned items are strictly increasing by (chapter, position).
func requireOrdered(t *testing.T, items []domain.Item) {
	t.Helper()
	var prev *domain.Position
	for _, it := range items {
		p, ok := domain.AsPositioned(it)
		if !ok {
			continue
		}
		pos := p.Pos()
		if prev != nil {
			require.Truef(t, prev.Less(pos), "%+v must come before %+v", *prev, pos)
		}
		prev = &pos
	}
}

// waitFirst blocks until the sequence starts with an item of kind and the loader is idle.
func (f *loaderFixture) waitFirst(t *testing.T, kind domain.ItemKind) {
	t.Helper()
	require.Eventually(t, func() bool {
		first, ok := f.loader.Items().First()
		return ok && first.Kind() == kind && f.loader.State() == StateIdle
	}, waitFor, tick)
}
