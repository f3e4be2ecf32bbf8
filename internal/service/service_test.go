package service

import (
	"archive/zip"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-reader/internal/converter"
	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/errors"
	"github.com/listenupapp/listenup-reader/internal/feed"
	"github.com/listenupapp/listenup-reader/internal/reader"
	"github.com/listenupapp/listenup-reader/internal/source"
	"github.com/listenupapp/listenup-reader/internal/store/sqlite"
	"github.com/listenupapp/listenup-reader/internal/tts"
	"github.com/listenupapp/listenup-reader/internal/validation"
)

type fakeEngine struct {
	mu       sync.Mutex
	spoken   []string
	shutdown bool
	progress feed.Feed[tts.Progress]
}

func (e *fakeEngine) Speak(_ context.Context, _, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spoken = append(e.spoken, text)
	return nil
}

func (e *fakeEngine) Flush() error                       { return nil }
func (e *fakeEngine) SetVoice(string) error              { return nil }
func (e *fakeEngine) SetSpeed(float64) error             { return nil }
func (e *fakeEngine) SetPitch(float64) error             { return nil }
func (e *fakeEngine) Progress() *feed.Feed[tts.Progress] { return &e.progress }

func (e *fakeEngine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdown = true
	return nil
}

func (e *fakeEngine) spokenTexts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.spoken...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
	closed []string
}

func (r *recordingSink) PublishSession(sessionID, _ string, ev reader.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sessionID+":"+ev.Type)
}

func (r *recordingSink) SessionClosed(sessionID, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, sessionID)
}

type testEnv struct {
	store    *sqlite.Store
	library  *LibraryService
	sessions *SessionService
	engines  []*fakeEngine
	sink     *recordingSink
	mu       sync.Mutex
}

func newTestEnv(t *testing.T, defaults SessionDefaults) *testEnv {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "library.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	v := validation.New()
	env := &testEnv{store: st, sink: &recordingSink{}}
	env.library = NewLibraryService(st, v, logger)

	router := source.NewRouter(nil, logger).Handle(source.NewEPUBSource(), false, "epub")
	env.sessions = NewSessionService(SessionDeps{
		Library:   env.library,
		Store:     st,
		Source:    router,
		Converter: converter.New(),
		Engines: func(tts.Settings) (SpeechEngine, error) {
			e := &fakeEngine{}
			env.mu.Lock()
			env.engines = append(env.engines, e)
			env.mu.Unlock()
			return e, nil
		},
		Sink:      env.sink,
		Validator: v,
		Logger:    logger,
	}, defaults)
	t.Cleanup(func() { _ = env.sessions.Shutdown(context.Background()) })
	return env
}

func writeEPUB(t *testing.T, chapters ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.epub")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	write := func(name, content string) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}

	write("mimetype", "application/epub+zip")
	write("META-INF/container.xml", `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`)

	manifest, spine := "", ""
	for i, title := range chapters {
		name := fmt.Sprintf("c%d.xhtml", i)
		manifest += fmt.Sprintf(`<item id="c%d" href="%s" media-type="application/xhtml+xml"/>`, i, name)
		spine += fmt.Sprintf(`<itemref idref="c%d"/>`, i)
		write(name, fmt.Sprintf(`<html><body><h1>%s</h1><p>First of %s.</p><p>Last of %s.</p></body></html>`, title, title, title))
	}
	write("content.opf", `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>Night Train</dc:title></metadata>
  <manifest>`+manifest+`</manifest>
  <spine>`+spine+`</spine>
</package>`)

	require.NoError(t, zw.Close())
	return path
}

func waitIdle(t *testing.T, live *LiveSession, chapterIndex int) {
	t.Helper()
	require.Eventually(t, func() bool {
		l := live.Session.Loader()
		return l.IsChapterIndexLoaded(chapterIndex) && l.State() == reader.StateIdle
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLibraryService_CreateBookValidates(t *testing.T) {
	env := newTestEnv(t, SessionDefaults{})

	_, err := env.library.CreateBook(context.Background(), CreateBookRequest{
		Title:    "",
		URL:      "gopher://example.com",
		Chapters: []ChapterInput{{URL: "not a url"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestLibraryService_SearchChapters(t *testing.T) {
	env := newTestEnv(t, SessionDefaults{})
	ctx := context.Background()

	titles := []string{"Prologue", "The Dark Forest", "Into the Forest", "Epilogue"}
	req := CreateBookRequest{Title: "Woods", URL: "https://example.com/woods"}
	for i, title := range titles {
		req.Chapters = append(req.Chapters, ChapterInput{URL: fmt.Sprintf("https://example.com/woods/%d", i), Title: title})
	}
	req.Chapters = append(req.Chapters, ChapterInput{URL: "https://example.com/woods/untitled"})
	book, err := env.library.CreateBook(ctx, req)
	require.NoError(t, err)

	all, err := env.library.SearchChapters(ctx, book.ID, "")
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "Chapter 5", all[4].Chapter.Title, "untitled chapters are numbered")

	hits, err := env.library.SearchChapters(ctx, book.ID, "Forest")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Contains(t, h.Chapter.Title, "Forest")
		assert.Len(t, h.MatchedIndexes, len("forest"))
	}

	hits, err = env.library.SearchChapters(ctx, book.ID, "plg")
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "Prologue", hits[0].Chapter.Title)

	_, err = env.library.SearchChapters(ctx, "missing", "x")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestLibraryService_SearchBooks(t *testing.T) {
	env := newTestEnv(t, SessionDefaults{})
	ctx := context.Background()

	for i, title := range []string{"The Long Way Home", "Homeward", "Stars Beyond"} {
		_, err := env.library.CreateBook(ctx, CreateBookRequest{Title: title, URL: fmt.Sprintf("https://example.com/%d", i)})
		require.NoError(t, err)
	}

	books, err := env.library.SearchBooks(ctx, "home")
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "Homeward", books[0].Title, "closest title first")

	books, err = env.library.SearchBooks(ctx, "  ")
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestLibraryService_ImportEPUBAndResume(t *testing.T) {
	env := newTestEnv(t, SessionDefaults{})
	ctx := context.Background()
	path := writeEPUB(t, "Departure", "Arrival")

	book, err := env.library.ImportEPUB(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "Night Train", book.Title)

	chapters, err := env.library.ListChapters(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	assert.Equal(t, "Departure", chapters[0].Title)

	_, err = env.library.ImportEPUB(ctx, path)
	assert.True(t, errors.Is(err, errors.ErrAlreadyExists))

	resume, err := env.library.ResumeChapter(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, chapters[0].URL, resume.URL)

	require.NoError(t, env.store.SavePosition(ctx, book.ID, domain.ChapterState{ChapterURL: chapters[1].URL}, nil))
	resume, err = env.library.ResumeChapter(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, chapters[1].URL, resume.URL)
}

func TestSessionService_Lifecycle(t *testing.T) {
	env := newTestEnv(t, SessionDefaults{HalfBuffer: 2})
	ctx := context.Background()

	book, err := env.library.ImportEPUB(ctx, writeEPUB(t, "Departure", "Arrival"))
	require.NoError(t, err)

	live, err := env.sessions.Open(ctx, OpenSessionRequest{BookID: book.ID})
	require.NoError(t, err)
	waitIdle(t, live, 0)

	info := live.Info()
	assert.Equal(t, book.ID, info.BookID)
	assert.Equal(t, domain.ModeReading, info.Mode)
	assert.False(t, info.TranslationEnabled)
	assert.Len(t, env.sessions.List(), 1)

	require.NoError(t, live.Session.StartSpeaking(ctx))
	spoken := env.engines[0].spokenTexts()
	require.NotEmpty(t, spoken)
	assert.Equal(t, "Departure", spoken[0])

	got, err := env.sessions.Get(live.ID)
	require.NoError(t, err)
	assert.Same(t, live, got)

	require.NoError(t, env.sessions.Close(ctx, live.ID))
	assert.True(t, env.engines[0].shutdown)

	_, err = env.sessions.Get(live.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.True(t, errors.Is(env.sessions.Close(ctx, live.ID), errors.ErrNotFound))

	env.sink.mu.Lock()
	assert.Equal(t, []string{live.ID}, env.sink.closed)
	assert.Contains(t, env.sink.events, live.ID+":"+reader.EventTypeMode)
	env.sink.mu.Unlock()

	stored, err := env.store.GetBook(ctx, book.ID)
	require.NoError(t, err)
	chapters, _ := env.store.ListChapters(ctx, book.ID)
	assert.Equal(t, chapters[0].URL, stored.LastReadChapter, "closing persists the position")
}

func TestSessionService_OpenErrors(t *testing.T) {
	env := newTestEnv(t, SessionDefaults{MaxSessions: 1})
	ctx := context.Background()

	_, err := env.sessions.Open(ctx, OpenSessionRequest{})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = env.sessions.Open(ctx, OpenSessionRequest{BookID: "missing"})
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	book, err := env.library.ImportEPUB(ctx, writeEPUB(t, "Only"))
	require.NoError(t, err)
	live, err := env.sessions.Open(ctx, OpenSessionRequest{BookID: book.ID})
	require.NoError(t, err)
	waitIdle(t, live, 0)

	_, err = env.sessions.Open(ctx, OpenSessionRequest{BookID: book.ID})
	assert.True(t, errors.Is(err, errors.ErrConflict), "session limit")
}

func TestSessionService_TranslationAndSpeech(t *testing.T) {
	env := newTestEnv(t, SessionDefaults{})
	ctx := context.Background()

	book, err := env.library.ImportEPUB(ctx, writeEPUB(t, "Only"))
	require.NoError(t, err)
	live, err := env.sessions.Open(ctx, OpenSessionRequest{BookID: book.ID})
	require.NoError(t, err)
	waitIdle(t, live, 0)

	err = env.sessions.SetTranslation(live.ID, TranslationRequest{Enabled: true, Source: "en", Target: "not a tag"})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	err = env.sessions.SetTranslation(live.ID, TranslationRequest{Enabled: true, Source: "en", Target: "fr"})
	assert.True(t, errors.Is(err, errors.ErrValidation), "no translation backend configured")

	speed := 1.5
	require.NoError(t, env.sessions.SetSpeech(ctx, live.ID, SpeechSettingsRequest{Speed: &speed}))
	assert.Equal(t, 1.5, live.Info().Speech.Speed)

	tooFast := 9.0
	err = env.sessions.SetSpeech(ctx, live.ID, SpeechSettingsRequest{Speed: &tooFast})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestSessionService_PositionLoadAndSpeechActions(t *testing.T) {
	env := newTestEnv(t, SessionDefaults{HalfBuffer: 2})
	ctx := context.Background()

	book, err := env.library.ImportEPUB(ctx, writeEPUB(t, "Departure", "Arrival"))
	require.NoError(t, err)
	chapters, err := env.library.ListChapters(ctx, book.ID)
	require.NoError(t, err)
	live, err := env.sessions.Open(ctx, OpenSessionRequest{BookID: book.ID})
	require.NoError(t, err)
	waitIdle(t, live, 0)

	err = env.sessions.UpdatePosition(ctx, live.ID, PositionRequest{Offset: 3})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	require.NoError(t, env.sessions.UpdatePosition(ctx, live.ID, PositionRequest{ChapterURL: chapters[0].URL, ChapterItemPosition: 3}))
	assert.Equal(t, 3, live.Session.Current().ChapterItemPosition)

	err = env.sessions.SpeechAction(ctx, live.ID, SpeechNextItem)
	assert.True(t, errors.Is(err, errors.ErrConflict), "speech is not running")

	_, err = env.sessions.Load(live.ID, "sideways", LoadRequest{})
	assert.True(t, errors.Is(err, errors.ErrValidation))
	queued, err := env.sessions.Load(live.ID, LoadNext, LoadRequest{})
	require.NoError(t, err)
	assert.True(t, queued)
	waitIdle(t, live, 1)

	require.NoError(t, env.sessions.SpeechAction(ctx, live.ID, SpeechStart))
	assert.Equal(t, domain.ModeSpeaking, live.Session.Mode())
	assert.Equal(t, "Last of Departure.", env.engines[0].spokenTexts()[0])

	err = env.sessions.SpeechAction(ctx, live.ID, "rewind")
	assert.True(t, errors.Is(err, errors.ErrValidation))

	require.NoError(t, env.sessions.SpeechAction(ctx, live.ID, SpeechNextChapter))
	assert.Contains(t, env.engines[0].spokenTexts(), "Arrival")

	require.NoError(t, env.sessions.SpeechAction(ctx, live.ID, SpeechStop))
	assert.Equal(t, domain.ModeReading, live.Session.Mode())

	_, err = env.sessions.Load("missing", LoadNext, LoadRequest{})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestSessionService_LoadInitialAndRestart(t *testing.T) {
	env := newTestEnv(t, SessionDefaults{HalfBuffer: 2})
	ctx := context.Background()
	book, err := env.library.ImportEPUB(ctx, writeEPUB(t, "Departure", "Arrival"))
	require.NoError(t, err)
	chapters, err := env.library.ListChapters(ctx, book.ID)
	require.NoError(t, err)
	live, err := env.sessions.Open(ctx, OpenSessionRequest{BookID: book.ID})
	require.NoError(t, err)
	waitIdle(t, live, 0)

	_, err = env.sessions.Load(live.ID, LoadInitial, LoadRequest{})
	assert.True(t, errors.Is(err, errors.ErrValidation), "chapter_index is required")
	far := 9
	_, err = env.sessions.Load(live.ID, LoadInitial, LoadRequest{ChapterIndex: &far})
	assert.True(t, errors.Is(err, errors.ErrInvalidChapter))
	_, err = env.sessions.Load(live.ID, LoadRestart, LoadRequest{ChapterURL: chapters[0].URL + "-missing"})
	assert.True(t, errors.Is(err, errors.ErrInvalidChapter))

	second := 1
	queued, err := env.sessions.Load(live.ID, LoadInitial, LoadRequest{ChapterIndex: &second})
	require.NoError(t, err)
	assert.True(t, queued)
	waitIdle(t, live, 1)
	assert.Equal(t, []string{chapters[1].URL}, live.Session.Loader().LoadedChapters())
	assert.Equal(t, chapters[1].URL, live.Session.Current().ChapterURL)

	queued, err = env.sessions.Load(live.ID, LoadRestart, LoadRequest{ChapterURL: chapters[0].URL, ChapterItemPosition: 2, Offset: 5})
	require.NoError(t, err)
	assert.True(t, queued)
	waitIdle(t, live, 0)
	assert.Equal(t, []string{chapters[0].URL}, live.Session.Loader().LoadedChapters())
	assert.Equal(t, domain.ChapterState{ChapterURL: chapters[0].URL, ChapterItemPosition: 2, Offset: 5}, live.Session.Current())
}
