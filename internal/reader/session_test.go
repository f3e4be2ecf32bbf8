package reader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/errors"
)

type sessionFixture struct {
	session    *Session
	repo       *fakeRepo
	source     *fakeSource
	engine     *fakeEngine
	translator *upperTranslator
	view       *recordingView
	chapters   []domain.Chapter
}

func newSessionFixture(t *testing.T, chapterCount, paragraphs int, prepare ...func(*sessionFixture)) *sessionFixture {
	t.Helper()
	chapters := testChapters(chapterCount)
	f := &sessionFixture{
		repo:       newFakeRepo(chapters),
		source:     newFakeSource(chapters, paragraphs),
		engine:     &fakeEngine{},
		translator: &upperTranslator{},
		view:       &recordingView{},
		chapters:   chapters,
	}
	for _, p := range prepare {
		p(f)
	}

	s, err := NewSession(context.Background(), SessionConfig{
		BookID:     "book-1",
		ChapterURL: chapters[0].URL,
		HalfBuffer: 2,
	}, SessionDeps{
		Library:    f.repo,
		Positions:  f.repo,
		Source:     f.source,
		Converter:  paragraphConverter{},
		Translator: f.translator,
		Engine:     f.engine,
		View:       f.view,
		Logger:     discardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	f.session = s
	return f
}

func (f *sessionFixture) waitLoaded(t *testing.T, index int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.session.Loader().IsChapterIndexLoaded(index) && f.session.Loader().State() == StateIdle
	}, waitFor, tick)
}

func TestSession_ReadingModePersistsManualPositions(t *testing.T) {
	f := newSessionFixture(t, 2, 4)
	f.waitLoaded(t, 0)
	ctx := context.Background()

	assert.Equal(t, domain.ModeReading, f.session.Mode())
	idx := f.session.Loader().Items().IndexOfPosition(0, 2)
	require.NoError(t, f.session.UpdateReadingPositionAt(ctx, idx, 5))

	saves := f.repo.savedPositions()
	require.Len(t, saves, 1)
	assert.Equal(t, domain.ChapterState{ChapterURL: f.chapters[0].URL, ChapterItemPosition: 2, Offset: 5}, saves[0].New)
	require.NotNil(t, saves[0].Old)
	assert.Equal(t, domain.ChapterState{ChapterURL: f.chapters[0].URL}, *saves[0].Old)

	// An unchanged position is not written again.
	require.NoError(t, f.session.UpdateReadingPositionAt(ctx, idx, 5))
	assert.Len(t, f.repo.savedPositions(), 1)

	err := f.session.UpdateReadingPositionAt(ctx, 0, 0)
	assert.True(t, errors.Is(err, errors.ErrValidation), "dividers carry no position")
	err = f.session.UpdateReadingPositionAt(ctx, 500, 0)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestSession_SpeakingModePersistsSpokenPositions(t *testing.T) {
	f := newSessionFixture(t, 2, 4)
	f.waitLoaded(t, 0)
	ctx := context.Background()
	url := f.chapters[0].URL

	idx := f.session.Loader().Items().IndexOfPosition(0, 2)
	require.NoError(t, f.session.UpdateReadingPositionAt(ctx, idx, 0))
	require.Len(t, f.repo.savedPositions(), 1)

	require.NoError(t, f.session.StartSpeaking(ctx))
	assert.Equal(t, domain.ModeSpeaking, f.session.Mode())
	assert.Equal(t, []string{"c0 p2", "c0 p3", "c0 p4"}, f.engine.spokenTexts())

	// Manual moves are tracked but not persisted while speaking.
	require.NoError(t, f.session.UpdateReadingPosition(ctx, domain.ChapterState{ChapterURL: url, ChapterItemPosition: 1}))
	assert.Len(t, f.repo.savedPositions(), 1)

	f.engine.start(f.engine.idAt(0))
	saves := f.repo.savedPositions()
	require.Len(t, saves, 2)
	assert.Equal(t, domain.ChapterState{ChapterURL: url, ChapterItemPosition: 2}, saves[1].New)
	assert.Nil(t, saves[1].Old)
	assert.Equal(t, domain.ChapterState{ChapterURL: url, ChapterItemPosition: 2}, f.session.Current())

	f.engine.done(f.engine.idAt(0))
	f.engine.start(f.engine.idAt(1))
	f.engine.done(f.engine.idAt(1))
	f.engine.start(f.engine.idAt(2))

	saves = f.repo.savedPositions()
	require.Len(t, saves, 4)
	assert.Equal(t, 3, saves[2].New.ChapterItemPosition)
	require.NotNil(t, saves[2].Old)
	assert.Equal(t, 2, saves[2].Old.ChapterItemPosition)
	assert.Equal(t, 4, saves[3].New.ChapterItemPosition)

	f.repo.mu.Lock()
	assert.Equal(t, []string{url}, f.repo.ends, "last paragraph marks the chapter end as seen")
	assert.Empty(t, f.repo.starts)
	f.repo.mu.Unlock()

	f.session.StopSpeaking()
	assert.Equal(t, domain.ModeReading, f.session.Mode())
}

func TestSession_FirstParagraphMarksStartSeen(t *testing.T) {
	f := newSessionFixture(t, 1, 3)
	f.waitLoaded(t, 0)
	ctx := context.Background()

	require.NoError(t, f.session.StartSpeaking(ctx))
	f.engine.start(f.engine.idAt(0))
	f.engine.done(f.engine.idAt(0))
	f.engine.start(f.engine.idAt(1))

	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	assert.Equal(t, []string{f.chapters[0].URL}, f.repo.starts)
}

func TestSession_AutoAdvanceAcrossChapters(t *testing.T) {
	f := newSessionFixture(t, 2, 1)
	f.waitLoaded(t, 0)
	ctx := context.Background()

	require.NoError(t, f.session.StartSpeaking(ctx))
	require.Equal(t, []string{"Chapter 0", "c0 p1"}, f.engine.spokenTexts())

	f.engine.start(f.engine.idAt(0))
	f.engine.done(f.engine.idAt(0))
	f.engine.start(f.engine.idAt(1))
	f.engine.done(f.engine.idAt(1))

	require.Eventually(t, func() bool { return f.engine.spokenCount() == 4 }, waitFor, tick)
	assert.Equal(t, []string{"Chapter 1", "c1 p1"}, f.engine.spokenTexts()[2:])
	assert.True(t, f.session.Loader().IsChapterIndexLoaded(1))

	f.engine.start(f.engine.idAt(2))
	f.engine.done(f.engine.idAt(2))
	f.engine.start(f.engine.idAt(3))
	f.engine.done(f.engine.idAt(3))

	// The last chapter ends playback.
	require.Eventually(t, func() bool { return f.session.Mode() == domain.ModeReading }, waitFor, tick)
}

func TestSession_StartSpeakingBeforeChapterLoaded(t *testing.T) {
	f := newSessionFixture(t, 1, 1, func(f *sessionFixture) {
		f.source.gate(f.chapters[0].URL)
	})

	err := f.session.StartSpeaking(context.Background())
	assert.True(t, errors.Is(err, errors.ErrConflict))
	assert.Equal(t, domain.ModeReading, f.session.Mode())
}

func TestSession_UnknownChapter(t *testing.T) {
	chapters := testChapters(1)
	repo := newFakeRepo(chapters)

	_, err := NewSession(context.Background(), SessionConfig{BookID: "book-1", ChapterURL: "https://example.com/nope"}, SessionDeps{
		Library:   repo,
		Positions: repo,
		Source:    newFakeSource(chapters, 1),
		Converter: paragraphConverter{},
		Engine:    &fakeEngine{},
		Logger:    discardLogger(),
	})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestSession_ResumesStoredPosition(t *testing.T) {
	f := newSessionFixture(t, 2, 4, func(f *sessionFixture) {
		f.repo.chapters[0].LastReadPosition = 3
		f.repo.chapters[0].LastReadOffset = 12
	})
	f.waitLoaded(t, 0)

	assert.Equal(t, domain.ChapterState{ChapterURL: f.chapters[0].URL, ChapterItemPosition: 3, Offset: 12}, f.session.Current())

	require.NoError(t, f.session.StartSpeaking(context.Background()))
	assert.Equal(t, "c0 p3", f.engine.spokenTexts()[0])
}

func TestSession_FinishedChapterStartsOverFromTitle(t *testing.T) {
	f := newSessionFixture(t, 2, 4, func(f *sessionFixture) {
		f.repo.chapters[0].Read = true
		f.repo.chapters[0].LastReadPosition = 3
		f.repo.book.LastReadChapter = f.chapters[1].URL
	})
	f.waitLoaded(t, 0)

	assert.Equal(t, domain.ChapterState{ChapterURL: f.chapters[0].URL}, f.session.Current())
	_, initial, _ := f.view.snapshot()
	assert.Equal(t, []domain.InitialPositionChapter{{ChapterIndex: 0}}, initial)

	require.NoError(t, f.session.StartSpeaking(context.Background()))
	assert.Equal(t, "Chapter 0", f.engine.spokenTexts()[0])
}

func TestSession_LoadChapterUsesResumePosition(t *testing.T) {
	f := newSessionFixture(t, 3, 4, func(f *sessionFixture) {
		f.repo.chapters[2].LastReadPosition = 2
		f.repo.chapters[2].LastReadOffset = 4
	})
	f.waitLoaded(t, 0)

	seen := make(chan domain.InitialPositionChapter, 4)
	unsub := f.session.Events().Subscribe(func(ev SessionEvent) {
		if ev.Type == EventTypeInitialPosition {
			seen <- ev.Data.(domain.InitialPositionChapter)
		}
	})
	defer unsub()

	require.True(t, f.session.LoadChapter(2))
	f.waitLoaded(t, 2)

	assert.Equal(t, []string{f.chapters[2].URL}, f.session.Loader().LoadedChapters())
	assert.Equal(t, domain.ChapterState{ChapterURL: f.chapters[2].URL, ChapterItemPosition: 2, Offset: 4}, f.session.Current())
	select {
	case pos := <-seen:
		assert.Equal(t, domain.InitialPositionChapter{ChapterIndex: 2, ChapterItemPosition: 2, ChapterItemOffset: 4}, pos)
	case <-time.After(waitFor):
		t.Fatal("initial position event not published")
	}
}

func TestSession_SetTranslationReloadsAtCurrentPosition(t *testing.T) {
	f := newSessionFixture(t, 3, 2)
	f.waitLoaded(t, 0)
	ctx := context.Background()

	f.session.Loader().TryLoadNext()
	f.waitLoaded(t, 1)
	idx := f.session.Loader().Items().IndexOfPosition(1, 1)
	require.NoError(t, f.session.UpdateReadingPositionAt(ctx, idx, 0))

	require.NoError(t, f.session.SetTranslation(true, "en", "fr"))
	f.waitLoaded(t, 1)

	assert.Equal(t, []string{f.chapters[1].URL}, f.session.Loader().LoadedChapters())
	items := f.session.Loader().Items().Snapshot()
	assert.Contains(t, kinds(items), domain.KindTranslationAttribution)
	title := items[1].(domain.Title)
	assert.Equal(t, "CHAPTER 1", title.TextTranslated)
}

func TestSession_ClosePersistsAuthoritativePosition(t *testing.T) {
	f := newSessionFixture(t, 1, 3)
	f.waitLoaded(t, 0)
	ctx := context.Background()

	idx := f.session.Loader().Items().IndexOfPosition(0, 2)
	require.NoError(t, f.session.UpdateReadingPositionAt(ctx, idx, 7))

	require.NoError(t, f.session.Close(ctx))
	require.NoError(t, f.session.Close(ctx))

	saves := f.repo.savedPositions()
	require.Len(t, saves, 2)
	last := saves[1]
	assert.Equal(t, domain.ChapterState{ChapterURL: f.chapters[0].URL, ChapterItemPosition: 2, Offset: 7}, last.New)
	assert.Nil(t, last.Old)
}

func TestSession_EventsAreMerged(t *testing.T) {
	chapters := testChapters(1)
	repo := newFakeRepo(chapters)
	seen := make(chan string, 64)

	s, err := NewSession(context.Background(), SessionConfig{BookID: "book-1", ChapterURL: chapters[0].URL}, SessionDeps{
		Library:   repo,
		Positions: repo,
		Source:    newFakeSource(chapters, 1),
		Converter: paragraphConverter{},
		Engine:    &fakeEngine{},
		Logger:    discardLogger(),
	})
	require.NoError(t, err)
	defer s.Close(context.Background())

	unsub := s.Events().Subscribe(func(ev SessionEvent) {
		select {
		case seen <- ev.Type:
		default:
		}
	})
	defer unsub()

	require.Eventually(t, func() bool { return s.Loader().IsChapterIndexLoaded(0) }, waitFor, tick)
	require.NoError(t, s.StartSpeaking(context.Background()))

	got := map[string]bool{}
	for len(seen) > 0 {
		got[<-seen] = true
	}
	assert.True(t, got[EventTypeMode])
	assert.True(t, got[EventTypeUtterance])
}
