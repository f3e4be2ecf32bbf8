package sse

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/reader"
	"github.com/listenupapp/listenup-reader/internal/store"
)

func startManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	go m.Start(ctx)
	t.Cleanup(func() {
		_ = m.Shutdown(context.Background())
		cancel()
	})
	return m
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev, ok := <-c.EventChan:
		require.True(t, ok, "client channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.EventChan:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_SessionEventsAreFiltered(t *testing.T) {
	m := startManager(t)

	mine, err := m.Connect("sess-a")
	require.NoError(t, err)
	other, err := m.Connect("sess-b")
	require.NoError(t, err)
	library, err := m.Connect("")
	require.NoError(t, err)
	assert.Equal(t, 3, m.ClientCount())

	m.PublishSession("sess-a", "book-1", reader.SessionEvent{Type: reader.EventTypeMode, Data: domain.ModeSpeaking})

	ev := receive(t, mine)
	assert.Equal(t, EventType("session.mode"), ev.Type)
	assert.Equal(t, "sess-a", ev.SessionID)
	assert.Equal(t, "book-1", ev.BookID)
	assert.Equal(t, domain.ModeSpeaking, ev.Data)
	assertNoEvent(t, other)
	assertNoEvent(t, library)
}

func TestManager_LibraryEventsReachEveryone(t *testing.T) {
	m := startManager(t)

	session, err := m.Connect("sess-a")
	require.NoError(t, err)
	library, err := m.Connect("")
	require.NoError(t, err)

	m.LibraryEmitter().Emit(store.Event{Type: store.EventChapterRead, BookID: "book-1", ChapterURL: "https://example.com/c1"})

	for _, c := range []*Client{session, library} {
		ev := receive(t, c)
		assert.Equal(t, EventChapterRead, ev.Type)
		assert.Empty(t, ev.SessionID)
		assert.Equal(t, map[string]string{"chapter_url": "https://example.com/c1"}, ev.Data)
	}
}

func TestManager_DisconnectAndShutdown(t *testing.T) {
	m := startManager(t)

	c, err := m.Connect("")
	require.NoError(t, err)
	m.Disconnect(c.ID)
	m.Disconnect(c.ID)
	assert.Equal(t, 0, m.ClientCount())
	_, ok := <-c.Done
	assert.False(t, ok)

	c, err = m.Connect("")
	require.NoError(t, err)
	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))

	select {
	case <-c.Done:
	case <-time.After(time.Second):
		t.Fatal("client not closed on shutdown")
	}
	m.SessionClosed("sess-a", "book-1")
}

func TestHandler_StreamsUntilSessionCloses(t *testing.T) {
	m := startManager(t)
	h := NewHandler(m, slog.New(slog.DiscardHandler))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Stream(w, r, "sess-a")
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)

	require.Eventually(t, func() bool { return m.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	m.PublishSession("sess-a", "book-1", reader.SessionEvent{Type: reader.EventTypeMode, Data: domain.ModeReading})
	m.SessionClosed("sess-a", "book-1")

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	body := string(rest)
	assert.Contains(t, body, "event: session.mode\n")
	assert.True(t, strings.Contains(body, "event: session.closed\n"), body)
	assert.Eventually(t, func() bool { return m.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHandler_RejectsNonGet(t *testing.T) {
	h := NewHandler(startManager(t), slog.New(slog.DiscardHandler))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandler_SendsHeartbeats(t *testing.T) {
	m := startManager(t)
	h := NewHandler(m, slog.New(slog.DiscardHandler))
	h.heartbeat = 10 * time.Millisecond

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line == ": heartbeat\n" {
			return
		}
	}
}

func TestManager_DisconnectAll(t *testing.T) {
	m := startManager(t)
	c, err := m.Connect("sess-a")
	require.NoError(t, err)

	m.DisconnectAll()
	_, ok := <-c.Done
	assert.False(t, ok)
	assert.Equal(t, 0, m.ClientCount())

	m.Disconnect(c.ID)
	_, err = m.Connect("")
	require.NoError(t, err)
	assert.Equal(t, 1, m.ClientCount())
}
