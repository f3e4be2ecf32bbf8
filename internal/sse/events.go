// Package sse streams reader session events and library changes to HTTP
// clients as Server-Sent Events.
package sse

import (
	"time"

	"github.com/listenupapp/listenup-reader/internal/reader"
	"github.com/listenupapp/listenup-reader/internal/store"
)

// EventType is the SSE event name.
type EventType string

// Library events mirror the store's committed changes.
const (
	EventBookCreated   EventType = store.EventBookCreated
	EventBookDeleted   EventType = store.EventBookDeleted
	EventChaptersAdded EventType = store.EventChaptersAdded
	EventPositionSaved EventType = store.EventPositionSaved
	EventChapterRead   EventType = store.EventChapterRead

	// EventSessionClosed is sent to a session's subscribers when it closes.
	EventSessionClosed EventType = "session.closed"
)

// Event is one SSE message. Session events carry SessionID and are only
// delivered to clients subscribed to that session.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	BookID    string    `json:"book_id,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// NewSessionEvent wraps a reader session event. The SSE event name is the
// session event type prefixed with "session.".
func NewSessionEvent(sessionID, bookID string, ev reader.SessionEvent) Event {
	return Event{
		Timestamp: time.Now(),
		Type:      EventType("session." + ev.Type),
		SessionID: sessionID,
		BookID:    bookID,
		Data:      ev.Data,
	}
}

// NewLibraryEvent wraps a store change.
func NewLibraryEvent(ev store.Event) Event {
	var data any
	if ev.ChapterURL != "" {
		data = map[string]string{"chapter_url": ev.ChapterURL}
	}
	return Event{
		Timestamp: time.Now(),
		Type:      EventType(ev.Type),
		BookID:    ev.BookID,
		Data:      data,
	}
}
