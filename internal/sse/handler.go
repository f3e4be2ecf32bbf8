package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	// heartbeatInterval keeps idle streams inside writeTimeout and proxies
	// from dropping them.
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 60 * time.Second
)

// Handler streams events over HTTP.
type Handler struct {
	manager   *Manager
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewHandler creates a new SSE Handler.
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	return &Handler{
		manager:   manager,
		logger:    logger,
		heartbeat: heartbeatInterval,
	}
}

// ServeHTTP streams library events only.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Stream(w, r, "")
}

// Stream streams the events of sessionID, plus library events, until the
// client disconnects or the session closes.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	if ctx.Err() != nil {
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")

	out := &eventWriter{w: w, rc: http.NewResponseController(w), logger: h.logger}
	if err := out.rc.Flush(); err != nil {
		h.logger.Error("streaming unsupported", "error", err)
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	client, err := h.manager.Connect(sessionID)
	if err != nil {
		h.logger.Error("failed to register SSE client", "error", err)
		http.Error(w, "Failed to establish connection", http.StatusInternalServerError)
		return
	}
	defer h.manager.Disconnect(client.ID)
	log := h.logger.With("client_id", client.ID, "session_id", sessionID)

	hello := map[string]string{"client_id": client.ID, "session_id": sessionID}
	if err := out.event("connected", hello); err != nil {
		log.Warn("failed to send connected event", "error", err)
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-client.EventChan:
			if !ok {
				return
			}
			if err := out.event(string(ev.Type), ev); err != nil {
				log.Debug("client went away", "error", err)
				return
			}
			if ev.Type == EventSessionClosed {
				return
			}
		case <-ticker.C:
			if err := out.comment("heartbeat"); err != nil {
				log.Debug("client went away", "error", err)
				return
			}
		case <-client.Done:
			log.Debug("stream closed by manager")
			return
		case <-ctx.Done():
			return
		}
	}
}

// eventWriter writes SSE frames and flushes each one.
type eventWriter struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	logger *slog.Logger
}

func (e *eventWriter) event(eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return err
	}
	return e.flush()
}

// comment writes an SSE comment line, which clients ignore.
func (e *eventWriter) comment(text string) error {
	if _, err := fmt.Fprintf(e.w, ": %s\n\n", text); err != nil {
		return err
	}
	return e.flush()
}

func (e *eventWriter) flush() error {
	if err := e.rc.Flush(); err != nil {
		return err
	}
	// Not every ResponseWriter supports deadlines.
	if err := e.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		e.logger.Debug("failed to set write deadline", "error", err)
	}
	return nil
}
