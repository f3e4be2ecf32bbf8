package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/listenupapp/listenup-reader/internal/dto"
	"github.com/listenupapp/listenup-reader/internal/http/response"
	"github.com/listenupapp/listenup-reader/internal/service"
)

// SessionResponse is a session snapshot with its current utterance.
type SessionResponse struct {
	service.SessionInfo
	Utterance *dto.Utterance `json:"utterance,omitempty"`
}

// ItemsResponse is the session's item list.
type ItemsResponse struct {
	Items []dto.Item `json:"items"`
	Count int        `json:"count"`
}

// LoadResponse reports whether a load intent was queued.
type LoadResponse struct {
	Queued bool `json:"queued"`
}

func newSessionResponse(live *service.LiveSession) SessionResponse {
	resp := SessionResponse{SessionInfo: live.Info()}
	if u, ok := live.Session.Speech().Current(); ok {
		du := dto.NewUtterance(u)
		resp.Utterance = &du
	}
	return resp
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req service.OpenSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	live, err := s.sessions.Open(r.Context(), req)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Created(w, newSessionResponse(live), s.logger)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	response.Success(w, s.sessions.List(), s.logger)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	response.Success(w, newSessionResponse(sessionFrom(r.Context())), s.logger)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.Context(), sessionFrom(r.Context()).ID); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.NoContent(w)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items := dto.NewItems(sessionFrom(r.Context()).Session.Loader().Items().Snapshot())
	response.Success(w, ItemsResponse{Items: items, Count: len(items)}, s.logger)
}

// handleLoad queues a chapter load. Loads complete asynchronously and are
// announced on the session's event stream.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	intent := chi.URLParam(r, "intent")
	var req service.LoadRequest
	if intent == service.LoadInitial || intent == service.LoadRestart {
		if err := decodeJSON(r, &req); err != nil {
			response.HandleError(w, err, s.logger)
			return
		}
	}
	queued, err := s.sessions.Load(sessionFrom(r.Context()).ID, intent, req)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Accepted(w, LoadResponse{Queued: queued}, s.logger)
}

func (s *Server) handleUpdatePosition(w http.ResponseWriter, r *http.Request) {
	var req service.PositionRequest
	if err := decodeJSON(r, &req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	live := sessionFrom(r.Context())
	if err := s.sessions.UpdatePosition(r.Context(), live.ID, req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, live.Session.Current(), s.logger)
}

func (s *Server) handleSpeechAction(w http.ResponseWriter, r *http.Request) {
	live := sessionFrom(r.Context())
	if err := s.sessions.SpeechAction(r.Context(), live.ID, chi.URLParam(r, "action")); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, newSessionResponse(live), s.logger)
}

func (s *Server) handleSpeechSettings(w http.ResponseWriter, r *http.Request) {
	var req service.SpeechSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	live := sessionFrom(r.Context())
	if err := s.sessions.SetSpeech(r.Context(), live.ID, req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, live.Session.Speech().Settings(), s.logger)
}

func (s *Server) handleSetTranslation(w http.ResponseWriter, r *http.Request) {
	var req service.TranslationRequest
	if err := decodeJSON(r, &req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	live := sessionFrom(r.Context())
	if err := s.sessions.SetTranslation(live.ID, req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, newSessionResponse(live), s.logger)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	s.sseHandler.Stream(w, r, sessionFrom(r.Context()).ID)
}
