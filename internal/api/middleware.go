package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/listenupapp/listenup-reader/internal/http/response"
	"github.com/listenupapp/listenup-reader/internal/service"
)

type contextKey string

const contextKeySession contextKey = "session"

// requestLogger logs every request through the server's slog logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// withSession resolves the {id} route parameter to a live session.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		live, err := s.sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			response.HandleError(w, err, s.logger)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeySession, live)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionFrom returns the session attached by withSession.
func sessionFrom(ctx context.Context) *service.LiveSession {
	live, _ := ctx.Value(contextKeySession).(*service.LiveSession)
	return live
}
