package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/listenupapp/listenup-reader/internal/domain"
	"github.com/listenupapp/listenup-reader/internal/http/response"
	"github.com/listenupapp/listenup-reader/internal/service"
	"github.com/listenupapp/listenup-reader/internal/store"
)

// ImportRequest imports an EPUB file already present on the server.
type ImportRequest struct {
	Path string `json:"path"`
}

// handleListBooks returns a page of books, or the fuzzy matches of ?q=.
func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		books, err := s.library.SearchBooks(ctx, q)
		if err != nil {
			response.HandleError(w, err, s.logger)
			return
		}
		response.Success(w, &store.PaginatedResult[*domain.Book]{Items: books}, s.logger)
		return
	}

	params, err := parsePaginationParams(r)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	result, err := s.library.ListBooks(ctx, params)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, result, s.logger)
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req service.CreateBookRequest
	if err := decodeJSON(r, &req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	book, err := s.library.CreateBook(r.Context(), req)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Created(w, book, s.logger)
}

func (s *Server) handleImportBook(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := decodeJSON(r, &req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	if req.Path == "" {
		response.BadRequest(w, "path is required", s.logger)
		return
	}

	book, err := s.library.ImportEPUB(r.Context(), req.Path)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Created(w, book, s.logger)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.library.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, book, s.logger)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := s.library.DeleteBook(r.Context(), chi.URLParam(r, "id")); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.NoContent(w)
}

// handleListChapters returns a book's chapters in order, or the fuzzy
// title matches of ?q=.
func (s *Server) handleListChapters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bookID := chi.URLParam(r, "id")

	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		matches, err := s.library.SearchChapters(ctx, bookID, q)
		if err != nil {
			response.HandleError(w, err, s.logger)
			return
		}
		response.Success(w, matches, s.logger)
		return
	}

	chapters, err := s.library.ListChapters(ctx, bookID)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, chapters, s.logger)
}
