package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/listenupapp/listenup-reader/internal/errors"
	"github.com/listenupapp/listenup-reader/internal/store"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON request body into dst. Unknown fields are rejected.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.Validation("request body is empty")
		}
		return errors.Validation(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// parsePaginationParams reads limit and cursor from the query string.
func parsePaginationParams(r *http.Request) (store.PaginationParams, error) {
	q := r.URL.Query()
	params := store.PaginationParams{Cursor: q.Get("cursor")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return params, errors.Validationf("invalid limit %q", raw)
		}
		params.Limit = limit
	}
	params.Normalize()
	return params, nil
}
