package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ndajr/shortlink/internal/core"
)

const serverErrorMessage = "server error"

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps service errors to status codes. Anything that is not a known
// client error is logged and reported as a 500 without details.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, shortCode string, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: clientMessage(err, core.ErrInvalidInput)})
	case errors.Is(err, core.ErrConflict):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: clientMessage(err, core.ErrConflict)})
	case errors.Is(err, core.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: core.ErrNotFound.Error()})
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", shortCode, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: serverErrorMessage})
	}
}

// clientMessage drops the sentinel prefix added by "%w: detail" wrapping.
func clientMessage(err, sentinel error) string {
	msg := err.Error()
	if detail, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return detail
	}
	return msg
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write json response", "error", err)
	}
}
