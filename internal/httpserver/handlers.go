package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ndajr/shortlink/internal/core"
)

type shortenRequest struct {
	LongURL    string `json:"longUrl"`
	CustomCode string `json:"customCode,omitempty"`
}

type shortenResponse struct {
	ShortURL string `json:"shortUrl"`
}

func (s *Server) shortenHandler(w http.ResponseWriter, r *http.Request) {
	var req shortenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, r, "", fmt.Errorf("%w: invalid request body", core.ErrInvalidInput))
		return
	}

	res, err := s.svc.Shorten(r.Context(), req.LongURL, req.CustomCode)
	if err != nil {
		s.writeError(w, r, req.CustomCode, err)
		return
	}

	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	s.writeJSON(w, status, shortenResponse{ShortURL: s.shortURL(res.Link.ShortCode)})
}

func (s *Server) shortURL(code string) string {
	return s.baseURL + "/" + code
}

func (s *Server) redirectHandler(w http.ResponseWriter, r *http.Request) {
	shortCode := r.PathValue("shortCode")

	longURL, err := s.svc.Resolve(r.Context(), shortCode)
	if err != nil {
		s.writeError(w, r, shortCode, err)
		return
	}

	http.Redirect(w, r, longURL, http.StatusFound)
}

func (s *Server) linkHandler(w http.ResponseWriter, r *http.Request) {
	shortCode := r.PathValue("shortCode")

	link, err := s.svc.Lookup(r.Context(), shortCode)
	if err != nil {
		s.writeError(w, r, shortCode, err)
		return
	}
	s.writeJSON(w, http.StatusOK, link)
}
