package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/containerd/errdefs"
	"github.com/containerd/errdefs/pkg/errhttp"
)

// Wire shape of every error response.
type errorResponse struct {
	Error string `json:"error"`
}

// Writes a JSON response with the given status.
func (s *Server) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

// Writes an error response with the status derived from the error's
// errdefs class. Unclassified errors map to 500.
func (s *Server) error(w http.ResponseWriter, err error) {
	s.respond(w, errhttp.ToHTTP(err), errorResponse{Error: err.Error()})
}

// Decodes a JSON request body. Malformed bodies are invalid input.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w: %w", err, errdefs.ErrInvalidArgument)
	}
	return nil
}
