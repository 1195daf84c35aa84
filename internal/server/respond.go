package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/colonyops/crew/internal/api"
)

// maxBodySize bounds request bodies. Message content is capped at 1MB, so
// leave room for the envelope.
const maxBodySize = 2 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the error body. Internal errors are logged with
// the request path since the client only sees a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := api.FromError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, body)
}

func writeBadRequest(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusBadRequest, api.BadRequest(fmt.Sprintf(format, args...)))
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid request body: %v", err)
		return false
	}
	return true
}
