package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/dunamismax/pixelopt/internal/storage"
	"github.com/dunamismax/pixelopt/internal/upload"
)

var errTimeout = errors.New("optimization timed out")

// statusFor maps a failure onto the HTTP status reported to the client.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, errTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrInvalidUpload),
		errors.Is(err, domain.ErrInvalidOption),
		errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	event := s.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = s.logger.Error()
	}
	event.Err(err).
		Str("request_id", requestID(r)).
		Str("kind", domain.ErrorKind(err)).
		Int("status", status).
		Msg(msg)

	body := map[string]string{"error": fmt.Sprintf("%s: %v", msg, err)}
	if status == http.StatusInternalServerError && domain.ErrorKind(err) == "Internal" {
		body["error"] = msg
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
