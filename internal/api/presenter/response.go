package presenter

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/jsayol/qr-signin/internal/service"
)

type ErrorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id"`
}

func JSON(w http.ResponseWriter, r *http.Request, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to write json response")
	}
}

func Error(w http.ResponseWriter, r *http.Request, msg string, status int) {
	correlationID, _ := r.Context().Value("correlation_id").(string)
	resp := ErrorResponse{
		Error:         msg,
		CorrelationID: correlationID,
	}
	JSON(w, r, resp, status)
}

// StatusOf extracts the HTTP status carried by a service error, defaulting
// to 500 for anything unclassified.
func StatusOf(err error) int {
	var httpErr *service.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return http.StatusInternalServerError
}

// Err writes a service error. Validation failures (4xx) all collapse into
// one generic message so a caller cannot probe which token ids exist or in
// what state they are; internal faults never expose detail.
func Err(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	switch {
	case status == http.StatusUnauthorized:
		Error(w, r, "missing or invalid authentication", status)
	case status >= 500:
		Error(w, r, "internal error", status)
	default:
		Error(w, r, "invalid or expired QR code token", status)
	}
}
