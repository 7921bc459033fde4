package api

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jsayol/qr-signin/internal/api/middleware"
	"github.com/jsayol/qr-signin/internal/api/presenter"
	"github.com/jsayol/qr-signin/internal/notify"
	"github.com/jsayol/qr-signin/internal/service"
)

// IssueResponse is the JSON body returned to the requesting device.
type IssueResponse struct {
	// Token is the correlation token id; the client holds on to it to
	// wait for the credential and to cancel or rotate the code.
	Token string `json:"token"`

	// Payload is the string embedded in the QR code, for clients that
	// render the code themselves.
	Payload string `json:"payload"`

	// QR is the code image as a data URL, ready for an <img> src.
	QR string `json:"qr"`
}

// ClaimPayload is sent by the authenticated device after scanning a code.
type ClaimPayload struct {
	Token string `json:"token"`
}

// CancelPayload is sent by the requesting device when it gives up.
type CancelPayload struct {
	Token string `json:"token"`
}

// handleIssue creates a fresh correlation token and returns it rendered as
// a QR code, as JSON by default or as a raw PNG with ?format=image. An
// optional ?prev= id from a client rotating its code is cleaned up along
// the way.
func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	result, err := s.tokenService.Generate(ctx, service.IssueRequest{
		ClientIP: clientIP(r),
		Prev:     r.URL.Query().Get("prev"),
	})
	if err != nil {
		logger.Error().Err(err).Msg("token issuance failed")
		presenter.Err(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "image" {
		png, err := s.encoder.PNG(result.Payload)
		if err != nil {
			logger.Error().Err(err).Msg("QR image rendering failed")
			presenter.Error(w, r, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(png)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(png)
		return
	}

	dataURL, err := s.encoder.DataURL(result.Payload)
	if err != nil {
		logger.Error().Err(err).Msg("QR image rendering failed")
		presenter.Error(w, r, "internal error", http.StatusInternalServerError)
		return
	}

	presenter.JSON(w, r, IssueResponse{Token: result.ID, Payload: result.Payload, QR: dataURL}, http.StatusOK)
}

// handleWait long-polls for the credential attached to a token. Responds
// 200 with the credential once the claim lands, 408 if the timeout passes
// first.
func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	id := r.URL.Query().Get("token")

	timeout := s.maxWait
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			presenter.Error(w, r, "invalid timeout", http.StatusBadRequest)
			return
		}
		if parsed < timeout {
			timeout = parsed
		}
	}

	credential, err := s.tokenService.Await(ctx, id, timeout)
	switch {
	case err == nil:
		presenter.JSON(w, r, map[string]string{"credential": credential}, http.StatusOK)
	case errors.Is(err, notify.ErrTimedOut):
		presenter.Error(w, r, "no credential arrived in time", http.StatusRequestTimeout)
	default:
		logger.Warn().Err(err).Msg("credential wait failed")
		presenter.Err(w, r, err)
	}
}

// handleClaim attaches a one-time sign-in credential to a pending token.
// The middleware has already verified the caller's session.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	var payload ClaimPayload
	if err := DecodePayload(r, &payload, false); err != nil {
		logger.Warn().Err(err).Msg("failed to decode claim request payload")
		presenter.Error(w, r, "invalid request payload", http.StatusBadRequest)
		return
	}

	principal := middleware.PrincipalCtx(ctx)
	if err := s.tokenService.Claim(ctx, payload.Token, principal); err != nil {
		logger.Warn().Err(err).Msg("token claim rejected")
		presenter.Err(w, r, err)
		return
	}

	// nothing else to communicate: the requester gets the credential
	// through its own wait channel
	presenter.JSON(w, r, map[string]string{"status": "ok"}, http.StatusOK)
}

// handleCancel removes a token the requesting device no longer wants.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	var payload CancelPayload
	if err := DecodePayload(r, &payload, false); err != nil {
		logger.Warn().Err(err).Msg("failed to decode cancel request payload")
		presenter.Error(w, r, "invalid request payload", http.StatusBadRequest)
		return
	}

	if err := s.tokenService.Cancel(ctx, payload.Token); err != nil {
		logger.Warn().Err(err).Msg("token cancel rejected")
		presenter.Err(w, r, err)
		return
	}

	presenter.JSON(w, r, map[string]string{"status": "ok"}, http.StatusOK)
}

// clientIP extracts the requester address, honoring the first hop of an
// X-Forwarded-For header when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
