package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jsayol/qr-signin/internal/api"
)

// Code is a freshly issued correlation token.
type Code struct {
	// Token is the correlation token id.
	Token string `json:"token"`

	// Payload is the string embedded in the QR code.
	Payload string `json:"payload"`

	// QR is the rendered code as a PNG data URL.
	QR string `json:"qr"`
}

// ErrWaitTimedOut is returned by AwaitCredential when no claim arrived
// within the requested window.
var ErrWaitTimedOut = errors.New("timed out waiting for credential")

// RequestCode asks the server for a fresh sign-in code. A previously held
// token id can be passed for courtesy cleanup, or left empty.
func (c *Client) RequestCode(ctx context.Context, prev string) (*Code, error) {
	ctx, cancel := context.WithTimeout(ctx, shortTimeout)
	defer cancel()

	endpoint := c.url(api.IssueCodeRoute)
	if prev != "" {
		endpoint += "?prev=" + url.QueryEscape(prev)
	}

	var code Code
	if err := c.get(ctx, endpoint, &code); err != nil {
		return nil, fmt.Errorf("requesting sign-in code: %w", err)
	}
	return &code, nil
}

// AwaitCredential long-polls the server until the token is claimed and a
// credential is available, or the timeout passes.
func (c *Client) AwaitCredential(ctx context.Context, token string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+shortTimeout)
	defer cancel()

	endpoint := c.url(api.WaitForCredRoute) +
		"?token=" + url.QueryEscape(token) +
		"&timeout=" + url.QueryEscape(timeout.String())

	var result struct {
		Credential string `json:"credential"`
	}
	if err := c.get(ctx, endpoint, &result); err != nil {
		var apiErr APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusRequestTimeout {
			return "", ErrWaitTimedOut
		}
		return "", fmt.Errorf("waiting for credential: %w", err)
	}
	return result.Credential, nil
}

// Claim attaches a one-time credential to a scanned token. Requires the
// client to be configured with a valid session token.
func (c *Client) Claim(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, shortTimeout)
	defer cancel()

	payload := api.ClaimPayload{Token: token}
	if err := c.post(ctx, c.url(api.ClaimTokenRoute), payload, nil); err != nil {
		return fmt.Errorf("claiming token: %w", err)
	}
	return nil
}

// Cancel abandons a previously requested code.
func (c *Client) Cancel(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, shortTimeout)
	defer cancel()

	payload := api.CancelPayload{Token: token}
	if err := c.post(ctx, c.url(api.CancelTokenRoute), payload, nil); err != nil {
		return fmt.Errorf("cancelling token: %w", err)
	}
	return nil
}
