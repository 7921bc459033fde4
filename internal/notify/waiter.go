package notify

import (
	"context"
	"errors"
	"time"

	"github.com/jsayol/qr-signin/internal/core"
)

// ErrTimedOut is returned when no credential arrived within the timeout.
var ErrTimedOut = errors.New("timed out waiting for credential")

var _ core.CredentialWaiter = (*PollWaiter)(nil)

// PollWaiter delivers the credential by short-interval polling of the
// token store. It is the fallback for backends without push support.
type PollWaiter struct {
	store    core.TokenStore
	interval time.Duration
}

func NewPollWaiter(store core.TokenStore, interval time.Duration) *PollWaiter {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &PollWaiter{store: store, interval: interval}
}

func (w *PollWaiter) AwaitCredential(ctx context.Context, id string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		credential, ok, err := checkOnce(ctx, w.store, id)
		if err != nil {
			return "", err
		}
		if ok {
			return credential, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", ErrTimedOut
			}
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// checkOnce reads the record and reports whether a credential is attached.
// A record that disappeared mid-wait (cancelled or swept) is not an error,
// the requester just keeps waiting until its own deadline.
func checkOnce(ctx context.Context, store core.TokenStore, id string) (string, bool, error) {
	token, err := store.Get(ctx, id)
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrCorruptRecord) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if token.State == core.StateClaimed && token.Credential != "" {
		return token.Credential, true, nil
	}
	return "", false, nil
}
