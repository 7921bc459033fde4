package notify

import (
	"context"
	"errors"
	"time"

	"github.com/jsayol/qr-signin/internal/core"
	"github.com/jsayol/qr-signin/internal/store"
)

var _ core.CredentialWaiter = (*RedisWaiter)(nil)

// RedisWaiter delivers the credential by subscribing to the per-token claim
// channel the redis store publishes on. The subscription is opened before
// the first read, so a claim landing in between is not missed.
type RedisWaiter struct {
	store *store.RedisStore
}

func NewRedisWaiter(s *store.RedisStore) *RedisWaiter {
	return &RedisWaiter{store: s}
}

func (w *RedisWaiter) AwaitCredential(ctx context.Context, id string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sub := w.store.Client().Subscribe(ctx, w.store.ClaimChannel(id))
	defer func() { _ = sub.Close() }()

	// confirm the subscription before checking current state
	if _, err := sub.Receive(ctx); err != nil {
		return "", subscribeErr(ctx, err)
	}

	// the claim may have happened before we subscribed
	if credential, ok, err := checkOnce(ctx, w.store, id); err != nil {
		return "", err
	} else if ok {
		return credential, nil
	}

	select {
	case msg, open := <-sub.Channel():
		if !open {
			return "", errors.New("claim subscription closed")
		}
		return msg.Payload, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrTimedOut
		}
		return "", ctx.Err()
	}
}

func subscribeErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimedOut
	}
	return err
}

// ForStore picks the waiter matching the store flavor: push delivery where
// the backend supports it, polling otherwise.
func ForStore(s core.TokenStore, pollInterval time.Duration) core.CredentialWaiter {
	if rs, ok := s.(*store.RedisStore); ok {
		return NewRedisWaiter(rs)
	}
	return NewPollWaiter(s, pollInterval)
}
