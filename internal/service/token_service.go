package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jsayol/qr-signin/internal/audit"
	"github.com/jsayol/qr-signin/internal/config"
	"github.com/jsayol/qr-signin/internal/core"
)

// createRetries bounds how often Generate retries with a fresh id after a
// key collision. A collision on 90+ bytes of entropy is astronomically
// rare, so hitting the budget means the store is misbehaving.
const createRetries = 3

// lazyDeleteTimeout bounds the background cleanup of records discovered
// dead during a claim attempt.
const lazyDeleteTimeout = 5 * time.Second

// TokenService owns the correlation token state machine: it is the sole
// writer of a token's state and credential. Correctness under concurrent
// claims rests entirely on the store's atomic primitives, so the service
// itself holds no locks.
type TokenService struct {
	store   core.TokenStore
	minter  core.CredentialMinter
	waiter  core.CredentialWaiter
	auditor core.Auditor

	window       time.Duration
	entropyBytes int
	sliding      bool
	prefix       string

	// entropy and now are swappable for tests
	entropy io.Reader
	now     func() time.Time
}

func NewTokenService(
	store core.TokenStore,
	minter core.CredentialMinter,
	waiter core.CredentialWaiter,
	auditor core.Auditor,
	cfg config.TokenConfig,
) *TokenService {
	return &TokenService{
		store:        store,
		minter:       minter,
		waiter:       waiter,
		auditor:      auditor,
		window:       cfg.ValidityWindow,
		entropyBytes: cfg.EntropyBytes,
		sliding:      cfg.Sliding,
		prefix:       cfg.Prefix,
		entropy:      rand.Reader,
		now:          time.Now,
	}
}

// Generate draws entropy, derives a fresh token id and creates the pending
// record. A colliding id is retried with fresh entropy; an exhausted retry
// budget is reported as a storage fault.
func (s *TokenService) Generate(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	logger := log.Ctx(ctx)

	entry := core.AuditEntry{
		Time:     s.now(),
		Action:   "token.issue",
		ClientIP: req.ClientIP,
	}
	defer s.logAudit(ctx, &entry)

	// courtesy cleanup: the client rotated its code, drop the old one
	if req.Prev != "" {
		if wellFormedID(req.Prev) {
			if err := s.store.Delete(ctx, req.Prev); err != nil {
				logger.Warn().Err(err).Msg("failed to delete previous token, leaving it for the sweeper")
			}
		} else {
			logger.Warn().Msg("ignoring malformed previous token id")
		}
	}

	for attempt := 0; attempt < createRetries; attempt++ {
		id, err := s.newID()
		if err != nil {
			entry.Error = "entropy source failed"
			return nil, httpError(http.StatusInternalServerError,
				fmt.Errorf("generating random bytes: %w", err))
		}

		now := s.now()
		token := core.Token{
			ID:        id,
			State:     core.StatePending,
			IP:        req.ClientIP,
			CreatedAt: now,
			ExpiresAt: now.Add(s.window),
		}

		switch err := s.store.Create(ctx, token); {
		case err == nil:
			entry.Success = true
			entry.TokenFingerprint = audit.Fingerprint(id)
			return &IssueResult{ID: id, Payload: s.prefix + id}, nil
		case errors.Is(err, core.ErrAlreadyExists):
			logger.Warn().Int("attempt", attempt+1).Msg("token id collision, retrying with fresh entropy")
		default:
			entry.Error = err.Error()
			return nil, httpError(http.StatusInternalServerError,
				fmt.Errorf("%w: creating token record: %v", ErrStorage, err))
		}
	}

	entry.Error = "retry budget exhausted"
	return nil, httpError(http.StatusInternalServerError,
		fmt.Errorf("%w: could not create a unique token in %d attempts", ErrStorage, createRetries))
}

func (s *TokenService) newID() (string, error) {
	buf := make([]byte, s.entropyBytes)
	if _, err := io.ReadFull(s.entropy, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Claim validates the token and atomically attaches a freshly minted
// one-time credential. The mint happens optimistically after eligibility
// looks good, but the commit is gated by the store's predicate: losing the
// race discards the minted credential and reports the token as claimed.
func (s *TokenService) Claim(ctx context.Context, id string, principal *core.Principal) error {
	logger := log.Ctx(ctx)

	entry := core.AuditEntry{
		Time:             s.now(),
		Action:           "token.claim",
		TokenFingerprint: audit.Fingerprint(id),
		Principal:        principal,
	}
	defer s.logAudit(ctx, &entry)

	if principal == nil || principal.ID == "" {
		entry.Error = "unauthenticated"
		return httpError(http.StatusUnauthorized, ErrUnauthenticated)
	}

	if !wellFormedID(id) {
		entry.Error = "malformed token id"
		return httpError(http.StatusBadRequest, ErrInvalidToken)
	}

	token, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, core.ErrNotFound):
		entry.Error = "token not found"
		return httpError(http.StatusBadRequest, ErrInvalidToken)
	case errors.Is(err, core.ErrCorruptRecord):
		// a corrupted record is invalid, never a crash; clean it up
		entry.Error = "corrupt token record"
		logger.Error().Err(err).Str("token", entry.TokenFingerprint).Msg("corrupt token record, scheduling removal")
		s.deleteLazily(id)
		return httpError(http.StatusBadRequest, ErrInvalidToken)
	case err != nil:
		entry.Error = err.Error()
		return httpError(http.StatusInternalServerError,
			fmt.Errorf("%w: reading token record: %v", ErrStorage, err))
	}

	if token.Expired(s.now()) {
		// the record is useless now, clean it up without blocking the caller
		entry.Error = "token expired"
		s.deleteLazily(id)
		return httpError(http.StatusBadRequest, ErrExpiredToken)
	}

	if token.State != core.StatePending {
		entry.Error = "token already claimed"
		return httpError(http.StatusBadRequest, ErrAlreadyClaimed)
	}

	// Optimistic mint: eligibility looks good, but only the conditional
	// update below decides. A wasted mint on contention is the accepted
	// cost of avoiding a second round trip.
	credential, err := s.minter.Mint(ctx, principal.ID)
	if err != nil {
		// the slot must not be wasted on a mint fault
		entry.Error = "mint failed"
		logger.Error().Err(err).Msg("credential minting failed, removing token")
		if delErr := s.store.Delete(ctx, id); delErr != nil {
			logger.Error().Err(delErr).Msg("failed to remove token after mint failure")
		}
		return httpError(http.StatusInternalServerError, fmt.Errorf("%w: %v", ErrMint, err))
	}

	err = s.store.ConditionalUpdate(ctx, id,
		func(t core.Token) bool { return t.State == core.StatePending },
		func(t *core.Token) {
			t.State = core.StateClaimed
			t.Credential = credential
			if s.sliding {
				t.ExpiresAt = s.now().Add(s.window)
			}
		},
	)
	switch {
	case err == nil:
		entry.Success = true
		logger.Info().Str("token", entry.TokenFingerprint).Str("sub", principal.ID).Msg("token claimed")
		return nil
	case errors.Is(err, core.ErrPredicateFailed):
		// another claim won the race; the minted credential is dropped
		// here and never reused
		entry.Error = "lost claim race"
		return httpError(http.StatusBadRequest, ErrAlreadyClaimed)
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrCorruptRecord):
		entry.Error = "token vanished during claim"
		return httpError(http.StatusBadRequest, ErrInvalidToken)
	default:
		// never leave a record whose credential was minted but not
		// attached: delete so the requester times out and restarts
		entry.Error = err.Error()
		logger.Error().Err(err).Msg("credential attachment failed, rolling back token")
		if delErr := s.store.Delete(ctx, id); delErr != nil {
			logger.Error().Err(delErr).Msg("rollback delete failed, sweeper will collect the record")
		}
		return httpError(http.StatusInternalServerError,
			fmt.Errorf("%w: attaching credential: %v", ErrStorage, err))
	}
}

// Cancel removes a token the requester no longer wants. Deleting an absent
// or already-cancelled token succeeds.
func (s *TokenService) Cancel(ctx context.Context, id string) error {
	entry := core.AuditEntry{
		Time:             s.now(),
		Action:           "token.cancel",
		TokenFingerprint: audit.Fingerprint(id),
	}
	defer s.logAudit(ctx, &entry)

	if !wellFormedID(id) {
		entry.Error = "malformed token id"
		return httpError(http.StatusBadRequest, ErrInvalidToken)
	}

	if err := s.store.Delete(ctx, id); err != nil {
		entry.Error = err.Error()
		return httpError(http.StatusInternalServerError,
			fmt.Errorf("%w: deleting token record: %v", ErrStorage, err))
	}
	entry.Success = true
	return nil
}

// Sweep removes expired pending records and claimed records that have sat
// unretrieved for twice the validity window. Partial failures are reported
// but not fatal: whatever a cycle misses, the next one collects.
func (s *TokenService) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	var errs []error
	now := s.now()

	entry := core.AuditEntry{Time: now, Action: "token.sweep"}
	defer s.logAudit(ctx, &entry)

	// pending records past their expiry
	pending, err := s.store.ScanExpired(ctx, now, core.OnlyPending)
	if err != nil {
		errs = append(errs, fmt.Errorf("scanning expired pending tokens: %w", err))
	} else if len(pending) > 0 {
		deleted, err := s.store.BatchDelete(ctx, pending)
		result.PendingDeleted = deleted
		if err != nil {
			errs = append(errs, fmt.Errorf("deleting expired pending tokens: %w", err))
		}
	}

	// claimed records whose credential was never picked up: grace period
	// is one extra validity window past expiry, i.e. twice the window
	// from creation
	claimed, err := s.store.ScanExpired(ctx, now.Add(-s.window), core.OnlyClaimed)
	if err != nil {
		errs = append(errs, fmt.Errorf("scanning stale claimed tokens: %w", err))
	} else if len(claimed) > 0 {
		deleted, err := s.store.BatchDelete(ctx, claimed)
		result.ClaimedDeleted = deleted
		if err != nil {
			errs = append(errs, fmt.Errorf("deleting stale claimed tokens: %w", err))
		}
	}

	err = errors.Join(errs...)
	entry.Success = err == nil
	if err != nil {
		entry.Error = err.Error()
	}
	return result, err
}

// Await blocks until the credential for id arrives or the timeout elapses.
func (s *TokenService) Await(ctx context.Context, id string, timeout time.Duration) (string, error) {
	if !wellFormedID(id) {
		return "", httpError(http.StatusBadRequest, ErrInvalidToken)
	}
	return s.waiter.AwaitCredential(ctx, id, timeout)
}

func (s *TokenService) deleteLazily(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), lazyDeleteTimeout)
		defer cancel()
		if err := s.store.Delete(ctx, id); err != nil {
			log.Warn().Err(err).Msg("lazy token cleanup failed, sweeper will collect the record")
		}
	}()
}

func (s *TokenService) logAudit(ctx context.Context, entry *core.AuditEntry) {
	if err := s.auditor.Log(*entry); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("action", entry.Action).Msg("failed to write audit log entry")
	}
}

// wellFormedID checks the shape of a caller-supplied token id before it is
// allowed anywhere near the store: minimum length and base64url alphabet.
func wellFormedID(id string) bool {
	if len(id) < config.MinTokenLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
