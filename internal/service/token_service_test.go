package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jsayol/qr-signin/internal/audit"
	"github.com/jsayol/qr-signin/internal/config"
	"github.com/jsayol/qr-signin/internal/core"
	"github.com/jsayol/qr-signin/internal/notify"
	"github.com/jsayol/qr-signin/internal/store"
)

// fakeMinter hands out sequential credentials and can be told to fail.
type fakeMinter struct {
	calls atomic.Int64
	fail  bool
}

func (m *fakeMinter) Mint(_ context.Context, uid string) (string, error) {
	n := m.calls.Add(1)
	if m.fail {
		return "", errors.New("signing backend unavailable")
	}
	return fmt.Sprintf("cred-%s-%d", uid, n), nil
}

type fixture struct {
	svc     *TokenService
	store   *store.MemoryStore
	minter  *fakeMinter
	auditor *audit.MemoryAuditor
	clock   time.Time
}

func newFixture(t *testing.T, cfg config.TokenConfig) *fixture {
	t.Helper()
	if cfg.ValidityWindow == 0 {
		cfg.ValidityWindow = 10 * time.Second
	}
	if cfg.EntropyBytes == 0 {
		cfg.EntropyBytes = 96
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "qrsignin://"
	}

	st := store.NewMemoryStore()
	minter := &fakeMinter{}
	auditor := audit.NewMemoryAuditor()
	waiter := notify.NewPollWaiter(st, 5*time.Millisecond)
	svc := NewTokenService(st, minter, waiter, auditor, cfg)

	f := &fixture{
		svc:     svc,
		store:   st,
		minter:  minter,
		auditor: auditor,
		clock:   time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
	svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func (f *fixture) issue(t *testing.T) *IssueResult {
	t.Helper()
	res, err := f.svc.Generate(context.Background(), IssueRequest{ClientIP: "192.0.2.7"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	return res
}

func principal(id string) *core.Principal {
	return &core.Principal{ID: id, Verifier: "test"}
}

func wantStatus(t *testing.T, err error, status int) {
	t.Helper()
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error %v does not carry a status code", err)
	}
	if httpErr.StatusCode != status {
		t.Errorf("status = %d, want %d", httpErr.StatusCode, status)
	}
}

func TestGenerate(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})
	res := f.issue(t)

	// 96 bytes of entropy encode to 128 base64url characters
	if len(res.ID) != 128 {
		t.Errorf("id length = %d, want 128", len(res.ID))
	}
	if !strings.HasPrefix(res.Payload, "qrsignin://") || !strings.HasSuffix(res.Payload, res.ID) {
		t.Errorf("payload %q is not prefix+id", res.Payload)
	}

	token, err := f.store.Get(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token.State != core.StatePending {
		t.Errorf("state = %v, want pending", token.State)
	}
	if got, want := token.ExpiresAt, f.clock.Add(10*time.Second); !got.Equal(want) {
		t.Errorf("expiry = %v, want %v", got, want)
	}
	if token.IP != "192.0.2.7" {
		t.Errorf("ip = %q, want 192.0.2.7", token.IP)
	}
}

func TestGenerateIDsAreUnique(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		res := f.issue(t)
		if seen[res.ID] {
			t.Fatalf("duplicate id issued: %s", res.ID)
		}
		seen[res.ID] = true
	}
}

// sequenceReader replays fixed chunks, one per read.
type sequenceReader struct {
	chunks [][]byte
}

func (r *sequenceReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	chunk := r.chunks[0]
	r.chunks = r.chunks[1:]
	return copy(p, chunk), nil
}

func TestGenerateRetriesOnCollision(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})

	colliding := bytes.Repeat([]byte{0xAA}, 96)
	fresh := bytes.Repeat([]byte{0xBB}, 96)

	f.svc.entropy = &sequenceReader{chunks: [][]byte{colliding, colliding, fresh}}

	first := f.issue(t)
	second := f.issue(t)

	if first.ID == second.ID {
		t.Fatal("collision was not retried with fresh entropy")
	}
}

func TestGenerateCollisionBudgetExhausted(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})

	same := bytes.Repeat([]byte{0xCC}, 96)
	f.svc.entropy = &sequenceReader{chunks: [][]byte{same, same, same, same}}

	f.issue(t)
	_, err := f.svc.Generate(context.Background(), IssueRequest{})
	if err == nil {
		t.Fatal("Generate() succeeded despite exhausted collisions")
	}
	wantStatus(t, err, http.StatusInternalServerError)
}

func TestGenerateDeletesPrevious(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})
	old := f.issue(t)

	res, err := f.svc.Generate(context.Background(), IssueRequest{Prev: old.ID})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.ID == old.ID {
		t.Fatal("replacement reused the previous id")
	}
	if _, err := f.store.Get(context.Background(), old.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("previous token still present, Get() error = %v", err)
	}
}

func TestGenerateIgnoresMalformedPrevious(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})
	if _, err := f.svc.Generate(context.Background(), IssueRequest{Prev: "../../etc/passwd"}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
}

func TestClaim(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})
	res := f.issue(t)

	if err := f.svc.Claim(context.Background(), res.ID, principal("alice")); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	token, err := f.store.Get(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token.State != core.StateClaimed {
		t.Errorf("state = %v, want claimed", token.State)
	}
	if token.Credential == "" {
		t.Error("no credential attached")
	}
	if got := f.minter.calls.Load(); got != 1 {
		t.Errorf("minter called %d times, want 1", got)
	}
}

func TestClaimRequiresPrincipal(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})
	res := f.issue(t)

	err := f.svc.Claim(context.Background(), res.ID, nil)
	wantStatus(t, err, http.StatusUnauthorized)

	if got := f.minter.calls.Load(); got != 0 {
		t.Errorf("minter called %d times for unauthenticated claim", got)
	}
}

func TestClaimRejectsMalformedID(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})

	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"too short", "abc123"},
		{"bad alphabet", strings.Repeat("a", 120) + "!@#$%^&*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.Claim(context.Background(), tt.id, principal("alice"))
			wantStatus(t, err, http.StatusBadRequest)
		})
	}
}

func TestClaimUnknownToken(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})
	err := f.svc.Claim(context.Background(), strings.Repeat("x", 128), principal("alice"))
	wantStatus(t, err, http.StatusBadRequest)
}

func TestClaimExpiredToken(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})
	res := f.issue(t)

	f.advance(11 * time.Second)

	err := f.svc.Claim(context.Background(), res.ID, principal("alice"))
	wantStatus(t, err, http.StatusBadRequest)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("error = %v, want ErrExpiredToken", err)
	}

	// the record is removed in the background
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := f.store.Get(context.Background(), res.ID); errors.Is(err, core.ErrNotFound) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("expired record was not cleaned up")
}

func TestClaimBoundaryInstant(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})
	res := f.issue(t)

	// exactly at the expiry instant the token is no longer claimable
	f.advance(10 * time.Second)

	err := f.svc.Claim(context.Background(), res.ID, principal("alice"))
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("error = %v, want ErrExpiredToken", err)
	}
}

func TestClaimTwice(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})
	res := f.issue(t)

	if err := f.svc.Claim(context.Background(), res.ID, principal("alice")); err != nil {
		t.Fatalf("first Claim() error = %v", err)
	}

	err := f.svc.Claim(context.Background(), res.ID, principal("bob"))
	wantStatus(t, err, http.StatusBadRequest)
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Errorf("error = %v, want ErrAlreadyClaimed", err)
	}

	// the first credential must survive the rejected attempt
	token, _ := f.store.Get(context.Background(), res.ID)
	if !strings.Contains(token.Credential, "alice") {
		t.Errorf("credential %q does not belong to the first claimant", token.Credential)
	}
}

func TestClaimConcurrent(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})
	res := f.issue(t)

	const claimers = 16
	var wg sync.WaitGroup
	var successes atomic.Int64

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := f.svc.Claim(context.Background(), res.ID, principal(fmt.Sprintf("user-%d", i)))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrAlreadyClaimed):
			default:
				t.Errorf("claimer %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Fatalf("%d claims succeeded, want exactly 1", got)
	}

	token, err := f.store.Get(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token.State != core.StateClaimed || token.Credential == "" {
		t.Errorf("final record state=%v cred=%q", token.State, token.Credential)
	}
}

func TestClaimMintFailureReleasesToken(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})
	res := f.issue(t)
	f.minter.fail = true

	err := f.svc.Claim(context.Background(), res.ID, principal("alice"))
	wantStatus(t, err, http.StatusInternalServerError)
	if !errors.Is(err, ErrMint) {
		t.Errorf("error = %v, want ErrMint", err)
	}

	// the slot is not left occupied by a token that can never deliver
	if _, err := f.store.Get(context.Background(), res.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("token still present after mint failure, Get() error = %v", err)
	}
}

func TestClaimCorruptRecord(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})
	res := f.issue(t)
	f.store.Corrupt(res.ID)

	err := f.svc.Claim(context.Background(), res.ID, principal("alice"))
	wantStatus(t, err, http.StatusBadRequest)
}

func TestClaimSlidingExpiry(t *testing.T) {
	f := newFixture(t, config.TokenConfig{Sliding: true})
	res := f.issue(t)

	f.advance(5 * time.Second)
	if err := f.svc.Claim(context.Background(), res.ID, principal("alice")); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	token, _ := f.store.Get(context.Background(), res.ID)
	if got, want := token.ExpiresAt, f.clock.Add(10*time.Second); !got.Equal(want) {
		t.Errorf("expiry = %v, want extended to %v", got, want)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})
	res := f.issue(t)

	if err := f.svc.Cancel(context.Background(), res.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if _, err := f.store.Get(context.Background(), res.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("token still present after cancel")
	}

	// cancelling again is fine
	if err := f.svc.Cancel(context.Background(), res.ID); err != nil {
		t.Errorf("second Cancel() error = %v", err)
	}

	err := f.svc.Cancel(context.Background(), "short")
	wantStatus(t, err, http.StatusBadRequest)
}

func TestSweep(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})
	ctx := context.Background()

	expired := f.issue(t)      // pending, will expire
	staleClaimed := f.issue(t) // claimed, never picked up
	if err := f.svc.Claim(ctx, staleClaimed.ID, principal("alice")); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	// past the validity window but not past the claimed grace period
	f.advance(11 * time.Second)

	fresh := f.issue(t)
	recentlyClaimed := f.issue(t)
	if err := f.svc.Claim(ctx, recentlyClaimed.ID, principal("bob")); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	res, err := f.svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.PendingDeleted != 1 {
		t.Errorf("PendingDeleted = %d, want 1", res.PendingDeleted)
	}
	if res.ClaimedDeleted != 0 {
		t.Errorf("ClaimedDeleted = %d, want 0", res.ClaimedDeleted)
	}
	if _, err := f.store.Get(ctx, expired.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expired pending token survived the sweep")
	}
	if _, err := f.store.Get(ctx, fresh.ID); err != nil {
		t.Errorf("live token removed by sweep, Get() error = %v", err)
	}
	if _, err := f.store.Get(ctx, staleClaimed.ID); err != nil {
		t.Errorf("claimed token removed before its grace period, Get() error = %v", err)
	}

	// another full window later the unretrieved claimed record goes too
	f.advance(11 * time.Second)
	res, err = f.svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep() error = %v", err)
	}
	if res.ClaimedDeleted != 1 {
		t.Errorf("ClaimedDeleted = %d, want 1", res.ClaimedDeleted)
	}
	if _, err := f.store.Get(ctx, staleClaimed.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("stale claimed token survived the sweep")
	}
	if _, err := f.store.Get(ctx, recentlyClaimed.ID); err != nil {
		t.Errorf("claimed token within grace removed, Get() error = %v", err)
	}
}

func TestAwait(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})
	res := f.issue(t)

	done := make(chan struct{})
	var cred string
	var waitErr error
	go func() {
		defer close(done)
		cred, waitErr = f.svc.Await(context.Background(), res.ID, 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := f.svc.Claim(context.Background(), res.ID, principal("alice")); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	<-done
	if waitErr != nil {
		t.Fatalf("Await() error = %v", waitErr)
	}
	if cred == "" {
		t.Error("Await() returned empty credential")
	}
}

func TestAwaitTimeout(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})
	res := f.issue(t)

	_, err := f.svc.Await(context.Background(), res.ID, 30*time.Millisecond)
	if !errors.Is(err, notify.ErrTimedOut) {
		t.Errorf("Await() error = %v, want ErrTimedOut", err)
	}
}

func TestAuditTrail(t *testing.T) {
	f := newFixture(t, config.TokenConfig{})
	res := f.issue(t)
	if err := f.svc.Claim(context.Background(), res.ID, principal("alice")); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	entries := f.auditor.Entries()
	if len(entries) != 2 {
		t.Fatalf("got %d audit entries, want 2", len(entries))
	}

	issue, claim := entries[0], entries[1]
	if issue.Action != "token.issue" || !issue.Success {
		t.Errorf("issue entry = %+v", issue)
	}
	if claim.Action != "token.claim" || !claim.Success {
		t.Errorf("claim entry = %+v", claim)
	}
	if claim.Principal == nil || claim.Principal.ID != "alice" {
		t.Errorf("claim principal = %+v", claim.Principal)
	}

	// the raw id is a bearer secret and must never be written out as-is
	for _, entry := range entries {
		if entry.TokenFingerprint == res.ID {
			t.Error("audit entry contains the raw token id")
		}
		if entry.TokenFingerprint == "" {
			t.Error("audit entry is missing the token fingerprint")
		}
	}
}
