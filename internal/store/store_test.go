package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jsayol/qr-signin/internal/core"
)

// storeFactory builds a fresh, empty store for one test run.
type storeFactory func(t *testing.T) core.TokenStore

func backends(t *testing.T) map[string]storeFactory {
	t.Helper()

	m := map[string]storeFactory{
		"memory": func(t *testing.T) core.TokenStore {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) core.TokenStore {
			// a single connection so the :memory: database is shared
			s, err := NewSQLStore("sqlite", SQLConfig{DSN: ":memory:", MaxOpenConns: 1})
			if err != nil {
				t.Fatalf("creating sqlite store: %v", err)
			}
			return s
		},
	}

	if dsn := os.Getenv("QRSIGNIN_TEST_POSTGRES_DSN"); dsn != "" {
		m["postgres"] = func(t *testing.T) core.TokenStore {
			s, err := NewSQLStore("postgres", SQLConfig{DSN: dsn})
			if err != nil {
				t.Fatalf("creating postgres store: %v", err)
			}
			if _, err := s.db.Exec(`DELETE FROM qr_tokens`); err != nil {
				t.Fatalf("resetting qr_tokens table: %v", err)
			}
			return s
		}
	}

	if addr := os.Getenv("QRSIGNIN_TEST_REDIS_ADDR"); addr != "" {
		m["redis"] = func(t *testing.T) core.TokenStore {
			s, err := NewRedisStore(context.Background(), RedisConfig{
				Addr:   addr,
				Prefix: fmt.Sprintf("qrsignin-test-%d:", time.Now().UnixNano()),
			})
			if err != nil {
				t.Fatalf("creating redis store: %v", err)
			}
			return s
		}
	}

	return m
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s core.TokenStore)) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer func() {
				_ = s.Close()
			}()
			fn(t, s)
		})
	}
}

func testToken(id string, exp time.Time) core.Token {
	return core.Token{
		ID:        id,
		State:     core.StatePending,
		IP:        "192.0.2.1",
		CreatedAt: exp.Add(-10 * time.Second),
		ExpiresAt: exp,
	}
}

func TestCreateAndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s core.TokenStore) {
		ctx := context.Background()
		exp := time.Now().Add(10 * time.Second).Truncate(time.Millisecond)
		want := testToken("token-a", exp)

		if err := s.Create(ctx, want); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		got, err := s.Get(ctx, "token-a")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Get() mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestCreateRejectsDuplicate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s core.TokenStore) {
		ctx := context.Background()
		token := testToken("token-dup", time.Now().Add(10*time.Second))

		if err := s.Create(ctx, token); err != nil {
			t.Fatalf("first Create() error = %v", err)
		}
		if err := s.Create(ctx, token); !errors.Is(err, core.ErrAlreadyExists) {
			t.Errorf("second Create() error = %v, want ErrAlreadyExists", err)
		}
	})
}

func TestGetMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s core.TokenStore) {
		if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})
}

func TestConditionalUpdate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s core.TokenStore) {
		ctx := context.Background()
		token := testToken("token-cu", time.Now().Add(10*time.Second))
		if err := s.Create(ctx, token); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		err := s.ConditionalUpdate(ctx, token.ID,
			func(t core.Token) bool { return t.State == core.StatePending },
			func(t *core.Token) {
				t.State = core.StateClaimed
				t.Credential = "cred-1"
			})
		if err != nil {
			t.Fatalf("ConditionalUpdate() error = %v", err)
		}

		got, err := s.Get(ctx, token.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.State != core.StateClaimed || got.Credential != "cred-1" {
			t.Errorf("got state=%v cred=%q, want claimed/cred-1", got.State, got.Credential)
		}

		// second claim attempt must be rejected, record untouched
		err = s.ConditionalUpdate(ctx, token.ID,
			func(t core.Token) bool { return t.State == core.StatePending },
			func(t *core.Token) { t.Credential = "cred-2" })
		if !errors.Is(err, core.ErrPredicateFailed) {
			t.Errorf("ConditionalUpdate() error = %v, want ErrPredicateFailed", err)
		}

		got, _ = s.Get(ctx, token.ID)
		if got.Credential != "cred-1" {
			t.Errorf("credential overwritten to %q after failed predicate", got.Credential)
		}
	})
}

func TestConditionalUpdateMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s core.TokenStore) {
		err := s.ConditionalUpdate(context.Background(), "nope",
			func(core.Token) bool { return true },
			func(*core.Token) {})
		if !errors.Is(err, core.ErrNotFound) {
			t.Errorf("ConditionalUpdate() error = %v, want ErrNotFound", err)
		}
	})
}

// TestConditionalUpdateRace fires concurrent claim attempts at a single
// token and verifies exactly one wins.
func TestConditionalUpdateRace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s core.TokenStore) {
		ctx := context.Background()
		token := testToken("token-race", time.Now().Add(time.Minute))
		if err := s.Create(ctx, token); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		const claimers = 16
		var wg sync.WaitGroup
		var mu sync.Mutex
		var winners []string

		for i := 0; i < claimers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				cred := fmt.Sprintf("cred-%d", i)
				err := s.ConditionalUpdate(ctx, token.ID,
					func(t core.Token) bool { return t.State == core.StatePending },
					func(t *core.Token) {
						t.State = core.StateClaimed
						t.Credential = cred
					})
				if err == nil {
					mu.Lock()
					winners = append(winners, cred)
					mu.Unlock()
				} else if !errors.Is(err, core.ErrPredicateFailed) {
					t.Errorf("claimer %d: unexpected error %v", i, err)
				}
			}(i)
		}
		wg.Wait()

		if len(winners) != 1 {
			t.Fatalf("got %d winners (%v), want exactly 1", len(winners), winners)
		}

		got, err := s.Get(ctx, token.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Credential != winners[0] {
			t.Errorf("stored credential %q does not match winner %q", got.Credential, winners[0])
		}
	})
}

func TestDeleteIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s core.TokenStore) {
		ctx := context.Background()
		token := testToken("token-del", time.Now().Add(10*time.Second))
		if err := s.Create(ctx, token); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		if err := s.Delete(ctx, token.ID); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if err := s.Delete(ctx, token.ID); err != nil {
			t.Errorf("second Delete() error = %v, want nil", err)
		}
		if _, err := s.Get(ctx, token.ID); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
		}
	})
}

func TestScanExpired(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s core.TokenStore) {
		ctx := context.Background()
		now := time.Now().Truncate(time.Millisecond)

		expiredPending := testToken("expired-pending", now.Add(-time.Minute))
		expiredClaimed := testToken("expired-claimed", now.Add(-time.Minute))
		expiredClaimed.State = core.StateClaimed
		expiredClaimed.Credential = "cred"
		live := testToken("live", now.Add(time.Hour))

		for _, token := range []core.Token{expiredPending, expiredClaimed, live} {
			if err := s.Create(ctx, token); err != nil {
				t.Fatalf("Create(%s) error = %v", token.ID, err)
			}
		}

		tests := []struct {
			name   string
			filter core.StateFilter
			want   []string
		}{
			{"any", core.AnyState, []string{"expired-claimed", "expired-pending"}},
			{"pending", core.OnlyPending, []string{"expired-pending"}},
			{"claimed", core.OnlyClaimed, []string{"expired-claimed"}},
		}
		for _, tt := range tests {
			got, err := s.ScanExpired(ctx, now, tt.filter)
			if err != nil {
				t.Fatalf("ScanExpired(%s) error = %v", tt.name, err)
			}
			sort.Strings(got)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ScanExpired(%s) mismatch (-want +got):\n%s", tt.name, diff)
			}
		}
	})
}

func TestBatchDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s core.TokenStore) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			token := testToken(fmt.Sprintf("batch-%d", i), time.Now().Add(time.Minute))
			if err := s.Create(ctx, token); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
		}

		n, err := s.BatchDelete(ctx, []string{"batch-0", "batch-1", "batch-2", "batch-missing"})
		if err != nil {
			t.Fatalf("BatchDelete() error = %v", err)
		}
		if n != 3 {
			t.Errorf("BatchDelete() = %d, want 3", n)
		}
		for i := 0; i < 3; i++ {
			id := fmt.Sprintf("batch-%d", i)
			if _, err := s.Get(ctx, id); !errors.Is(err, core.ErrNotFound) {
				t.Errorf("Get(%s) after batch delete error = %v, want ErrNotFound", id, err)
			}
		}
	})
}

// TestCorruptRecordSweep checks the memory store reports undecodable
// records as expired so the reaper can remove them.
func TestCorruptRecordSweep(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer func() {
		_ = s.Close()
	}()

	token := testToken("mangled", time.Now().Add(time.Hour))
	if err := s.Create(ctx, token); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	s.Corrupt("mangled")

	if _, err := s.Get(ctx, "mangled"); !errors.Is(err, core.ErrCorruptRecord) {
		t.Errorf("Get() error = %v, want ErrCorruptRecord", err)
	}

	ids, err := s.ScanExpired(ctx, time.Now(), core.OnlyPending)
	if err != nil {
		t.Fatalf("ScanExpired() error = %v", err)
	}
	if diff := cmp.Diff([]string{"mangled"}, ids); diff != "" {
		t.Errorf("ScanExpired() mismatch (-want +got):\n%s", diff)
	}
}
