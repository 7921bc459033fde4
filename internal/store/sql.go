package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/jsayol/qr-signin/internal/core"
)

// SQLConfig holds settings for the document-style SQL flavors.
type SQLConfig struct {
	// DSN is the driver-specific connection string. For sqlite this is a
	// file path (or ":memory:" for tests), for postgres a connection URL.
	DSN string `mapstructure:"dsn"`

	MaxOpenConns int `mapstructure:"max_open_conns"`
	MaxIdleConns int `mapstructure:"max_idle_conns"`
}

// SQLStore keeps one row per token in a qr_tokens table. It serves both the
// sqlite and postgres flavors; the only differences are placeholder syntax
// and how a unique-key violation is reported.
type SQLStore struct {
	db     *sql.DB
	driver string
}

func NewSQLStore(driver string, cfg SQLConfig) (*SQLStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sql store requires a 'dsn' setting")
	}

	db, err := sql.Open(driverName(driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func driverName(driver string) string {
	if driver == "sqlite" {
		return "sqlite"
	}
	return "postgres"
}

func (s *SQLStore) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS qr_tokens (
			id TEXT PRIMARY KEY,
			exp BIGINT NOT NULL,
			ts BIGINT NOT NULL,
			ip TEXT,
			used INTEGER NOT NULL DEFAULT 0,
			ct TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS qr_tokens_exp ON qr_tokens (exp)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("initializing qr_tokens table: %w", err)
		}
	}
	return nil
}

// rebind converts '?' placeholders to '$n' for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Create(ctx context.Context, token core.Token) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO qr_tokens (id, exp, ts, ip, used, ct) VALUES (?, ?, ?, ?, ?, ?)`),
		token.ID, token.ExpiresAt.UnixMilli(), token.CreatedAt.UnixMilli(),
		token.IP, boolToInt(token.State == core.StateClaimed), token.Credential,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrAlreadyExists
		}
		return fmt.Errorf("inserting token record: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// modernc.org/sqlite reports constraint violations in the message
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}

func (s *SQLStore) Get(ctx context.Context, id string) (core.Token, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT exp, ts, ip, used, ct FROM qr_tokens WHERE id = ?`), id)
	return scanToken(id, row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(id string, row rowScanner) (core.Token, error) {
	var (
		exp, ts  int64
		ip, ct   string
		usedFlag int
	)
	if err := row.Scan(&exp, &ts, &ip, &usedFlag, &ct); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Token{}, core.ErrNotFound
		}
		return core.Token{}, fmt.Errorf("scanning token record: %w", err)
	}
	if exp <= 0 {
		return core.Token{}, fmt.Errorf("%w: missing expiry", core.ErrCorruptRecord)
	}

	state := core.StatePending
	if usedFlag != 0 {
		state = core.StateClaimed
	}
	return core.Token{
		ID:         id,
		State:      state,
		IP:         ip,
		CreatedAt:  time.UnixMilli(ts),
		ExpiresAt:  time.UnixMilli(exp),
		Credential: ct,
	}, nil
}

// ConditionalUpdate implements compare-and-set over the row's mutable
// fields: the guarded UPDATE only matches if (used, ct, exp) still hold the
// values the predicate saw, so a concurrent writer makes the commit miss
// and the loop re-reads. No row locks needed, works the same on both
// drivers.
func (s *SQLStore) ConditionalUpdate(ctx context.Context, id string, predicate func(core.Token) bool, mutate func(*core.Token)) error {
	for i := 0; i < casRetries; i++ {
		token, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if !predicate(token) {
			return core.ErrPredicateFailed
		}

		oldUsed := boolToInt(token.State == core.StateClaimed)
		oldCT := token.Credential
		oldExp := token.ExpiresAt.UnixMilli()

		mutate(&token)

		res, err := s.db.ExecContext(ctx,
			s.rebind(`UPDATE qr_tokens SET used = ?, ct = ?, exp = ?
				WHERE id = ? AND used = ? AND ct = ? AND exp = ?`),
			boolToInt(token.State == core.StateClaimed), token.Credential, token.ExpiresAt.UnixMilli(),
			id, oldUsed, oldCT, oldExp,
		)
		if err != nil {
			return fmt.Errorf("updating token record: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking update result: %w", err)
		}
		if affected == 1 {
			return nil
		}
		// lost the race, re-read and re-evaluate the predicate
	}
	return fmt.Errorf("conditional update on '%s' aborted %d times", fingerprint(id), casRetries)
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM qr_tokens WHERE id = ?`), id); err != nil {
		return fmt.Errorf("deleting token record: %w", err)
	}
	return nil
}

func (s *SQLStore) ScanExpired(ctx context.Context, before time.Time, filter core.StateFilter) ([]string, error) {
	query := `SELECT id FROM qr_tokens WHERE exp <= ?`
	args := []any{before.UnixMilli()}
	switch filter {
	case core.OnlyPending:
		query += ` AND used = 0`
	case core.OnlyClaimed:
		query += ` AND used = 1`
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("scanning expired records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning expired record id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) BatchDelete(ctx context.Context, ids []string) (int, error) {
	deleted := 0
	var errs []error
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx,
			s.rebind(`DELETE FROM qr_tokens WHERE id = ?`), id)
		if err != nil {
			errs = append(errs, fmt.Errorf("deleting '%s': %w", fingerprint(id), err))
			continue
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += int(n)
		}
	}
	return deleted, errors.Join(errs...)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
