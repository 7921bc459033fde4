package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jsayol/qr-signin/internal/core"
)

// casRetries bounds the optimistic-transaction retry loop in
// ConditionalUpdate. Contention on a single token id is a retry of the
// same claim, so a handful of attempts is plenty.
const casRetries = 5

// createScript writes a record and indexes its expiry, failing if the key
// is occupied. Running it as a script keeps create-if-absent and the index
// update in one atomic step.
var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// RedisConfig holds settings for the redis-backed store flavor.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	PoolSize int    `mapstructure:"pool_size"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RedisStore keeps token records as JSON values with a sorted-set expiry
// index, giving the sweeper a server-side range query. Claim commits also
// publish the attached credential on a per-token channel so waiting
// requesters get push delivery instead of polling.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "qrsignin:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at '%s': %w", cfg.Addr, err)
	}

	return &RedisStore{client: client, prefix: cfg.Prefix}, nil
}

func (s *RedisStore) tokenKey(id string) string { return s.prefix + "tok:" + id }
func (s *RedisStore) expiryKey() string         { return s.prefix + "exp" }

// ClaimChannel is the pub/sub channel on which the credential for id is
// published once the token is claimed.
func (s *RedisStore) ClaimChannel(id string) string { return s.prefix + "claim:" + id }

// Client exposes the underlying connection for the pub/sub waiter.
func (s *RedisStore) Client() *redis.Client { return s.client }

func (s *RedisStore) Create(ctx context.Context, token core.Token) error {
	data, err := core.MarshalToken(token)
	if err != nil {
		return err
	}

	created, err := createScript.Run(ctx, s.client,
		[]string{s.tokenKey(token.ID), s.expiryKey()},
		data, token.ExpiresAt.UnixMilli(), token.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("creating token record: %w", err)
	}
	if created == 0 {
		return core.ErrAlreadyExists
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (core.Token, error) {
	data, err := s.client.Get(ctx, s.tokenKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.Token{}, core.ErrNotFound
	}
	if err != nil {
		return core.Token{}, fmt.Errorf("reading token record: %w", err)
	}
	return core.UnmarshalToken(id, data)
}

func (s *RedisStore) ConditionalUpdate(ctx context.Context, id string, predicate func(core.Token) bool, mutate func(*core.Token)) error {
	key := s.tokenKey(id)

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return core.ErrNotFound
		}
		if err != nil {
			return err
		}

		token, err := core.UnmarshalToken(id, data)
		if err != nil {
			return err
		}
		if !predicate(token) {
			return core.ErrPredicateFailed
		}

		mutate(&token)
		updated, err := core.MarshalToken(token)
		if err != nil {
			return err
		}

		// The commit aborts if another writer touched the key since the
		// WATCH, which is what makes the predicate race-free.
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			pipe.ZAdd(ctx, s.expiryKey(), redis.Z{
				Score:  float64(token.ExpiresAt.UnixMilli()),
				Member: id,
			})
			if token.State == core.StateClaimed && token.Credential != "" {
				pipe.Publish(ctx, s.ClaimChannel(id), token.Credential)
			}
			return nil
		})
		return err
	}

	for i := 0; i < casRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("conditional update on '%s' aborted %d times", fingerprint(id), casRetries)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.tokenKey(id))
		pipe.ZRem(ctx, s.expiryKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting token record: %w", err)
	}
	return nil
}

func (s *RedisStore) ScanExpired(ctx context.Context, before time.Time, filter core.StateFilter) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", before.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scanning expiry index: %w", err)
	}
	if len(ids) == 0 || filter == core.AnyState {
		return ids, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.tokenKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading scanned records: %w", err)
	}

	var matched []string
	for i, v := range values {
		if v == nil {
			// index entry without a record, clean it up on the next sweep
			matched = append(matched, ids[i])
			continue
		}
		raw, ok := v.(string)
		if !ok {
			continue
		}
		token, err := core.UnmarshalToken(ids[i], []byte(raw))
		if err != nil {
			// undecodable records are garbage, sweep them
			matched = append(matched, ids[i])
			continue
		}
		if matchesFilter(token.State, filter) {
			matched = append(matched, ids[i])
		}
	}
	return matched, nil
}

func (s *RedisStore) BatchDelete(ctx context.Context, ids []string) (int, error) {
	deleted := 0
	var errs []error
	for _, id := range ids {
		var del *redis.IntCmd
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			del = pipe.Del(ctx, s.tokenKey(id))
			pipe.ZRem(ctx, s.expiryKey(), id)
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("deleting '%s': %w", fingerprint(id), err))
			continue
		}
		deleted += int(del.Val())
	}
	return deleted, errors.Join(errs...)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
