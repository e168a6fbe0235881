package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/auth-platform/savecache-service/internal/config"
	"github.com/auth-platform/savecache-service/internal/crypto"
	"github.com/auth-platform/savecache-service/internal/resilience"
	"github.com/auth-platform/savecache-service/internal/save"
)

const mgetBatch = 500

// NewRedisClient connects to Redis in standalone or cluster mode and pings it.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (redis.UniversalClient, error) {
	var client redis.UniversalClient
	if cfg.ClusterMode {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addresses[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.ErrorContext(ctx, "redis connection failed", slog.String("error", err.Error()))
		_ = client.Close()
		return nil, save.WrapError(save.ErrUnavailable, "failed to connect to redis", err)
	}

	logger.InfoContext(ctx, "redis client connected",
		slog.Bool("cluster_mode", cfg.ClusterMode),
		slog.Int("pool_size", cfg.PoolSize),
	)
	return client, nil
}

// RedisOptions configures a Redis store.
type RedisOptions struct {
	KeyPrefix    string
	Sealer       crypto.Sealer
	Breaker      *resilience.Breaker
	MaxTxRetries int
	// LeaseTTL bounds how long a crashed instance can hold a commit lease.
	LeaseTTL time.Duration
	Logger   *slog.Logger
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type envelope struct {
	Rev   uint64          `json:"rev"`
	Value json.RawMessage `json:"value"`
}

// Redis is a Store shared by every service instance. All keys of one kind
// carry the same hash tag so transactions stay on one cluster slot.
type Redis[T any] struct {
	client     redis.UniversalClient
	breaker    *resilience.Breaker
	sealer     crypto.Sealer
	tag        string
	maxRetries int
	leaseTTL   time.Duration
	logger     *slog.Logger
}

// NewRedis creates a Redis store for one aggregate kind.
func NewRedis[T any](client redis.UniversalClient, kind save.Kind, opts RedisOptions) *Redis[T] {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "savecache"
	}
	if opts.Sealer == nil {
		opts.Sealer = crypto.Plain{}
	}
	if opts.MaxTxRetries <= 0 {
		opts.MaxTxRetries = 16
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Redis[T]{
		client:     client,
		breaker:    opts.Breaker,
		sealer:     opts.Sealer,
		tag:        fmt.Sprintf("{%s:%s}", opts.KeyPrefix, kind),
		maxRetries: opts.MaxTxRetries,
		leaseTTL:   opts.LeaseTTL,
		logger:     opts.Logger.With(slog.String("kind", kind.String())),
	}
}

func (r *Redis[T]) entryKey(id string) string { return r.tag + ":e:" + id }
func (r *Redis[T]) indexKey() string          { return r.tag + ":index" }
func (r *Redis[T]) revKey() string            { return r.tag + ":rev" }
func (r *Redis[T]) leaseKey(id string) string { return r.tag + ":lease:" + id }

func (r *Redis[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var (
		e     Entry[T]
		found bool
	)
	err := r.exec(ctx, func(ctx context.Context) error {
		var err error
		e, found, err = r.read(ctx, r.client, id)
		return err
	})
	return e.Value, found, err
}

func (r *Redis[T]) Set(ctx context.Context, id string, value T) error {
	_, err := r.Update(ctx, id, func(context.Context, T, bool) (T, error) {
		return value, nil
	})
	return err
}

func (r *Redis[T]) GetAll(ctx context.Context) (map[string]Entry[T], error) {
	out := make(map[string]Entry[T])
	err := r.exec(ctx, func(ctx context.Context) error {
		ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
		if err != nil {
			return save.WrapError(save.ErrUnavailable, "redis smembers failed", err)
		}
		for start := 0; start < len(ids); start += mgetBatch {
			end := min(start+mgetBatch, len(ids))
			batch := ids[start:end]
			keys := make([]string, len(batch))
			for i, id := range batch {
				keys[i] = r.entryKey(id)
			}
			vals, err := r.client.MGet(ctx, keys...).Result()
			if err != nil {
				return save.WrapError(save.ErrUnavailable, "redis mget failed", err)
			}
			for i, v := range vals {
				s, ok := v.(string)
				if !ok {
					continue
				}
				e, err := r.decode([]byte(s))
				if err != nil {
					r.logger.ErrorContext(ctx, "skipping undecodable cache entry",
						slog.String("save_id", batch[i]),
						slog.String("error", err.Error()),
					)
					continue
				}
				out[batch[i]] = e
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Redis[T]) Update(ctx context.Context, id string, fn UpdateFunc[T]) (T, error) {
	var (
		next  T
		fnErr error
	)
	key := r.entryKey(id)
	txf := func(tx *redis.Tx) error {
		cur, found, err := r.read(ctx, tx, id)
		if err != nil {
			return err
		}
		next, fnErr = fn(ctx, cur.Value, found)
		if fnErr != nil {
			return fnErr
		}
		rev, err := tx.Incr(ctx, r.revKey()).Uint64()
		if err != nil {
			return err
		}
		payload, err := r.encode(next, rev)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, payload, 0)
			p.SAdd(ctx, r.indexKey(), id)
			return nil
		})
		return err
	}

	err := r.exec(ctx, func(ctx context.Context) error {
		for attempt := 0; attempt < r.maxRetries; attempt++ {
			err := r.client.Watch(ctx, txf, key)
			switch {
			case err == nil:
				return nil
			case fnErr != nil:
				return nil
			case errors.Is(err, redis.TxFailedErr):
				r.logger.DebugContext(ctx, "cache update conflict, retrying",
					slog.String("save_id", id),
					slog.Int("attempt", attempt+1),
				)
				continue
			default:
				return asUnavailable("redis update failed", err)
			}
		}
		return save.Errorf(save.CodeUnavailable, "cache update for %s kept conflicting", id)
	})
	if fnErr != nil {
		var zero T
		return zero, fnErr
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return next, nil
}

func (r *Redis[T]) Evict(ctx context.Context, id string, revision uint64) (bool, error) {
	var evicted bool
	key := r.entryKey(id)
	err := r.exec(ctx, func(ctx context.Context) error {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			cur, found, err := r.read(ctx, tx, id)
			if err != nil {
				return err
			}
			if !found || cur.Revision != revision {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, key)
				p.SRem(ctx, r.indexKey(), id)
				return nil
			})
			if err == nil {
				evicted = true
			}
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			// rewritten while evicting
			return nil
		}
		if err != nil {
			return asUnavailable("redis evict failed", err)
		}
		return nil
	})
	return evicted, err
}

// Commit takes a lease key with SET NX so that instances sharing the store
// never persist the same id concurrently. fn runs outside the breaker.
func (r *Redis[T]) Commit(ctx context.Context, id string, revision uint64, fn CommitFunc) (CommitResult, error) {
	token := uuid.NewString()
	var acquired bool
	err := r.exec(ctx, func(ctx context.Context) error {
		var err error
		acquired, err = r.client.SetNX(ctx, r.leaseKey(id), token, r.leaseTTL).Result()
		if err != nil {
			return save.WrapError(save.ErrUnavailable, "redis lease failed", err)
		}
		return nil
	})
	if err != nil || !acquired {
		return CommitResult{}, err
	}
	defer r.releaseLease(context.WithoutCancel(ctx), id, token)

	var current bool
	err = r.exec(ctx, func(ctx context.Context) error {
		cur, found, err := r.read(ctx, r.client, id)
		current = found && cur.Revision == revision
		return err
	})
	if err != nil || !current {
		return CommitResult{}, err
	}

	if err := fn(ctx); err != nil {
		return CommitResult{}, err
	}
	evicted, err := r.Evict(ctx, id, revision)
	return CommitResult{Committed: true, Evicted: evicted}, err
}

// releaseLease deletes the lease only while it still holds token.
func (r *Redis[T]) releaseLease(ctx context.Context, id, token string) {
	key := r.leaseKey(id)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		held, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) || (err == nil && held != token) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		r.logger.WarnContext(ctx, "commit lease release failed, left to expire",
			slog.String("save_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Redis[T]) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, func(ctx context.Context) error {
		_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, r.entryKey(id))
			p.SRem(ctx, r.indexKey(), id)
			return nil
		})
		if err != nil {
			return save.WrapError(save.ErrUnavailable, "redis delete failed", err)
		}
		return nil
	})
}

func (r *Redis[T]) Len(ctx context.Context) (int, error) {
	var n int64
	err := r.exec(ctx, func(ctx context.Context) error {
		var err error
		n, err = r.client.SCard(ctx, r.indexKey()).Result()
		if err != nil {
			return save.WrapError(save.ErrUnavailable, "redis scard failed", err)
		}
		return nil
	})
	return int(n), err
}

func (r *Redis[T]) read(ctx context.Context, c getter, id string) (Entry[T], bool, error) {
	raw, err := c.Get(ctx, r.entryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry[T]{}, false, nil
	}
	if err != nil {
		return Entry[T]{}, false, save.WrapError(save.ErrUnavailable, "redis get failed", err)
	}
	e, err := r.decode(raw)
	if err != nil {
		return Entry[T]{}, false, err
	}
	return e, true, nil
}

func (r *Redis[T]) encode(value T, rev uint64) ([]byte, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return nil, save.WrapError(save.ErrInternal, "encode cache value", err)
	}
	payload, err := json.Marshal(envelope{Rev: rev, Value: body})
	if err != nil {
		return nil, save.WrapError(save.ErrInternal, "encode cache envelope", err)
	}
	return r.sealer.Seal(payload)
}

func (r *Redis[T]) decode(raw []byte) (Entry[T], error) {
	payload, err := r.sealer.Open(raw)
	if err != nil {
		return Entry[T]{}, save.WrapError(save.ErrInternal, "open cache value", err)
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Entry[T]{}, save.WrapError(save.ErrInternal, "decode cache envelope", err)
	}
	var v T
	if err := json.Unmarshal(env.Value, &v); err != nil {
		return Entry[T]{}, save.WrapError(save.ErrInternal, "decode cache value", err)
	}
	return Entry[T]{Value: v, Revision: env.Rev}, nil
}

func (r *Redis[T]) exec(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.breaker == nil {
		return fn(ctx)
	}
	return r.breaker.Execute(ctx, fn)
}

func asUnavailable(msg string, err error) error {
	var coded *save.Error
	if errors.As(err, &coded) {
		return err
	}
	return save.WrapError(save.ErrUnavailable, msg, err)
}

var _ Store[struct{}] = (*Redis[struct{}])(nil)
