package settings

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Backend holds raw settings documents by key. Get returns nil, nil for a
// key that was never written.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// DocumentStore is the part of store.Store that keeps settings documents.
type DocumentStore interface {
	GetSetting(ctx context.Context, key string) ([]byte, error)
	PutSetting(ctx context.Context, key string, value []byte) error
}

// StoreBackend keeps settings in the SQL store's settings table.
type StoreBackend struct {
	st DocumentStore
}

// NewStoreBackend wraps st.
func NewStoreBackend(st DocumentStore) *StoreBackend {
	return &StoreBackend{st: st}
}

func (b *StoreBackend) Get(ctx context.Context, key string) ([]byte, error) {
	return b.st.GetSetting(ctx, key)
}

func (b *StoreBackend) Put(ctx context.Context, key string, value []byte) error {
	return b.st.PutSetting(ctx, key, value)
}

// RedisBackend keeps settings as plain Redis string keys.
type RedisBackend struct {
	client redis.UniversalClient
}

// NewRedisBackend connects to url, overriding the database index when db > 0,
// and verifies connectivity.
func NewRedisBackend(ctx context.Context, url string, db int) (*RedisBackend, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "redis: parse url")
	}
	if db > 0 {
		opt.DB = db
	}

	rc := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, eris.Wrap(err, "redis: ping")
	}

	zap.L().Info("redis settings backend connected", zap.String("addr", opt.Addr), zap.Int("db", opt.DB))
	return &RedisBackend{client: rc}, nil
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "redis: get %s", key)
	}
	return v, nil
}

func (b *RedisBackend) Put(ctx context.Context, key string, value []byte) error {
	return eris.Wrapf(b.client.Set(ctx, key, value, 0).Err(), "redis: set %s", key)
}

// Close releases the client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
