package riglog

import (
	"context"
	"fmt"
	"os"

	"github.com/Station-Manager/errors"
	"github.com/redis/go-redis/v9"
)

// ConfigStore is a remote key-value store holding configuration documents.
type ConfigStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// RedisStore reads configuration documents stored as plain redis strings.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromURL parses a redis:// URL.
func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	const op errors.Op = "riglog.NewRedisStoreFromURL"
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.New(op).Err(err).Msg(errMsgConfigSource)
	}
	return NewRedisStore(redis.NewClient(opts)), nil
}

// storeFromEnv builds a store from ConfigStoreEnv, or returns nil.
func storeFromEnv() ConfigStore {
	url, ok := os.LookupEnv(ConfigStoreEnv)
	if !ok || url == emptyString {
		return nil
	}
	s, err := NewRedisStoreFromURL(url)
	if err != nil {
		return nil
	}
	return s
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	const op errors.Op = "riglog.RedisStore.Get"
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, errors.New(op).Err(err).Msg(fmt.Sprintf("%s %q", errMsgConfigSource, key))
	}
	return data, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
