package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ai-notetaking-client/internal/dto"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

// RedisStore shares one session between processes (CLI runs, workers) under
// a namespace. Values are JSON.
type RedisStore struct {
	rdb       *redis.Client
	namespace string
}

func NewRedisStore(rdb *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "default"
	}
	return &RedisStore{rdb: rdb, namespace: namespace}
}

// NewRedisStoreFromURL accepts a redis:// URL or a plain host:port address.
func NewRedisStoreFromURL(redisURL, namespace string) *RedisStore {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}
	return NewRedisStore(redis.NewClient(opt), namespace)
}

func (s *RedisStore) key(name string) string {
	return fmt.Sprintf("notefiber:session:%s:%s", s.namespace, name)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) GetCredential(ctx context.Context) (*oauth2.Token, error) {
	var token oauth2.Token
	if err := s.getJSON(ctx, credentialKey, &token); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoCredential
		}
		return nil, err
	}
	return &token, nil
}

func (s *RedisStore) SetCredential(ctx context.Context, token *oauth2.Token) error {
	if token == nil {
		return s.rdb.Del(ctx, s.key(credentialKey)).Err()
	}
	return s.setJSON(ctx, credentialKey, token)
}

func (s *RedisStore) GetUser(ctx context.Context) (*dto.UserDTO, error) {
	var user dto.UserDTO
	if err := s.getJSON(ctx, userKey, &user); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoUser
		}
		return nil, err
	}
	return &user, nil
}

func (s *RedisStore) SetUser(ctx context.Context, user *dto.UserDTO) error {
	if user == nil {
		return s.rdb.Del(ctx, s.key(userKey)).Err()
	}
	return s.setJSON(ctx, userKey, user)
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key(credentialKey), s.key(userKey)).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) getJSON(ctx context.Context, name string, out any) error {
	raw, err := s.rdb.Get(ctx, s.key(name)).Bytes()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (s *RedisStore) setJSON(ctx context.Context, name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return s.rdb.Set(ctx, s.key(name), raw, 0).Err()
}
