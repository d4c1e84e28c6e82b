package tokenstore

import (
	"context"

	"ai-notetaking-client/internal/dto"

	"github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
)

const (
	credentialKey = "credential"
	userKey       = "user"
)

// MemoryStore keeps the session in process memory. Entries never expire on
// their own; a stale access token is the refresh gate's problem.
type MemoryStore struct {
	cache *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: cache.New(cache.NoExpiration, 0),
	}
}

func (s *MemoryStore) GetCredential(ctx context.Context) (*oauth2.Token, error) {
	if x, found := s.cache.Get(credentialKey); found {
		token := *x.(*oauth2.Token)
		return &token, nil
	}
	return nil, ErrNoCredential
}

func (s *MemoryStore) SetCredential(ctx context.Context, token *oauth2.Token) error {
	if token == nil {
		s.cache.Delete(credentialKey)
		return nil
	}
	stored := *token
	s.cache.Set(credentialKey, &stored, cache.NoExpiration)
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context) (*dto.UserDTO, error) {
	if x, found := s.cache.Get(userKey); found {
		user := *x.(*dto.UserDTO)
		return &user, nil
	}
	return nil, ErrNoUser
}

func (s *MemoryStore) SetUser(ctx context.Context, user *dto.UserDTO) error {
	if user == nil {
		s.cache.Delete(userKey)
		return nil
	}
	stored := *user
	s.cache.Set(userKey, &stored, cache.NoExpiration)
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.cache.Flush()
	return nil
}
