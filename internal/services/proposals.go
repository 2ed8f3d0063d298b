package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/transitpay/backoffice/internal/models"
)

const proposalKeyPrefix = "recon:proposal:"

// ResolutionProposal is the candidate an operator must confirm before a line
// is corrected.
type ResolutionProposal struct {
	Token      string           `json:"token"`
	LineID     string           `json:"lineId"`
	FileID     string           `json:"fileId"`
	Identity   string           `json:"identity"`
	Passenger  models.Passenger `json:"passenger"`
	ProposedBy string           `json:"proposedBy"`
	ExpiresAt  time.Time        `json:"expiresAt"`
}

// ProposalStore holds proposals until they are confirmed or expire.
// Take consumes the proposal; a second Take of the same token fails.
type ProposalStore interface {
	Save(ctx context.Context, p *ResolutionProposal) error
	Take(ctx context.Context, token string) (*ResolutionProposal, error)
}

// NewProposalStore uses redis when available and process memory otherwise.
func NewProposalStore(redisClient *redis.Client) ProposalStore {
	if redisClient != nil {
		return &RedisProposalStore{redis: redisClient, now: time.Now}
	}
	return NewMemoryProposalStore()
}

type RedisProposalStore struct {
	redis *redis.Client
	now   func() time.Time
}

func (s *RedisProposalStore) Save(ctx context.Context, p *ResolutionProposal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ttl := p.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("proposal %s already expired", p.Token)
	}
	if err := s.redis.Set(ctx, proposalKeyPrefix+p.Token, data, ttl).Err(); err != nil {
		return systemic("save proposal", err)
	}
	return nil
}

func (s *RedisProposalStore) Take(ctx context.Context, token string) (*ResolutionProposal, error) {
	key := proposalKeyPrefix + token
	data, err := s.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrProposalNotFound
	}
	if err != nil {
		return nil, systemic("load proposal", err)
	}

	// Only the caller that deletes the key owns the proposal.
	n, err := s.redis.Del(ctx, key).Result()
	if err != nil {
		return nil, systemic("consume proposal", err)
	}
	if n == 0 {
		return nil, ErrProposalNotFound
	}

	var p ResolutionProposal
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode proposal: %w", err)
	}
	return &p, nil
}

type MemoryProposalStore struct {
	mu    sync.Mutex
	items map[string]ResolutionProposal
	now   func() time.Time
}

func NewMemoryProposalStore() *MemoryProposalStore {
	return &MemoryProposalStore{items: make(map[string]ResolutionProposal), now: time.Now}
}

func (s *MemoryProposalStore) Save(ctx context.Context, p *ResolutionProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for token, item := range s.items {
		if !now.Before(item.ExpiresAt) {
			delete(s.items, token)
		}
	}
	s.items[p.Token] = *p
	return nil
}

func (s *MemoryProposalStore) Take(ctx context.Context, token string) (*ResolutionProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[token]
	if !ok {
		return nil, ErrProposalNotFound
	}
	delete(s.items, token)
	if !s.now().Before(p.ExpiresAt) {
		return nil, ErrProposalNotFound
	}
	return &p, nil
}
