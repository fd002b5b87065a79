package service

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/sma-timetable/internal/engine"
)

// timetableProposal is a generated timetable set awaiting a save.
type timetableProposal struct {
	ID        string                   `json:"id"`
	SchoolID  string                   `json:"schoolId"`
	Records   []engine.TimetableRecord `json:"records"`
	Quality   engine.Quality           `json:"quality"`
	Stats     engine.Stats             `json:"stats"`
	CreatedAt time.Time                `json:"createdAt"`
	ExpiresAt time.Time                `json:"expiresAt"`
}

type proposalStore interface {
	Save(ctx context.Context, proposal timetableProposal) error
	Get(ctx context.Context, id string) (timetableProposal, bool, error)
	Delete(ctx context.Context, id string) error
}

// memoryProposalStore keeps proposals in process; expired entries are dropped on read.
type memoryProposalStore struct {
	now   func() time.Time
	mu    sync.RWMutex
	items map[string]timetableProposal
}

func newMemoryProposalStore(now func() time.Time) *memoryProposalStore {
	if now == nil {
		now = time.Now
	}
	return &memoryProposalStore{
		now:   now,
		items: make(map[string]timetableProposal),
	}
}

func (s *memoryProposalStore) Save(_ context.Context, proposal timetableProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[proposal.ID] = proposal
	return nil
}

func (s *memoryProposalStore) Get(ctx context.Context, id string) (timetableProposal, bool, error) {
	s.mu.RLock()
	proposal, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return timetableProposal{}, false, nil
	}
	if s.now().After(proposal.ExpiresAt) {
		_ = s.Delete(ctx, id)
		return timetableProposal{}, false, nil
	}
	return proposal, true, nil
}

func (s *memoryProposalStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}

// cacheProposalStore keeps proposals in Redis so any API replica can save them.
type cacheProposalStore struct {
	cache *CacheService
	now   func() time.Time
}

func (s *cacheProposalStore) Save(ctx context.Context, proposal timetableProposal) error {
	ttl := proposal.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.cache.Set(ctx, proposalKey(proposal.ID), proposal, ttl)
}

func (s *cacheProposalStore) Get(ctx context.Context, id string) (timetableProposal, bool, error) {
	var proposal timetableProposal
	hit, err := s.cache.Get(ctx, proposalKey(id), &proposal)
	if err != nil || !hit {
		return timetableProposal{}, false, err
	}
	return proposal, true, nil
}

func (s *cacheProposalStore) Delete(ctx context.Context, id string) error {
	return s.cache.Delete(ctx, proposalKey(id))
}
