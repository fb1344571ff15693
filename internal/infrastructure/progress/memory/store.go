package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

// Store keeps review progress in process, bounded by entry count and TTL.
// Updates are serialized by a store-wide lock; reads return copies.
type Store struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, domain.ReviewProgress]
}

func New(maxEntries int, ttl time.Duration) *Store {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Store{cache: expirable.NewLRU[string, domain.ReviewProgress](maxEntries, nil, ttl)}
}

func (s *Store) Name() string { return "progress_store" }

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Create(_ context.Context, progress domain.ReviewProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache.Get(progress.ReviewKey); ok {
		return domain.WrapError(domain.ErrConflict, "create progress", fmt.Errorf("review %s already exists", progress.ReviewKey))
	}
	s.cache.Add(progress.ReviewKey, progress.Clone())
	return nil
}

func (s *Store) Get(_ context.Context, reviewKey string) (domain.ReviewProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	progress, ok := s.cache.Get(reviewKey)
	if !ok {
		return domain.ReviewProgress{}, notFound(reviewKey)
	}
	return progress.Clone(), nil
}

// Update applies fn to a copy and stores it only when fn succeeds.
func (s *Store) Update(_ context.Context, reviewKey string, fn func(*domain.ReviewProgress) error) (domain.ReviewProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.cache.Get(reviewKey)
	if !ok {
		return domain.ReviewProgress{}, notFound(reviewKey)
	}
	next := current.Clone()
	if err := fn(&next); err != nil {
		return current.Clone(), err
	}
	s.cache.Add(reviewKey, next)
	return next.Clone(), nil
}

func (s *Store) Len() int { return s.cache.Len() }

func notFound(reviewKey string) error {
	return domain.WrapError(domain.ErrNotFound, "get progress", fmt.Errorf("review %s", reviewKey))
}
