package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

const maxUpdateAttempts = 16

// Store keeps review progress in Redis so API and worker processes share it.
// Updates use WATCH/MULTI and retry when another writer wins the race.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func New(client *redis.Client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "cdi:progress:"
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) Name() string { return "progress_store" }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return domain.WrapError(domain.ErrTemporary, "redis ping", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, progress domain.ReviewProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	created, err := s.client.SetNX(ctx, s.key(progress.ReviewKey), data, s.ttl).Result()
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "create progress", err)
	}
	if !created {
		return domain.WrapError(domain.ErrConflict, "create progress", fmt.Errorf("review %s already exists", progress.ReviewKey))
	}
	return nil
}

func (s *Store) Get(ctx context.Context, reviewKey string) (domain.ReviewProgress, error) {
	raw, err := s.client.Get(ctx, s.key(reviewKey)).Bytes()
	if err != nil {
		return domain.ReviewProgress{}, s.readError(reviewKey, err)
	}
	return decode(raw)
}

func (s *Store) Update(ctx context.Context, reviewKey string, fn func(*domain.ReviewProgress) error) (domain.ReviewProgress, error) {
	key := s.key(reviewKey)
	var updated domain.ReviewProgress

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return s.readError(reviewKey, err)
		}
		current, err := decode(raw)
		if err != nil {
			return err
		}
		next := current.Clone()
		if err := fn(&next); err != nil {
			updated = current
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode progress: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err == nil {
			updated = next
		}
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return updated, err
	}
	return domain.ReviewProgress{}, domain.WrapError(domain.ErrTemporary, "update progress", fmt.Errorf("review %s: too much contention", reviewKey))
}

func (s *Store) key(reviewKey string) string { return s.prefix + reviewKey }

func (s *Store) readError(reviewKey string, err error) error {
	if errors.Is(err, redis.Nil) {
		return domain.WrapError(domain.ErrNotFound, "get progress", fmt.Errorf("review %s", reviewKey))
	}
	return domain.WrapError(domain.ErrTemporary, "get progress", err)
}

func decode(raw []byte) (domain.ReviewProgress, error) {
	var progress domain.ReviewProgress
	if err := json.Unmarshal(raw, &progress); err != nil {
		return domain.ReviewProgress{}, domain.WrapError(domain.ErrUnexpectedResponse, "decode progress", err)
	}
	if progress.StepsCompleted == nil {
		progress.StepsCompleted = []string{}
	}
	return progress, nil
}
