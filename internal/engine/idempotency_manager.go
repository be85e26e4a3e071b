package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pool-api/internal/repository"
)

// IdempotencyManager replays stored responses for repeated fund-moving
// requests. The caller supplies the key; a replayed request never reaches
// the engines a second time.
type IdempotencyManager struct {
	repo repository.IdempotencyRepository
	ttl  time.Duration
}

func NewIdempotencyManager(repo repository.IdempotencyRepository, ttl time.Duration) *IdempotencyManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyManager{
		repo: repo,
		ttl:  ttl,
	}
}

// Lookup decodes a previously stored response into target. The bool reports
// whether a response existed. Lookup errors are returned so the caller can
// decide whether to fail closed.
func (m *IdempotencyManager) Lookup(ctx context.Context, key string, target interface{}) (bool, error) {
	if key == "" {
		return false, nil
	}
	data, found, err := m.repo.GetResponse(ctx, key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("failed to decode idempotent response: %w", err)
	}
	return true, nil
}

// Store records the response of a completed operation. Failures are
// swallowed: a missed store only costs a retried request a second execution
// attempt, which the distributed locks still serialize.
func (m *IdempotencyManager) Store(ctx context.Context, key string, response interface{}) {
	if key == "" {
		return
	}
	data, err := json.Marshal(response)
	if err != nil {
		return
	}
	_ = m.repo.SetResponse(ctx, key, data, m.ttl)
}
