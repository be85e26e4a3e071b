package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pool-api/internal/models"
)

func TestRetryCommitsAfterVersionConflict(t *testing.T) {
	attempts := 0
	err := runWithRetry(context.Background(), "pool.allocate", 3, time.Millisecond,
		func(ctx context.Context) error {
			attempts++
			if attempts == 1 {
				return fmt.Errorf("pool account at version 7: %w", models.ErrVersionConflict)
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryDoesNotTouchDomainErrors(t *testing.T) {
	attempts := 0
	domainErr := &models.ValidationError{Field: "amount", Reason: "must be positive"}
	err := runWithRetry(context.Background(), "pool.allocate", 3, time.Millisecond,
		func(ctx context.Context) error {
			attempts++
			return domainErr
		})

	// Surfaced verbatim on the first attempt, no StorageError wrapping.
	assert.Equal(t, domainErr, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	attempts := 0
	err := runWithRetry(context.Background(), "pool.allocate", 3, time.Millisecond,
		func(ctx context.Context) error {
			attempts++
			return fmt.Errorf("pool account at version %d: %w", attempts, models.ErrVersionConflict)
		})

	assert.Equal(t, 3, attempts)
	var storageErr *models.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.ErrorIs(t, err, models.ErrVersionConflict)
}
