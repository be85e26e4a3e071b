package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"pool-api/internal/models"
)

// TxRunner executes a unit of work atomically: every write inside fn commits
// together or none of them do. Implementations retry transient storage
// conflicts with bounded exponential backoff before surfacing StorageError.
type TxRunner interface {
	WithTransaction(ctx context.Context, op string, fn func(ctx context.Context) error) error
}

type mongoTxRunner struct {
	client     *mongo.Client
	maxRetries int
	backoff    time.Duration
	timeout    time.Duration
}

// NewTxRunner builds a TxRunner over a Mongo client. maxRetries counts
// attempts (reference setup: 3), backoff is the initial delay doubled per
// retry, timeout bounds each attempt.
func NewTxRunner(client *mongo.Client, maxRetries int, backoff, timeout time.Duration) TxRunner {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &mongoTxRunner{
		client:     client,
		maxRetries: maxRetries,
		backoff:    backoff,
		timeout:    timeout,
	}
}

func (r *mongoTxRunner) WithTransaction(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	return runWithRetry(ctx, op, r.maxRetries, r.backoff, func(ctx context.Context) error {
		return r.runOnce(ctx, fn, txOpts)
	})
}

// runWithRetry drives the attempt loop: transient conflicts retry with
// doubled backoff until the attempt budget is spent, then surface as
// StorageError.
func runWithRetry(ctx context.Context, op string, maxRetries int, backoff time.Duration, attempt func(ctx context.Context) error) error {
	var lastErr error
	delay := backoff
	for try := 1; try <= maxRetries; try++ {
		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			// Domain errors propagate verbatim; only storage conflicts retry.
			return lastErr
		}
		if try < maxRetries {
			logrus.WithFields(logrus.Fields{
				"operation": op,
				"attempt":   try,
				"error":     lastErr.Error(),
			}).Warn("Transient storage conflict, retrying transaction")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &models.StorageError{Op: op, Err: ctx.Err()}
			}
			delay *= 2
		}
	}
	return &models.StorageError{Op: op, Err: lastErr}
}

func (r *mongoTxRunner) runOnce(ctx context.Context, fn func(ctx context.Context) error, txOpts *options.TransactionOptions) error {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	session, err := r.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(attemptCtx)

	_, err = session.WithTransaction(attemptCtx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	}, txOpts)
	return err
}

// isTransient reports whether the error is a retryable storage conflict:
// an optimistic version conflict, or a mongo error labeled as a write
// conflict or unknown commit result.
func isTransient(err error) bool {
	if errors.Is(err, models.ErrVersionConflict) {
		return true
	}
	if cmdErr, ok := err.(mongo.CommandError); ok {
		return cmdErr.HasErrorLabel("TransientTransactionError") ||
			cmdErr.HasErrorLabel("UnknownTransactionCommitResult")
	}
	if le, ok := err.(mongo.LabeledError); ok {
		return le.HasErrorLabel("TransientTransactionError") ||
			le.HasErrorLabel("UnknownTransactionCommitResult")
	}
	return false
}
