package db

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	txMaxAttempts  = 3
	txBackoffBase  = 20 * time.Millisecond
	txBackoffLimit = 250 * time.Millisecond
)

// TxRunner wraps write transactions: begin, run, commit, and retry the whole
// function on serialization or deadlock failures. The callback must be safe
// to re-run from scratch.
type TxRunner struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewTxRunner creates a runner over the pool.
func NewTxRunner(pool *pgxpool.Pool, log zerolog.Logger) *TxRunner {
	return &TxRunner{pool: pool, log: log.With().Str("component", "db").Logger()}
}

// InTx runs fn inside a transaction. On a retryable failure it backs off with
// jitter and starts over, up to the attempt limit. Any other error rolls back
// and returns classified.
func (r *TxRunner) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= txMaxAttempts; attempt++ {
		err := r.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return Classify(err)
		}
		lastErr = err
		if attempt < txMaxAttempts {
			backoff := txBackoffBase << (attempt - 1)
			backoff += time.Duration(rand.Int63n(int64(backoff)))
			if backoff > txBackoffLimit {
				backoff = txBackoffLimit
			}
			r.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).
				Msg("transaction serialization failure, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Classify(ctx.Err())
			}
		}
	}
	return Classify(lastErr)
}

func (r *TxRunner) runOnce(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
