package claims

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// SignerSource resolves a user's signing key. ErrNoSigner (or a wrapped
// form of it) means the user has no key material on file.
type SignerSource interface {
	Signer(ctx context.Context, userID int64) (*ecdsa.PrivateKey, error)
}

var ErrNoSigner = errors.New("no signing material")

const errNoClaimable = "No claimable tokens found"

// Worker settles due claim records on a fixed interval. One record's
// failure never aborts the batch; every outcome lands in the record's
// status and error columns.
type Worker struct {
	store      *Store
	contract   ContractGateway
	signers    SignerSource
	logger     *slog.Logger
	interval   time.Duration
	batchSize  int
	staleAfter time.Duration
	now        func() time.Time
}

type WorkerConfig struct {
	Interval   time.Duration // default 5m
	BatchSize  int           // default 10
	StaleAfter time.Duration // default 30m, reconciliation threshold
}

func NewWorker(store *Store, contract ContractGateway, signers SignerSource, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:      store,
		contract:   contract,
		signers:    signers,
		logger:     logger,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		staleAfter: cfg.StaleAfter,
		now:        time.Now,
	}
}

// Run ticks until the context is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.logger.Info("claim_worker_start", "interval", w.interval.String(), "batch_size", w.batchSize)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("claim_worker_stop")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs one batch: sweep stale processing rows, then settle
// due records oldest-first.
func (w *Worker) RunOnce(ctx context.Context) {
	now := w.now()

	swept, err := w.store.FailStaleProcessing(ctx, now.Add(-w.staleAfter))
	if err != nil {
		w.logger.Error("claim_sweep_error", "error", err.Error())
	} else if swept > 0 {
		w.logger.Warn("claim_sweep_failed_stale", "count", swept)
	}

	due, err := w.store.DuePending(ctx, now, w.batchSize)
	if err != nil {
		w.logger.Error("claim_query_error", "error", err.Error())
		return
	}
	if len(due) == 0 {
		return
	}
	w.logger.Info("claim_run_start", "due", len(due))

	var completed, failed int
	for _, rec := range due {
		claimed, err := w.store.MarkProcessing(ctx, rec.ID)
		if err != nil {
			w.logger.Error("claim_mark_error", "claim_id", rec.ID, "error", err.Error())
			continue
		}
		if !claimed {
			// Another run picked it up between query and mark.
			continue
		}

		txHash, err := w.settle(ctx, rec)
		if err != nil {
			failed++
			w.logger.Warn("claim_failed", "claim_id", rec.ID, "user_id", rec.UserID, "reason", err.Error())
			if markErr := w.store.MarkFailed(ctx, rec.ID, err.Error()); markErr != nil {
				w.logger.Error("claim_mark_error", "claim_id", rec.ID, "error", markErr.Error())
			}
			continue
		}
		completed++
		if markErr := w.store.MarkCompleted(ctx, rec.ID, txHash); markErr != nil {
			w.logger.Error("claim_mark_error", "claim_id", rec.ID, "error", markErr.Error())
		}
	}
	w.logger.Info("claim_run_done", "completed", completed, "failed", failed)
}

// settle claims every withdrawable position for the record's owner and
// returns the last confirmed transaction hash. At least one position
// must settle for the record to complete.
func (w *Worker) settle(ctx context.Context, rec Record) (string, error) {
	key, err := w.signers.Signer(ctx, rec.UserID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoSigner, err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)

	requests, err := w.contract.WithdrawalRequests(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("query withdrawal requests: %w", err)
	}
	if len(requests) == 0 {
		return "", errors.New(errNoClaimable)
	}

	var lastTx string
	var settled int
	for _, req := range requests {
		txHash, err := w.contract.SubmitClaim(ctx, key, req.ID)
		if err != nil {
			w.logger.Warn("claim_submit_error", "claim_id", rec.ID, "request_id", req.ID.String(), "error", err.Error())
			continue
		}
		settled++
		lastTx = txHash
	}
	if settled == 0 {
		return "", errors.New("all claim transactions failed")
	}
	return lastTx, nil
}
