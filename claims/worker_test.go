package claims

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type fakeSigners struct {
	keys map[int64]*ecdsa.PrivateKey
}

func (s *fakeSigners) Signer(ctx context.Context, userID int64) (*ecdsa.PrivateKey, error) {
	key, ok := s.keys[userID]
	if !ok {
		return nil, errors.New("user has no key")
	}
	return key, nil
}

type fakeContract struct {
	requests  map[common.Address][]WithdrawalRequest
	submitErr error
	submitted []*big.Int
}

func (c *fakeContract) WithdrawalRequests(ctx context.Context, owner common.Address) ([]WithdrawalRequest, error) {
	return c.requests[owner], nil
}

func (c *fakeContract) SubmitClaim(ctx context.Context, key *ecdsa.PrivateKey, requestID *big.Int) (string, error) {
	if c.submitErr != nil {
		return "", c.submitErr
	}
	c.submitted = append(c.submitted, requestID)
	return "0xclaim" + requestID.String(), nil
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func newTestWorker(t *testing.T, store *Store, contract ContractGateway, signers SignerSource) *Worker {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWorker(store, contract, signers, logger, WorkerConfig{})
}

func TestRunOnceSettlesDueRecord(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	key := mustKey(t)
	owner := crypto.PubkeyToAddress(key.PublicKey)
	contract := &fakeContract{requests: map[common.Address][]WithdrawalRequest{
		owner: {
			{ID: big.NewInt(1), Amount: big.NewInt(100)},
			{ID: big.NewInt(2), Amount: big.NewInt(200)},
		},
	}}
	signers := &fakeSigners{keys: map[int64]*ecdsa.PrivateKey{9: key}}

	rec, _ := store.Create(ctx, Record{UserID: 9, ClaimTime: time.Now().Add(-time.Second)})
	w := newTestWorker(t, store, contract, signers)
	w.RunOnce(ctx)

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("record = %+v", got)
	}
	if got.TxHash != "0xclaim2" {
		t.Fatalf("tx hash = %q, want last confirmed", got.TxHash)
	}
	if len(contract.submitted) != 2 {
		t.Fatalf("submitted = %v", contract.submitted)
	}
}

func TestRunOnceSkipsFutureRecords(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec, _ := store.Create(ctx, Record{UserID: 9, ClaimTime: time.Now().Add(time.Hour)})
	w := newTestWorker(t, store, &fakeContract{}, &fakeSigners{})
	w.RunOnce(ctx)

	got, _ := store.Get(ctx, rec.ID)
	if got.Status != StatusInit {
		t.Fatalf("future record touched: %+v", got)
	}
}

func TestRunOnceNoClaimableTokens(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	key := mustKey(t)
	signers := &fakeSigners{keys: map[int64]*ecdsa.PrivateKey{9: key}}
	rec, _ := store.Create(ctx, Record{UserID: 9, ClaimTime: time.Now().Add(-time.Second)})

	w := newTestWorker(t, store, &fakeContract{}, signers)
	w.RunOnce(ctx)

	got, _ := store.Get(ctx, rec.ID)
	if got.Status != StatusFailed || got.Error != "No claimable tokens found" {
		t.Fatalf("record = %+v", got)
	}
}

func TestRunOnceMissingSignerFailsRecordOnly(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	key := mustKey(t)
	owner := crypto.PubkeyToAddress(key.PublicKey)
	contract := &fakeContract{requests: map[common.Address][]WithdrawalRequest{
		owner: {{ID: big.NewInt(1), Amount: big.NewInt(100)}},
	}}
	signers := &fakeSigners{keys: map[int64]*ecdsa.PrivateKey{9: key}}

	// Older record for a user with no key, newer record that settles.
	orphan, _ := store.Create(ctx, Record{UserID: 7, ClaimTime: time.Now().Add(-time.Hour)})
	good, _ := store.Create(ctx, Record{UserID: 9, ClaimTime: time.Now().Add(-time.Minute)})

	w := newTestWorker(t, store, contract, signers)
	w.RunOnce(ctx)

	gotOrphan, _ := store.Get(ctx, orphan.ID)
	if gotOrphan.Status != StatusFailed {
		t.Fatalf("orphan = %+v", gotOrphan)
	}
	if gotOrphan.Error == "" {
		t.Fatal("orphan has no failure reason")
	}
	gotGood, _ := store.Get(ctx, good.ID)
	if gotGood.Status != StatusCompleted {
		t.Fatalf("good record = %+v, one failure must not abort the batch", gotGood)
	}
}

func TestRunOnceSubmissionErrorFailsRecord(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	key := mustKey(t)
	owner := crypto.PubkeyToAddress(key.PublicKey)
	contract := &fakeContract{
		requests:  map[common.Address][]WithdrawalRequest{owner: {{ID: big.NewInt(1), Amount: big.NewInt(1)}}},
		submitErr: errors.New("rpc unavailable"),
	}
	signers := &fakeSigners{keys: map[int64]*ecdsa.PrivateKey{9: key}}
	rec, _ := store.Create(ctx, Record{UserID: 9, ClaimTime: time.Now().Add(-time.Second)})

	w := newTestWorker(t, store, contract, signers)
	w.RunOnce(ctx)

	got, _ := store.Get(ctx, rec.ID)
	if got.Status != StatusFailed || got.Error != "all claim transactions failed" {
		t.Fatalf("record = %+v", got)
	}
}

func TestRunOnceSweepsStaleProcessing(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	stuck, _ := store.Create(ctx, Record{UserID: 9, ClaimTime: time.Now().Add(-time.Hour)})
	if _, err := store.MarkProcessing(ctx, stuck.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}

	w := newTestWorker(t, store, &fakeContract{}, &fakeSigners{})
	// Pretend the worker wakes up an hour from now; the record has then
	// been processing past the stale threshold.
	w.now = func() time.Time { return time.Now().Add(time.Hour) }
	w.RunOnce(ctx)

	got, _ := store.Get(ctx, stuck.ID)
	if got.Status != StatusFailed || got.Error != "stale processing record" {
		t.Fatalf("stuck record = %+v", got)
	}
}
