// Package claims implements the delayed-withdrawal settlement queue: a
// durable record per unstake awaiting its protocol unlock, and a worker
// that settles due records on-chain in small batches.
package claims

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status is the settlement lifecycle of one claim record.
type Status string

const (
	StatusInit       Status = "init"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Record is one pending or settled claim.
type Record struct {
	ID        string
	UserID    int64
	Amount    float64
	Symbol    string
	Network   string
	Provider  string
	TxHash    string // unstake tx at creation, replaced by the claim tx on completion
	Status    Status
	Error     string
	ClaimTime time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS claims (
	id          TEXT PRIMARY KEY,
	user_id     INTEGER NOT NULL,
	amount      REAL NOT NULL,
	symbol      TEXT NOT NULL,
	network     TEXT NOT NULL,
	provider    TEXT NOT NULL,
	tx_hash     TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	claim_time  INTEGER NOT NULL,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_claims_status_time ON claims (status, claim_time);
`

// Store persists claim records in sqlite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the claims database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open claims db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	return NewStore(db)
}

// NewStore wraps an existing handle, applying the schema.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply claims schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Create inserts a record, assigning an id and init status when unset.
func (s *Store) Create(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusInit
	}
	now := s.now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO claims (id, user_id, amount, symbol, network, provider, tx_hash, status, error, claim_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Amount, rec.Symbol, rec.Network, rec.Provider,
		rec.TxHash, string(rec.Status), rec.Error,
		rec.ClaimTime.Unix(), rec.CreatedAt.Unix(), rec.UpdatedAt.Unix())
	if err != nil {
		return Record{}, fmt.Errorf("insert claim: %w", err)
	}
	return rec, nil
}

// CreateClaim is the intake the agent gateway calls when an unstake
// settles on-chain.
func (s *Store) CreateClaim(ctx context.Context, userID int64, amount float64, symbol, network, provider, txHash string, claimTime time.Time) error {
	_, err := s.Create(ctx, Record{
		UserID:    userID,
		Amount:    amount,
		Symbol:    symbol,
		Network:   network,
		Provider:  provider,
		TxHash:    txHash,
		ClaimTime: claimTime,
	})
	return err
}

// DuePending returns up to limit init records whose unlock time has
// passed, oldest first.
func (s *Store) DuePending(ctx context.Context, now time.Time, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, symbol, network, provider, tx_hash, status, error, claim_time, created_at, updated_at
		FROM claims
		WHERE status = ? AND claim_time <= ?
		ORDER BY claim_time ASC
		LIMIT ?`,
		string(StatusInit), now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due claims: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkProcessing atomically claims an init record for this run. It
// reports false when another run got there first.
func (s *Store) MarkProcessing(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE claims SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusProcessing), s.now().Unix(), id, string(StatusInit))
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	return n == 1, nil
}

// MarkCompleted finalizes a record with the confirmed claim tx hash.
func (s *Store) MarkCompleted(ctx context.Context, id, txHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE claims SET status = ?, tx_hash = ?, error = '', updated_at = ?
		WHERE id = ?`,
		string(StatusCompleted), txHash, s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkFailed records a per-record failure reason.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE claims SET status = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		string(StatusFailed), reason, s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// FailStaleProcessing fails records stuck in processing since before
// cutoff. A crash between pickup and settlement would otherwise strand
// them forever; the worker sweeps with a generous threshold so a record
// can be retried by the operator or inspected.
func (s *Store) FailStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE claims SET status = ?, error = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?`,
		string(StatusFailed), "stale processing record", s.now().Unix(),
		string(StatusProcessing), cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("fail stale processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail stale processing: %w", err)
	}
	return n, nil
}

// Get returns one record by id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, amount, symbol, network, provider, tx_hash, status, error, claim_time, created_at, updated_at
		FROM claims WHERE id = ?`, id)
	return scanRecord(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec                             Record
		status                          string
		claimTime, createdAt, updatedAt int64
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Amount, &rec.Symbol, &rec.Network,
		&rec.Provider, &rec.TxHash, &status, &rec.Error, &claimTime, &createdAt, &updatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("scan claim: %w", err)
	}
	rec.Status = Status(status)
	rec.ClaimTime = time.Unix(claimTime, 0)
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return rec, nil
}
