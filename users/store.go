// Package users provisions chat accounts: one wallet per Telegram user,
// generated on first contact and kept in sqlite.
package users

import (
	"context"
	"crypto/ecdsa"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("user not found")

// Account is the provisioned identity behind a chat user.
type Account struct {
	ID           int64
	TelegramID   int64
	Username     string
	Address      string
	ReferralCode string
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	telegram_id   INTEGER NOT NULL UNIQUE,
	username      TEXT NOT NULL DEFAULT '',
	address       TEXT NOT NULL,
	private_key   TEXT NOT NULL,
	referral_code TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);
`

// Store persists accounts and their signing material.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the users database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open users db: %w", err)
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
		return nil, fmt.Errorf("apply users schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// GetOrCreate returns the account for a Telegram user, generating a
// fresh wallet on first contact. The referral code is only recorded at
// creation time.
func (s *Store) GetOrCreate(ctx context.Context, telegramID int64, username, referralCode string) (Account, bool, error) {
	acc, err := s.byTelegramID(ctx, telegramID)
	if err == nil {
		return acc, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Account{}, false, err
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return Account{}, false, fmt.Errorf("generate wallet key: %w", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	keyHex := hex.EncodeToString(crypto.FromECDSA(key))

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (telegram_id, username, address, private_key, referral_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		telegramID, username, address, keyHex, referralCode, s.now().Unix())
	if err != nil {
		// Concurrent first contact from the same user loses the unique
		// race; fall back to the row the winner inserted.
		if acc, lookupErr := s.byTelegramID(ctx, telegramID); lookupErr == nil {
			return acc, false, nil
		}
		return Account{}, false, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Account{}, false, fmt.Errorf("insert user: %w", err)
	}

	return Account{
		ID:           id,
		TelegramID:   telegramID,
		Username:     username,
		Address:      address,
		ReferralCode: referralCode,
	}, true, nil
}

// Signer returns the user's wallet key for transaction signing.
func (s *Store) Signer(ctx context.Context, telegramID int64) (*ecdsa.PrivateKey, error) {
	var keyHex string
	err := s.db.QueryRowContext(ctx,
		`SELECT private_key FROM users WHERE telegram_id = ?`, telegramID).Scan(&keyHex)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user key: %w", err)
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse user key: %w", err)
	}
	return key, nil
}

// ExportKey returns the hex-encoded private key for display on the
// export screen. Callers own the handling of the plaintext.
func (s *Store) ExportKey(ctx context.Context, telegramID int64) (string, error) {
	var keyHex string
	err := s.db.QueryRowContext(ctx,
		`SELECT private_key FROM users WHERE telegram_id = ?`, telegramID).Scan(&keyHex)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query user key: %w", err)
	}
	return keyHex, nil
}

// Address returns the user's wallet address.
func (s *Store) Address(ctx context.Context, telegramID int64) (string, error) {
	acc, err := s.byTelegramID(ctx, telegramID)
	if err != nil {
		return "", err
	}
	return acc.Address, nil
}

func (s *Store) byTelegramID(ctx context.Context, telegramID int64) (Account, error) {
	var acc Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, telegram_id, username, address, referral_code
		FROM users WHERE telegram_id = ?`, telegramID).
		Scan(&acc.ID, &acc.TelegramID, &acc.Username, &acc.Address, &acc.ReferralCode)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("query user: %w", err)
	}
	return acc, nil
}
