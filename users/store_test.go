package users

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetOrCreateProvisionsWallet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	acc, created, err := store.GetOrCreate(ctx, 9, "alice", "ref123")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created {
		t.Fatal("first contact did not create the account")
	}
	if !strings.HasPrefix(acc.Address, "0x") || len(acc.Address) != 42 {
		t.Fatalf("address = %q", acc.Address)
	}
	if acc.ReferralCode != "ref123" || acc.Username != "alice" {
		t.Fatalf("account = %+v", acc)
	}

	again, created, err := store.GetOrCreate(ctx, 9, "alice-renamed", "other")
	if err != nil {
		t.Fatalf("GetOrCreate (second): %v", err)
	}
	if created {
		t.Fatal("second contact created a new account")
	}
	if again.Address != acc.Address || again.ReferralCode != "ref123" {
		t.Fatalf("second lookup = %+v", again)
	}
}

func TestSignerMatchesAddress(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	acc, _, err := store.GetOrCreate(ctx, 9, "alice", "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	key, err := store.Signer(ctx, 9)
	if err != nil {
		t.Fatalf("Signer: %v", err)
	}
	if derived := crypto.PubkeyToAddress(key.PublicKey).Hex(); derived != acc.Address {
		t.Fatalf("signer address %s, account address %s", derived, acc.Address)
	}

	addr, err := store.Address(ctx, 9)
	if err != nil {
		t.Fatalf("Address: %v", err)
	}
	if addr != acc.Address {
		t.Fatalf("Address = %s, want %s", addr, acc.Address)
	}
}

func TestExportKeyMatchesSigner(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, _, err := store.GetOrCreate(ctx, 9, "alice", ""); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	keyHex, err := store.ExportKey(ctx, 9)
	if err != nil {
		t.Fatalf("ExportKey: %v", err)
	}
	parsed, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		t.Fatalf("exported key does not parse: %v", err)
	}
	signer, err := store.Signer(ctx, 9)
	if err != nil {
		t.Fatalf("Signer: %v", err)
	}
	if crypto.PubkeyToAddress(parsed.PublicKey) != crypto.PubkeyToAddress(signer.PublicKey) {
		t.Fatal("exported key and signer disagree")
	}

	if _, err := store.ExportKey(ctx, 404); err == nil {
		t.Fatal("ExportKey returned material for an unknown user")
	}
}

func TestSignerUnknownUser(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Signer(context.Background(), 404); err == nil {
		t.Fatal("Signer returned a key for an unknown user")
	}
}
