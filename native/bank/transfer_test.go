package bank

import (
	"errors"
	"math/big"
	"testing"

	"escrowledger/core/state"
	"escrowledger/storage"
)

func newTestLedger(t *testing.T) (*Ledger, *state.Manager) {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	return NewLedger(mgr), mgr
}

func TestTransferMovesValue(t *testing.T) {
	ledger, _ := newTestLedger(t)
	alice, bob := [20]byte{1}, [20]byte{2}
	if err := ledger.Mint(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if bal, _ := ledger.Balance(alice); bal.Int64() != 60 {
		t.Fatalf("alice balance %s", bal)
	}
	if bal, _ := ledger.Balance(bob); bal.Int64() != 40 {
		t.Fatalf("bob balance %s", bal)
	}
	if err := ledger.Transfer(alice, alice, big.NewInt(60)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	if bal, _ := ledger.Balance(alice); bal.Int64() != 60 {
		t.Fatalf("self transfer changed balance: %s", bal)
	}
}

func TestTransferRejections(t *testing.T) {
	ledger, _ := newTestLedger(t)
	alice, bob := [20]byte{1}, [20]byte{2}
	ledger.Mint(alice, big.NewInt(10))
	if err := ledger.Transfer(alice, bob, big.NewInt(11)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	for _, amt := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
		if err := ledger.Transfer(alice, bob, amt); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected invalid amount for %v, got %v", amt, err)
		}
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	if err := ledger.Mint(bob, huge); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	ceiling := new(big.Int).Sub(huge, big.NewInt(1))
	if err := ledger.Mint(bob, ceiling); err != nil {
		t.Fatalf("mint max: %v", err)
	}
	if err := ledger.Transfer(alice, bob, big.NewInt(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected credit overflow, got %v", err)
	}
	if bal, _ := ledger.Balance(alice); bal.Int64() != 10 {
		t.Fatalf("rejected transfer debited sender: %s", bal)
	}
}
