package state

import (
	"fmt"
	"math/big"

	"escrowledger/native/escrow"
)

type storedEscrow struct {
	ID         uint64
	Donor      [20]byte
	Recipient  [20]byte
	Amount     *big.Int
	Conditions []string
	Metadata   string
	CreatedAt  uint64
	ExpiresAt  uint64
	Released   bool
	Refunded   bool
}

func newStoredEscrow(e *escrow.Escrow) *storedEscrow {
	amount := big.NewInt(0)
	if e.Amount != nil {
		amount = new(big.Int).Set(e.Amount)
	}
	return &storedEscrow{
		ID:         e.ID,
		Donor:      e.Donor,
		Recipient:  e.Recipient,
		Amount:     amount,
		Conditions: append([]string{}, e.Conditions...),
		Metadata:   e.Metadata,
		CreatedAt:  e.CreatedAt,
		ExpiresAt:  e.ExpiresAt,
		Released:   e.Released,
		Refunded:   e.Refunded,
	}
}

func (s *storedEscrow) toEscrow() *escrow.Escrow {
	out := &escrow.Escrow{
		ID:         s.ID,
		Donor:      s.Donor,
		Recipient:  s.Recipient,
		Amount:     big.NewInt(0),
		Conditions: append([]string(nil), s.Conditions...),
		Metadata:   s.Metadata,
		CreatedAt:  s.CreatedAt,
		ExpiresAt:  s.ExpiresAt,
		Released:   s.Released,
		Refunded:   s.Refunded,
	}
	if s.Amount != nil {
		out.Amount.Set(s.Amount)
	}
	return out
}

type storedTotals struct {
	Escrows  uint64
	Released *big.Int
	Refunded *big.Int
}

// EscrowAdmin returns the administrator identity if one was ever set.
func (m *Manager) EscrowAdmin() ([20]byte, bool, error) {
	var admin [20]byte
	ok, err := m.KVGet(escrowAdminKey, &admin)
	return admin, ok, err
}

func (m *Manager) SetEscrowAdmin(admin [20]byte) error {
	return m.KVPut(escrowAdminKey, admin)
}

func (m *Manager) EscrowPaused() (bool, error) {
	var paused bool
	if _, err := m.KVGet(escrowPausedKey, &paused); err != nil {
		return false, err
	}
	return paused, nil
}

func (m *Manager) SetEscrowPaused(paused bool) error {
	return m.KVPut(escrowPausedKey, paused)
}

// EscrowTotals returns the running counters, zero-valued before the first
// escrow.
func (m *Manager) EscrowTotals() (*escrow.Totals, error) {
	var stored storedTotals
	ok, err := m.KVGet(escrowTotalsKey, &stored)
	if err != nil {
		return nil, err
	}
	out := &escrow.Totals{Released: big.NewInt(0), Refunded: big.NewInt(0)}
	if !ok {
		return out, nil
	}
	out.Escrows = stored.Escrows
	if stored.Released != nil {
		out.Released.Set(stored.Released)
	}
	if stored.Refunded != nil {
		out.Refunded.Set(stored.Refunded)
	}
	return out, nil
}

func (m *Manager) SetEscrowTotals(totals *escrow.Totals) error {
	if totals == nil {
		return fmt.Errorf("escrow: nil totals")
	}
	clone := totals.Clone()
	return m.KVPut(escrowTotalsKey, &storedTotals{
		Escrows:  clone.Escrows,
		Released: clone.Released,
		Refunded: clone.Refunded,
	})
}

func (m *Manager) EscrowGet(id uint64) (*escrow.Escrow, bool, error) {
	var stored storedEscrow
	ok, err := m.KVGet(idKey(escrowRecordPrefix, id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toEscrow(), true, nil
}

func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	if e == nil {
		return fmt.Errorf("escrow: nil escrow")
	}
	if e.ID == 0 {
		return fmt.Errorf("escrow: id must be positive")
	}
	return m.KVPut(idKey(escrowRecordPrefix, e.ID), newStoredEscrow(e))
}

func (m *Manager) EscrowBalance(id uint64) (*big.Int, bool, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(idKey(escrowBalancePrefix, id), amount)
	if err != nil || !ok {
		return nil, false, err
	}
	return amount, true, nil
}

func (m *Manager) SetEscrowBalance(id uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("escrow: balance must be non-negative")
	}
	return m.KVPut(idKey(escrowBalancePrefix, id), amount)
}

func (m *Manager) DeleteEscrowBalance(id uint64) error {
	return m.KVDelete(idKey(escrowBalancePrefix, id))
}

func (m *Manager) EscrowVerifier(condition string) ([20]byte, bool, error) {
	var verifier [20]byte
	ok, err := m.KVGet(stringKey(escrowVerifierPrefix, condition), &verifier)
	return verifier, ok, err
}

func (m *Manager) SetEscrowVerifier(condition string, verifier [20]byte) error {
	return m.KVPut(stringKey(escrowVerifierPrefix, condition), verifier)
}

func (m *Manager) EscrowConditionFulfilled(id uint64, condition string) (bool, error) {
	var fulfilled bool
	if _, err := m.KVGet(fulfillmentKey(id, condition), &fulfilled); err != nil {
		return false, err
	}
	return fulfilled, nil
}

func (m *Manager) SetEscrowConditionFulfilled(id uint64, condition string) error {
	return m.KVPut(fulfillmentKey(id, condition), true)
}

func (m *Manager) EscrowAuditors(id uint64) ([][20]byte, bool, error) {
	var auditors [][20]byte
	ok, err := m.KVGetList(idKey(escrowAuditorsPrefix, id), &auditors)
	return auditors, ok, err
}

func (m *Manager) SetEscrowAuditors(id uint64, auditors [][20]byte) error {
	if auditors == nil {
		auditors = [][20]byte{}
	}
	return m.KVPut(idKey(escrowAuditorsPrefix, id), auditors)
}
