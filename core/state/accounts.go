package state

import (
	"fmt"
	"math/big"
)

// AccountBalance returns the spendable balance of addr, zero for unknown
// accounts.
func (m *Manager) AccountBalance(addr [20]byte) (*big.Int, error) {
	balance := new(big.Int)
	if _, err := m.KVGet(addressKey(accountBalancePrefix, addr), balance); err != nil {
		return nil, err
	}
	return balance, nil
}

func (m *Manager) SetAccountBalance(addr [20]byte, balance *big.Int) error {
	if balance == nil || balance.Sign() < 0 {
		return fmt.Errorf("state: account balance must be non-negative")
	}
	return m.KVPut(addressKey(accountBalancePrefix, addr), balance)
}

// AccountNonce returns the last request nonce accepted from addr.
func (m *Manager) AccountNonce(addr [20]byte) (uint64, error) {
	var nonce uint64
	if _, err := m.KVGet(addressKey(accountNoncePrefix, addr), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

func (m *Manager) SetAccountNonce(addr [20]byte, nonce uint64) error {
	return m.KVPut(addressKey(accountNoncePrefix, addr), nonce)
}
