package modules

import (
	"encoding/json"

	"escrowledger/core"
	"escrowledger/crypto"
)

// AccountModule exposes ledger balances, request nonces and the logical clock.
type AccountModule struct {
	node *core.Node
}

func NewAccountModule(node *core.Node) *AccountModule {
	return &AccountModule{node: node}
}

type AddressParams struct {
	Address string `json:"address"`
}

type AccountBalanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type AccountNonceResult struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

type HeightResult struct {
	Height uint64 `json:"height"`
}

func (m *AccountModule) address(raw json.RawMessage) (crypto.Address, *ModuleError) {
	if m == nil || m.node == nil {
		return crypto.Address{}, errModuleOffline
	}
	var params AddressParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return crypto.Address{}, modErr
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		return crypto.Address{}, invalidParams(err.Error(), nil)
	}
	return crypto.Address(addr), nil
}

func (m *AccountModule) Balance(raw json.RawMessage) (*AccountBalanceResult, *ModuleError) {
	addr, modErr := m.address(raw)
	if modErr != nil {
		return nil, modErr
	}
	balance, err := m.node.AccountBalance(addr)
	if err != nil {
		return nil, ledgerError(err)
	}
	return &AccountBalanceResult{Address: addr.String(), Balance: balance.String()}, nil
}

// Nonce returns the last accepted request nonce; the next request must carry
// a larger one.
func (m *AccountModule) Nonce(raw json.RawMessage) (*AccountNonceResult, *ModuleError) {
	addr, modErr := m.address(raw)
	if modErr != nil {
		return nil, modErr
	}
	nonce, err := m.node.AccountNonce(addr)
	if err != nil {
		return nil, ledgerError(err)
	}
	return &AccountNonceResult{Address: addr.String(), Nonce: nonce}, nil
}

func (m *AccountModule) Height() (*HeightResult, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, errModuleOffline
	}
	height, err := m.node.Height()
	if err != nil {
		return nil, ledgerError(err)
	}
	return &HeightResult{Height: height}, nil
}
