package modules

import (
	"context"
	"encoding/json"

	"escrowledger/core"
	"escrowledger/crypto"
)

// AdminModule exposes the administrative controls of the ledger.
type AdminModule struct {
	node *core.Node
}

func NewAdminModule(node *core.Node) *AdminModule {
	return &AdminModule{node: node}
}

type SetAdminParams struct {
	Admin string `json:"admin"`
}

type RegisterVerifierParams struct {
	Condition string `json:"condition"`
	Verifier  string `json:"verifier"`
}

type AdminResult struct {
	Admin       string `json:"admin,omitempty"`
	Initialised bool   `json:"initialised"`
}

type PausedResult struct {
	Paused bool `json:"paused"`
}

func (m *AdminModule) ready() *ModuleError {
	if m == nil || m.node == nil {
		return errModuleOffline
	}
	return nil
}

func (m *AdminModule) SetAdmin(ctx context.Context, caller [20]byte, raw json.RawMessage) *ModuleError {
	if modErr := m.ready(); modErr != nil {
		return modErr
	}
	var params SetAdminParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return modErr
	}
	next, err := parseAddress("admin", params.Admin)
	if err != nil {
		return invalidParams(err.Error(), nil)
	}
	return ledgerError(m.node.EscrowSetAdmin(ctx, caller, next))
}

func (m *AdminModule) Pause(ctx context.Context, caller [20]byte) *ModuleError {
	if modErr := m.ready(); modErr != nil {
		return modErr
	}
	return ledgerError(m.node.EscrowPause(ctx, caller))
}

func (m *AdminModule) Unpause(ctx context.Context, caller [20]byte) *ModuleError {
	if modErr := m.ready(); modErr != nil {
		return modErr
	}
	return ledgerError(m.node.EscrowUnpause(ctx, caller))
}

func (m *AdminModule) RegisterVerifier(ctx context.Context, caller [20]byte, raw json.RawMessage) *ModuleError {
	if modErr := m.ready(); modErr != nil {
		return modErr
	}
	var params RegisterVerifierParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return modErr
	}
	verifier, err := parseAddress("verifier", params.Verifier)
	if err != nil {
		return invalidParams(err.Error(), nil)
	}
	return ledgerError(m.node.EscrowRegisterVerifier(ctx, caller, params.Condition, verifier))
}

func (m *AdminModule) Admin() (*AdminResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	admin, ok, err := m.node.EscrowAdmin()
	if err != nil {
		return nil, ledgerError(err)
	}
	result := &AdminResult{Initialised: ok}
	if ok {
		result.Admin = crypto.Address(admin).String()
	}
	return result, nil
}

func (m *AdminModule) Paused() (*PausedResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	paused, err := m.node.EscrowPaused()
	if err != nil {
		return nil, ledgerError(err)
	}
	return &PausedResult{Paused: paused}, nil
}
