package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"escrowledger/core"
	"escrowledger/crypto"
	"escrowledger/native/escrow"
)

// EscrowModule exposes the escrow lifecycle over RPC. Mutating methods take
// the caller already authenticated by the transport.
type EscrowModule struct {
	node *core.Node
}

// NewEscrowModule constructs an escrow RPC module.
func NewEscrowModule(node *core.Node) *EscrowModule {
	return &EscrowModule{node: node}
}

type CreateParams struct {
	Recipient  string   `json:"recipient"`
	Amount     string   `json:"amount"`
	Conditions []string `json:"conditions,omitempty"`
	Metadata   string   `json:"metadata,omitempty"`
	Duration   uint64   `json:"duration"`
	Auditors   []string `json:"auditors,omitempty"`
}

type CreateResult struct {
	ID string `json:"id"`
}

type IDParams struct {
	ID string `json:"id"`
}

type ConditionParams struct {
	ID        string `json:"id"`
	Condition string `json:"condition"`
}

type AuditorParams struct {
	ID      string `json:"id"`
	Auditor string `json:"auditor"`
}

type VerifierQueryParams struct {
	Condition string `json:"condition"`
}

// EscrowResult is the wire form of an escrow record.
type EscrowResult struct {
	ID         string   `json:"id"`
	Donor      string   `json:"donor"`
	Recipient  string   `json:"recipient"`
	Amount     string   `json:"amount"`
	Conditions []string `json:"conditions"`
	Metadata   string   `json:"metadata"`
	CreatedAt  uint64   `json:"createdAt"`
	ExpiresAt  uint64   `json:"expiresAt"`
	Released   bool     `json:"released"`
	Refunded   bool     `json:"refunded"`
	Status     string   `json:"status"`
}

type BalanceResult struct {
	ID      string `json:"id"`
	Balance string `json:"balance"`
	Held    bool   `json:"held"`
}

type ConditionResult struct {
	Condition string `json:"condition"`
	Fulfilled bool   `json:"fulfilled"`
}

type ConditionStatusResult struct {
	ID         string            `json:"id"`
	Conditions []ConditionResult `json:"conditions"`
}

type VerifierResult struct {
	Condition  string `json:"condition"`
	Verifier   string `json:"verifier,omitempty"`
	Registered bool   `json:"registered"`
}

type TotalsResult struct {
	Escrows  uint64 `json:"escrows"`
	Released string `json:"released"`
	Refunded string `json:"refunded"`
}

type AuditorsResult struct {
	ID       string   `json:"id"`
	Auditors []string `json:"auditors"`
}

func (m *EscrowModule) ready() *ModuleError {
	if m == nil || m.node == nil {
		return errModuleOffline
	}
	return nil
}

// Create locks funds of caller for a recipient.
func (m *EscrowModule) Create(ctx context.Context, caller [20]byte, raw json.RawMessage) (*CreateResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	var params CreateParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, modErr
	}
	recipient, err := parseAddress("recipient", params.Recipient)
	if err != nil {
		return nil, invalidParams(err.Error(), nil)
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, invalidParams(err.Error(), nil)
	}
	auditors := make([][20]byte, 0, len(params.Auditors))
	for i, value := range params.Auditors {
		auditor, err := parseAddress(fmt.Sprintf("auditors[%d]", i), value)
		if err != nil {
			return nil, invalidParams(err.Error(), nil)
		}
		auditors = append(auditors, auditor)
	}
	id, err := m.node.EscrowCreate(ctx, caller, core.CreateEscrowParams{
		Recipient:  recipient,
		Amount:     amount,
		Conditions: params.Conditions,
		Metadata:   params.Metadata,
		Duration:   params.Duration,
		Auditors:   auditors,
	})
	if err != nil {
		return nil, ledgerError(err)
	}
	return &CreateResult{ID: formatID(id)}, nil
}

// FulfillCondition records a verifier attestation.
func (m *EscrowModule) FulfillCondition(ctx context.Context, caller [20]byte, raw json.RawMessage) *ModuleError {
	if modErr := m.ready(); modErr != nil {
		return modErr
	}
	var params ConditionParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return modErr
	}
	id, err := parseID(params.ID)
	if err != nil {
		return invalidParams(err.Error(), nil)
	}
	return ledgerError(m.node.EscrowFulfillCondition(ctx, caller, id, params.Condition))
}

func (m *EscrowModule) Release(ctx context.Context, caller [20]byte, raw json.RawMessage) *ModuleError {
	return m.withID(raw, func(id uint64) error { return m.node.EscrowRelease(ctx, caller, id) })
}

func (m *EscrowModule) Refund(ctx context.Context, caller [20]byte, raw json.RawMessage) *ModuleError {
	return m.withID(raw, func(id uint64) error { return m.node.EscrowRefund(ctx, caller, id) })
}

// AddAuditor appends an auditor on behalf of the donor.
func (m *EscrowModule) AddAuditor(ctx context.Context, caller [20]byte, raw json.RawMessage) *ModuleError {
	if modErr := m.ready(); modErr != nil {
		return modErr
	}
	var params AuditorParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return modErr
	}
	id, err := parseID(params.ID)
	if err != nil {
		return invalidParams(err.Error(), nil)
	}
	auditor, err := parseAddress("auditor", params.Auditor)
	if err != nil {
		return invalidParams(err.Error(), nil)
	}
	return ledgerError(m.node.EscrowAddAuditor(ctx, caller, id, auditor))
}

func (m *EscrowModule) withID(raw json.RawMessage, fn func(id uint64) error) *ModuleError {
	if modErr := m.ready(); modErr != nil {
		return modErr
	}
	var params IDParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return modErr
	}
	id, err := parseID(params.ID)
	if err != nil {
		return invalidParams(err.Error(), nil)
	}
	return ledgerError(fn(id))
}

// Get returns the escrow record. Unknown ids report EscrowNotFound.
func (m *EscrowModule) Get(raw json.RawMessage) (*EscrowResult, *ModuleError) {
	id, modErr := m.readID(raw)
	if modErr != nil {
		return nil, modErr
	}
	esc, ok, err := m.node.EscrowGet(id)
	if err != nil {
		return nil, ledgerError(err)
	}
	if !ok {
		return nil, ledgerError(escrow.ErrEscrowNotFound)
	}
	return FormatEscrow(esc), nil
}

// Balance returns the amount still held. Settled escrows report zero with
// held=false.
func (m *EscrowModule) Balance(raw json.RawMessage) (*BalanceResult, *ModuleError) {
	id, modErr := m.readID(raw)
	if modErr != nil {
		return nil, modErr
	}
	balance, held, err := m.node.EscrowBalance(id)
	if err != nil {
		return nil, ledgerError(err)
	}
	if !held {
		if _, exists, err := m.node.EscrowGet(id); err != nil {
			return nil, ledgerError(err)
		} else if !exists {
			return nil, ledgerError(escrow.ErrEscrowNotFound)
		}
		balance = big.NewInt(0)
	}
	return &BalanceResult{ID: formatID(id), Balance: balance.String(), Held: held}, nil
}

// ConditionStatus returns the fulfillment of one condition when a condition is
// named, or of every listed condition otherwise.
func (m *EscrowModule) ConditionStatus(raw json.RawMessage) (*ConditionStatusResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	var params ConditionParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, modErr
	}
	id, err := parseID(params.ID)
	if err != nil {
		return nil, invalidParams(err.Error(), nil)
	}
	result := &ConditionStatusResult{ID: formatID(id)}
	if params.Condition != "" {
		fulfilled, _, err := m.node.EscrowConditionFulfilled(id, params.Condition)
		if err != nil {
			return nil, ledgerError(err)
		}
		result.Conditions = []ConditionResult{{Condition: params.Condition, Fulfilled: fulfilled}}
		return result, nil
	}
	statuses, ok, err := m.node.EscrowConditionStatuses(id)
	if err != nil {
		return nil, ledgerError(err)
	}
	if !ok {
		return nil, ledgerError(escrow.ErrEscrowNotFound)
	}
	result.Conditions = make([]ConditionResult, 0, len(statuses))
	for _, status := range statuses {
		result.Conditions = append(result.Conditions, ConditionResult{Condition: status.Condition, Fulfilled: status.Fulfilled})
	}
	return result, nil
}

func (m *EscrowModule) Verifier(raw json.RawMessage) (*VerifierResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	var params VerifierQueryParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, modErr
	}
	verifier, ok, err := m.node.EscrowVerifier(params.Condition)
	if err != nil {
		return nil, ledgerError(err)
	}
	result := &VerifierResult{Condition: params.Condition, Registered: ok}
	if ok {
		result.Verifier = crypto.Address(verifier).String()
	}
	return result, nil
}

func (m *EscrowModule) Totals() (*TotalsResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	totals, err := m.node.EscrowTotals()
	if err != nil {
		return nil, ledgerError(err)
	}
	return &TotalsResult{
		Escrows:  totals.Escrows,
		Released: totals.Released.String(),
		Refunded: totals.Refunded.String(),
	}, nil
}

func (m *EscrowModule) Auditors(raw json.RawMessage) (*AuditorsResult, *ModuleError) {
	id, modErr := m.readID(raw)
	if modErr != nil {
		return nil, modErr
	}
	auditors, ok, err := m.node.EscrowAuditors(id)
	if err != nil {
		return nil, ledgerError(err)
	}
	if !ok {
		return nil, ledgerError(escrow.ErrEscrowNotFound)
	}
	out := make([]string, 0, len(auditors))
	for _, auditor := range auditors {
		out = append(out, crypto.Address(auditor).String())
	}
	return &AuditorsResult{ID: formatID(id), Auditors: out}, nil
}

func (m *EscrowModule) readID(raw json.RawMessage) (uint64, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return 0, modErr
	}
	var params IDParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return 0, modErr
	}
	id, err := parseID(params.ID)
	if err != nil {
		return 0, invalidParams(err.Error(), nil)
	}
	return id, nil
}

// FormatEscrow renders an escrow record for RPC consumers.
func FormatEscrow(esc *escrow.Escrow) *EscrowResult {
	if esc == nil {
		return nil
	}
	amount := "0"
	if esc.Amount != nil {
		amount = esc.Amount.String()
	}
	conditions := esc.Conditions
	if conditions == nil {
		conditions = []string{}
	}
	return &EscrowResult{
		ID:         formatID(esc.ID),
		Donor:      crypto.Address(esc.Donor).String(),
		Recipient:  crypto.Address(esc.Recipient).String(),
		Amount:     amount,
		Conditions: conditions,
		Metadata:   esc.Metadata,
		CreatedAt:  esc.CreatedAt,
		ExpiresAt:  esc.ExpiresAt,
		Released:   esc.Released,
		Refunded:   esc.Refunded,
		Status:     esc.Status(),
	}
}

func decodeParams(raw json.RawMessage, out interface{}) *ModuleError {
	if len(raw) == 0 {
		return invalidParams("parameter object required", nil)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return invalidParams("invalid parameter object", err.Error())
	}
	return nil
}

func parseID(value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("id is required")
	}
	id, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", value)
	}
	return id, nil
}

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }

func parseAddress(field, value string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

// parseAmount accepts any base-10 integer; sign checks belong to the ledger.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}
