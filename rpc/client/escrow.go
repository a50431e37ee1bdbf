package client

import (
	"context"
	"math/big"
	"strconv"

	"escrowledger/crypto"
	"escrowledger/rpc"
	"escrowledger/rpc/modules"
)

// CreateRequest describes a new escrow.
type CreateRequest struct {
	Recipient  crypto.Address
	Amount     *big.Int
	Conditions []string
	Metadata   string
	Duration   uint64
	Auditors   []crypto.Address
}

func (c *Client) Create(ctx context.Context, req CreateRequest) (uint64, error) {
	amount := "0"
	if req.Amount != nil {
		amount = req.Amount.String()
	}
	params := modules.CreateParams{
		Recipient:  req.Recipient.String(),
		Amount:     amount,
		Conditions: req.Conditions,
		Metadata:   req.Metadata,
		Duration:   req.Duration,
	}
	for _, auditor := range req.Auditors {
		params.Auditors = append(params.Auditors, auditor.String())
	}
	var res modules.CreateResult
	if err := c.CallSigned(ctx, rpc.MethodEscrowCreate, params, &res); err != nil {
		return 0, err
	}
	return strconv.ParseUint(res.ID, 10, 64)
}

func (c *Client) FulfillCondition(ctx context.Context, id uint64, condition string) error {
	return c.CallSigned(ctx, rpc.MethodEscrowFulfillCondition, modules.ConditionParams{ID: formatID(id), Condition: condition}, nil)
}

func (c *Client) Release(ctx context.Context, id uint64) error {
	return c.CallSigned(ctx, rpc.MethodEscrowRelease, modules.IDParams{ID: formatID(id)}, nil)
}

func (c *Client) Refund(ctx context.Context, id uint64) error {
	return c.CallSigned(ctx, rpc.MethodEscrowRefund, modules.IDParams{ID: formatID(id)}, nil)
}

func (c *Client) AddAuditor(ctx context.Context, id uint64, auditor crypto.Address) error {
	return c.CallSigned(ctx, rpc.MethodEscrowAddAuditor, modules.AuditorParams{ID: formatID(id), Auditor: auditor.String()}, nil)
}

func (c *Client) SetAdmin(ctx context.Context, admin crypto.Address) error {
	return c.CallSigned(ctx, rpc.MethodAdminSetAdmin, modules.SetAdminParams{Admin: admin.String()}, nil)
}

func (c *Client) Pause(ctx context.Context) error {
	return c.CallSigned(ctx, rpc.MethodAdminPause, nil, nil)
}

func (c *Client) Unpause(ctx context.Context) error {
	return c.CallSigned(ctx, rpc.MethodAdminUnpause, nil, nil)
}

func (c *Client) RegisterVerifier(ctx context.Context, condition string, verifier crypto.Address) error {
	return c.CallSigned(ctx, rpc.MethodAdminRegisterVerifier, modules.RegisterVerifierParams{Condition: condition, Verifier: verifier.String()}, nil)
}

func (c *Client) Get(ctx context.Context, id uint64) (*modules.EscrowResult, error) {
	var res modules.EscrowResult
	if err := c.Call(ctx, rpc.MethodEscrowGet, modules.IDParams{ID: formatID(id)}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Balance(ctx context.Context, id uint64) (*modules.BalanceResult, error) {
	var res modules.BalanceResult
	if err := c.Call(ctx, rpc.MethodEscrowBalance, modules.IDParams{ID: formatID(id)}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ConditionStatus reports one condition when condition is non-empty, or every
// listed condition otherwise.
func (c *Client) ConditionStatus(ctx context.Context, id uint64, condition string) (*modules.ConditionStatusResult, error) {
	var res modules.ConditionStatusResult
	if err := c.Call(ctx, rpc.MethodEscrowConditionStatus, modules.ConditionParams{ID: formatID(id), Condition: condition}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Verifier(ctx context.Context, condition string) (*modules.VerifierResult, error) {
	var res modules.VerifierResult
	if err := c.Call(ctx, rpc.MethodEscrowVerifier, modules.VerifierQueryParams{Condition: condition}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Totals(ctx context.Context) (*modules.TotalsResult, error) {
	var res modules.TotalsResult
	if err := c.Call(ctx, rpc.MethodEscrowTotals, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Paused(ctx context.Context) (bool, error) {
	var res modules.PausedResult
	if err := c.Call(ctx, rpc.MethodEscrowPaused, nil, &res); err != nil {
		return false, err
	}
	return res.Paused, nil
}

func (c *Client) Admin(ctx context.Context) (*modules.AdminResult, error) {
	var res modules.AdminResult
	if err := c.Call(ctx, rpc.MethodEscrowAdmin, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Auditors(ctx context.Context, id uint64) ([]string, error) {
	var res modules.AuditorsResult
	if err := c.Call(ctx, rpc.MethodEscrowAuditors, modules.IDParams{ID: formatID(id)}, &res); err != nil {
		return nil, err
	}
	return res.Auditors, nil
}

func (c *Client) AccountBalance(ctx context.Context, addr crypto.Address) (*big.Int, error) {
	var res modules.AccountBalanceResult
	if err := c.Call(ctx, rpc.MethodAccountBalance, modules.AddressParams{Address: addr.String()}, &res); err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(res.Balance, 10)
	if !ok {
		return nil, &Error{Code: -32000, Message: "malformed balance", Data: res.Balance}
	}
	return balance, nil
}

func (c *Client) AccountNonce(ctx context.Context, addr crypto.Address) (uint64, error) {
	var res modules.AccountNonceResult
	if err := c.Call(ctx, rpc.MethodAccountNonce, modules.AddressParams{Address: addr.String()}, &res); err != nil {
		return 0, err
	}
	return res.Nonce, nil
}

func (c *Client) Height(ctx context.Context) (uint64, error) {
	var res modules.HeightResult
	if err := c.Call(ctx, rpc.MethodChainHeight, nil, &res); err != nil {
		return 0, err
	}
	return res.Height, nil
}

func (c *Client) AuditEvents(ctx context.Context, params modules.EventsParams) (*modules.EventsResult, error) {
	var res modules.EventsResult
	if err := c.Call(ctx, rpc.MethodAuditEvents, params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) AuditVerify(ctx context.Context) (*modules.VerifyResult, error) {
	var res modules.VerifyResult
	if err := c.Call(ctx, rpc.MethodAuditVerify, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }
