package rpc

import (
	"context"
	"encoding/json"

	"escrowledger/rpc/modules"
)

const (
	MethodEscrowCreate           = "escrow_create"
	MethodEscrowFulfillCondition = "escrow_fulfillCondition"
	MethodEscrowRelease          = "escrow_release"
	MethodEscrowRefund           = "escrow_refund"
	MethodEscrowAddAuditor       = "escrow_addAuditor"
	MethodAdminSetAdmin          = "admin_setAdmin"
	MethodAdminPause             = "admin_pause"
	MethodAdminUnpause           = "admin_unpause"
	MethodAdminRegisterVerifier  = "admin_registerVerifier"

	MethodEscrowGet             = "escrow_get"
	MethodEscrowBalance         = "escrow_balance"
	MethodEscrowConditionStatus = "escrow_conditionStatus"
	MethodEscrowVerifier        = "escrow_verifier"
	MethodEscrowTotals          = "escrow_totals"
	MethodEscrowPaused          = "escrow_paused"
	MethodEscrowAdmin           = "escrow_admin"
	MethodEscrowAuditors        = "escrow_auditors"
	MethodAccountBalance        = "account_balance"
	MethodAccountNonce          = "account_nonce"
	MethodChainHeight           = "chain_height"
	MethodAuditEvents           = "audit_events"
	MethodAuditVerify           = "audit_verify"
)

type readHandler func(ctx context.Context, raw json.RawMessage) (interface{}, *modules.ModuleError)

type writeHandler func(ctx context.Context, caller [20]byte, args json.RawMessage) (interface{}, *modules.ModuleError)

type method struct {
	signed bool
	read   readHandler
	write  writeHandler
}

func signed(fn writeHandler) method { return method{signed: true, write: fn} }

func unsigned(fn readHandler) method { return method{read: fn} }

// ack adapts a module call without a result.
func ack(fn func(ctx context.Context, caller [20]byte, args json.RawMessage) *modules.ModuleError) writeHandler {
	return func(ctx context.Context, caller [20]byte, args json.RawMessage) (interface{}, *modules.ModuleError) {
		if modErr := fn(ctx, caller, args); modErr != nil {
			return nil, modErr
		}
		return Ack{OK: true}, nil
	}
}

// result erases the concrete result type so a nil pointer never reaches the
// encoder as a typed nil.
func result[T any](value *T, modErr *modules.ModuleError) (interface{}, *modules.ModuleError) {
	if modErr != nil {
		return nil, modErr
	}
	return value, nil
}

func (s *Server) methodTable() map[string]method {
	table := map[string]method{
		MethodEscrowCreate: signed(func(ctx context.Context, caller [20]byte, args json.RawMessage) (interface{}, *modules.ModuleError) {
			return result(s.escrow.Create(ctx, caller, args))
		}),
		MethodEscrowFulfillCondition: signed(ack(s.escrow.FulfillCondition)),
		MethodEscrowRelease:          signed(ack(s.escrow.Release)),
		MethodEscrowRefund:           signed(ack(s.escrow.Refund)),
		MethodEscrowAddAuditor:       signed(ack(s.escrow.AddAuditor)),
		MethodAdminSetAdmin:          signed(ack(s.admin.SetAdmin)),
		MethodAdminPause: signed(ack(func(ctx context.Context, caller [20]byte, _ json.RawMessage) *modules.ModuleError {
			return s.admin.Pause(ctx, caller)
		})),
		MethodAdminUnpause: signed(ack(func(ctx context.Context, caller [20]byte, _ json.RawMessage) *modules.ModuleError {
			return s.admin.Unpause(ctx, caller)
		})),
		MethodAdminRegisterVerifier: signed(ack(s.admin.RegisterVerifier)),

		MethodEscrowGet: unsigned(func(_ context.Context, raw json.RawMessage) (interface{}, *modules.ModuleError) {
			return result(s.escrow.Get(raw))
		}),
		MethodEscrowBalance: unsigned(func(_ context.Context, raw json.RawMessage) (interface{}, *modules.ModuleError) {
			return result(s.escrow.Balance(raw))
		}),
		MethodEscrowConditionStatus: unsigned(func(_ context.Context, raw json.RawMessage) (interface{}, *modules.ModuleError) {
			return result(s.escrow.ConditionStatus(raw))
		}),
		MethodEscrowVerifier: unsigned(func(_ context.Context, raw json.RawMessage) (interface{}, *modules.ModuleError) {
			return result(s.escrow.Verifier(raw))
		}),
		MethodEscrowTotals: unsigned(func(context.Context, json.RawMessage) (interface{}, *modules.ModuleError) {
			return result(s.escrow.Totals())
		}),
		MethodEscrowPaused: unsigned(func(context.Context, json.RawMessage) (interface{}, *modules.ModuleError) {
			return result(s.admin.Paused())
		}),
		MethodEscrowAdmin: unsigned(func(context.Context, json.RawMessage) (interface{}, *modules.ModuleError) {
			return result(s.admin.Admin())
		}),
		MethodEscrowAuditors: unsigned(func(_ context.Context, raw json.RawMessage) (interface{}, *modules.ModuleError) {
			return result(s.escrow.Auditors(raw))
		}),
		MethodAccountBalance: unsigned(func(_ context.Context, raw json.RawMessage) (interface{}, *modules.ModuleError) {
			return result(s.accounts.Balance(raw))
		}),
		MethodAccountNonce: unsigned(func(_ context.Context, raw json.RawMessage) (interface{}, *modules.ModuleError) {
			return result(s.accounts.Nonce(raw))
		}),
		MethodChainHeight: unsigned(func(context.Context, json.RawMessage) (interface{}, *modules.ModuleError) {
			return result(s.accounts.Height())
		}),
	}
	if s.audit.Enabled() {
		table[MethodAuditEvents] = unsigned(func(ctx context.Context, raw json.RawMessage) (interface{}, *modules.ModuleError) {
			return result(s.audit.Events(ctx, raw))
		})
		table[MethodAuditVerify] = unsigned(func(ctx context.Context, _ json.RawMessage) (interface{}, *modules.ModuleError) {
			return result(s.audit.Verify(ctx))
		})
	}
	return table
}
