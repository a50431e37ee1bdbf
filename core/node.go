package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"escrowledger/core/events"
	"escrowledger/core/genesis"
	"escrowledger/core/state"
	"escrowledger/native/bank"
	"escrowledger/native/escrow"
	"escrowledger/observability/metrics"
	telemetry "escrowledger/observability/otel"
	"escrowledger/storage"
)

var (
	// ErrHeightRegression is returned when a caller tries to move the clock
	// backwards.
	ErrHeightRegression = errors.New("node: height must not decrease")
	// ErrNonceReused is returned when a signed request carries a nonce that is
	// not strictly greater than the last accepted one.
	ErrNonceReused = errors.New("node: nonce already used")
)

// Node is the central controller. It owns the database, serialises every
// state transition through a single writer lock and publishes the events of
// committed transitions on its bus.
type Node struct {
	db      storage.Database
	bus     *events.Bus
	logger  *slog.Logger
	metrics *metrics.EscrowMetrics
	tracer  trace.Tracer

	stateMu sync.RWMutex
}

// Option customises node construction.
type Option func(*nodeOptions)

type nodeOptions struct {
	allowMigrate bool
}

// WithAllowMigrate accepts databases stamped with a different schema version.
// Migrations are applied manually.
func WithAllowMigrate(allow bool) Option {
	return func(o *nodeOptions) { o.allowMigrate = allow }
}

// NewNode opens the ledger on db. Databases stamped with a different schema
// version are rejected unless WithAllowMigrate is set.
func NewNode(db storage.Database, logger *slog.Logger, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	var options nodeOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if err := state.EnsureStateVersion(db, options.allowMigrate); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	n := &Node{
		db:      db,
		bus:     events.NewBus(),
		logger:  logger.With("component", "node"),
		metrics: metrics.Escrow(),
		tracer:  telemetry.Tracer(),
	}
	height, err := n.Height()
	if err != nil {
		return nil, err
	}
	n.metrics.SetHeight(height)
	n.bus.OnDrop(n.metrics.EventDropped)
	return n, nil
}

// Bus returns the event bus fed by committed transitions.
func (n *Node) Bus() *events.Bus { return n.bus }

// Close releases the underlying database.
func (n *Node) Close() {
	if n == nil || n.db == nil {
		return
	}
	n.db.Close()
}

func (n *Node) newEscrowEngine(manager *state.Manager, height uint64, emitter events.Emitter) *escrow.Engine {
	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetLedger(bank.NewLedger(manager))
	engine.SetClock(func() uint64 { return height })
	engine.SetEmitter(emitter)
	return engine
}

// execute runs fn against a private overlay of committed state. The overlay
// is committed and the buffered events published only when fn succeeds, so a
// failed transition leaves no trace.
func (n *Node) execute(ctx context.Context, op string, fn func(engine *escrow.Engine, manager *state.Manager) error) error {
	_, span := n.tracer.Start(ctx, "escrow."+op)
	defer span.End()

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	overlay := storage.NewOverlay(n.db)
	manager := state.NewManager(overlay)
	buffer := events.NewBuffer()

	err := func() error {
		height, err := manager.Height()
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int64("escrow.height", int64(height)))
		if err := fn(n.newEscrowEngine(manager, height, buffer), manager); err != nil {
			return err
		}
		return overlay.Commit()
	}()

	kind := ""
	if code, ok := escrow.CodeOf(err); ok {
		kind = code.String()
	}
	n.metrics.ObserveOperation(op, err, kind)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if kind == "" {
			n.logger.Error("escrow operation failed", "op", op, "error", err)
		} else {
			n.logger.Debug("escrow operation rejected", "op", op, "kind", kind)
		}
		return err
	}

	committed := buffer.Events()
	n.observeValue(committed)
	buffer.Flush(n.bus)
	return nil
}

func (n *Node) observeValue(committed []events.Event) {
	for _, evt := range committed {
		rendered := events.ToTypes(evt)
		if rendered == nil {
			continue
		}
		var flow, key string
		switch rendered.Type {
		case escrow.EventTypeEscrowCreated:
			flow, key = "locked", "amount"
		case escrow.EventTypeEscrowReleased:
			flow, key = "released", "paid"
		case escrow.EventTypeEscrowRefunded:
			flow, key = "refunded", "paid"
		default:
			continue
		}
		if amount, ok := new(big.Int).SetString(rendered.Attr(key), 10); ok {
			n.metrics.AddValue(flow, amount)
		}
	}
}

// view runs fn against committed state under the read lock.
func (n *Node) view(fn func(engine *escrow.Engine, manager *state.Manager) error) error {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	manager := state.NewManager(n.db)
	height, err := manager.Height()
	if err != nil {
		return err
	}
	return fn(n.newEscrowEngine(manager, height, nil), manager)
}

// --- State transitions ---

func (n *Node) EscrowSetAdmin(ctx context.Context, caller, newAdmin [20]byte) error {
	return n.execute(ctx, "set_admin", func(engine *escrow.Engine, _ *state.Manager) error {
		return engine.SetAdmin(caller, newAdmin)
	})
}

func (n *Node) EscrowPause(ctx context.Context, caller [20]byte) error {
	return n.execute(ctx, "pause", func(engine *escrow.Engine, _ *state.Manager) error {
		return engine.Pause(caller)
	})
}

func (n *Node) EscrowUnpause(ctx context.Context, caller [20]byte) error {
	return n.execute(ctx, "unpause", func(engine *escrow.Engine, _ *state.Manager) error {
		return engine.Unpause(caller)
	})
}

func (n *Node) EscrowRegisterVerifier(ctx context.Context, caller [20]byte, condition string, verifier [20]byte) error {
	return n.execute(ctx, "register_verifier", func(engine *escrow.Engine, _ *state.Manager) error {
		return engine.RegisterConditionVerifier(caller, condition, verifier)
	})
}

// CreateEscrowParams carries the arguments of EscrowCreate.
type CreateEscrowParams struct {
	Recipient  [20]byte
	Amount     *big.Int
	Conditions []string
	Metadata   string
	Duration   uint64
	Auditors   [][20]byte
}

func (n *Node) EscrowCreate(ctx context.Context, caller [20]byte, params CreateEscrowParams) (uint64, error) {
	var id uint64
	err := n.execute(ctx, "create", func(engine *escrow.Engine, _ *state.Manager) error {
		created, err := engine.CreateEscrow(caller, params.Recipient, params.Amount, params.Conditions, params.Metadata, params.Duration, params.Auditors)
		if err != nil {
			return err
		}
		id = created
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (n *Node) EscrowFulfillCondition(ctx context.Context, caller [20]byte, id uint64, condition string) error {
	return n.execute(ctx, "fulfill_condition", func(engine *escrow.Engine, _ *state.Manager) error {
		return engine.FulfillCondition(caller, id, condition)
	})
}

func (n *Node) EscrowRelease(ctx context.Context, caller [20]byte, id uint64) error {
	return n.execute(ctx, "release", func(engine *escrow.Engine, _ *state.Manager) error {
		return engine.ReleaseFunds(caller, id)
	})
}

func (n *Node) EscrowRefund(ctx context.Context, caller [20]byte, id uint64) error {
	return n.execute(ctx, "refund", func(engine *escrow.Engine, _ *state.Manager) error {
		return engine.RefundFunds(caller, id)
	})
}

func (n *Node) EscrowAddAuditor(ctx context.Context, caller [20]byte, id uint64, auditor [20]byte) error {
	return n.execute(ctx, "add_auditor", func(engine *escrow.Engine, _ *state.Manager) error {
		return engine.AddAuditor(caller, id, auditor)
	})
}

// --- Read accessors ---

func (n *Node) EscrowGet(id uint64) (*escrow.Escrow, bool, error) {
	var (
		out *escrow.Escrow
		ok  bool
	)
	err := n.view(func(engine *escrow.Engine, _ *state.Manager) error {
		var err error
		out, ok, err = engine.Escrow(id)
		return err
	})
	return out, ok, err
}

func (n *Node) EscrowBalance(id uint64) (*big.Int, bool, error) {
	var (
		out *big.Int
		ok  bool
	)
	err := n.view(func(engine *escrow.Engine, _ *state.Manager) error {
		var err error
		out, ok, err = engine.Balance(id)
		return err
	})
	return out, ok, err
}

func (n *Node) EscrowConditionFulfilled(id uint64, condition string) (bool, bool, error) {
	var fulfilled, ok bool
	err := n.view(func(engine *escrow.Engine, _ *state.Manager) error {
		var err error
		fulfilled, ok, err = engine.ConditionFulfilled(id, condition)
		return err
	})
	return fulfilled, ok, err
}

func (n *Node) EscrowConditionStatuses(id uint64) ([]escrow.ConditionStatus, bool, error) {
	var (
		out []escrow.ConditionStatus
		ok  bool
	)
	err := n.view(func(engine *escrow.Engine, _ *state.Manager) error {
		var err error
		out, ok, err = engine.ConditionStatuses(id)
		return err
	})
	return out, ok, err
}

func (n *Node) EscrowVerifier(condition string) ([20]byte, bool, error) {
	var (
		out [20]byte
		ok  bool
	)
	err := n.view(func(engine *escrow.Engine, _ *state.Manager) error {
		var err error
		out, ok, err = engine.Verifier(condition)
		return err
	})
	return out, ok, err
}

func (n *Node) EscrowTotals() (*escrow.Totals, error) {
	var out *escrow.Totals
	err := n.view(func(engine *escrow.Engine, _ *state.Manager) error {
		var err error
		out, err = engine.Totals()
		return err
	})
	return out, err
}

func (n *Node) EscrowPaused() (bool, error) {
	var paused bool
	err := n.view(func(engine *escrow.Engine, _ *state.Manager) error {
		var err error
		paused, err = engine.Paused()
		return err
	})
	return paused, err
}

func (n *Node) EscrowAdmin() ([20]byte, bool, error) {
	var (
		out [20]byte
		ok  bool
	)
	err := n.view(func(engine *escrow.Engine, _ *state.Manager) error {
		var err error
		out, ok, err = engine.Admin()
		return err
	})
	return out, ok, err
}

func (n *Node) EscrowAuditors(id uint64) ([][20]byte, bool, error) {
	var (
		out [][20]byte
		ok  bool
	)
	err := n.view(func(engine *escrow.Engine, _ *state.Manager) error {
		var err error
		out, ok, err = engine.Auditors(id)
		return err
	})
	return out, ok, err
}

// AccountBalance returns the spendable balance of addr.
func (n *Node) AccountBalance(addr [20]byte) (*big.Int, error) {
	var out *big.Int
	err := n.view(func(_ *escrow.Engine, manager *state.Manager) error {
		var err error
		out, err = bank.NewLedger(manager).Balance(addr)
		return err
	})
	return out, err
}

// AccountNonce returns the last nonce accepted from addr.
func (n *Node) AccountNonce(addr [20]byte) (uint64, error) {
	var out uint64
	err := n.view(func(_ *escrow.Engine, manager *state.Manager) error {
		var err error
		out, err = manager.AccountNonce(addr)
		return err
	})
	return out, err
}

// --- Request ordering ---

// ConsumeNonce accepts nonce for addr when it is strictly greater than the
// last accepted one. The nonce is consumed even if the request it guards
// later fails.
func (n *Node) ConsumeNonce(addr [20]byte, nonce uint64) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	manager := state.NewManager(n.db)
	last, err := manager.AccountNonce(addr)
	if err != nil {
		return err
	}
	if nonce <= last {
		return fmt.Errorf("%w: got %d, last %d", ErrNonceReused, nonce, last)
	}
	return manager.SetAccountNonce(addr, nonce)
}

// --- Logical clock ---

// Height returns the committed logical clock.
func (n *Node) Height() (uint64, error) {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return state.NewManager(n.db).Height()
}

// AdvanceHeight moves the clock forward by one and returns the new height.
func (n *Node) AdvanceHeight() (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	manager := state.NewManager(n.db)
	height, err := manager.Height()
	if err != nil {
		return 0, err
	}
	height++
	if err := manager.SetHeight(height); err != nil {
		return 0, err
	}
	n.metrics.SetHeight(height)
	return height, nil
}

// SetHeight jumps the clock to height. Moving backwards is rejected.
func (n *Node) SetHeight(height uint64) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	manager := state.NewManager(n.db)
	current, err := manager.Height()
	if err != nil {
		return err
	}
	if height < current {
		return fmt.Errorf("%w: current %d, requested %d", ErrHeightRegression, current, height)
	}
	if err := manager.SetHeight(height); err != nil {
		return err
	}
	n.metrics.SetHeight(height)
	return nil
}

// RunHeightTicker advances the clock once per interval until ctx is done.
func (n *Node) RunHeightTicker(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("node: height interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			height, err := n.AdvanceHeight()
			if err != nil {
				n.logger.Error("advance height", "error", err)
				continue
			}
			n.logger.Debug("height advanced", "height", height)
		}
	}
}

// --- Genesis ---

// ApplyGenesis writes the initial allocation once. Later calls report false
// without touching state.
func (n *Node) ApplyGenesis(spec *genesis.Spec) (bool, error) {
	if spec == nil {
		return false, fmt.Errorf("node: genesis spec required")
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	overlay := storage.NewOverlay(n.db)
	manager := state.NewManager(overlay)
	applied, err := manager.GenesisApplied()
	if err != nil || applied {
		return false, err
	}
	if err := genesis.Apply(manager, bank.NewLedger(manager), spec); err != nil {
		return false, err
	}
	if err := manager.MarkGenesisApplied(); err != nil {
		return false, err
	}
	if err := overlay.Commit(); err != nil {
		return false, err
	}
	n.metrics.SetHeight(spec.Height)
	n.logger.Info("genesis applied", "height", spec.Height, "verifiers", len(spec.Verifiers), "accounts", len(spec.Balances))
	return true, nil
}
