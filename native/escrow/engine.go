package escrow

import (
	"fmt"
	"math/big"

	"escrowledger/core/events"
	"escrowledger/core/types"
)

type engineState interface {
	EscrowAdmin() ([20]byte, bool, error)
	SetEscrowAdmin(admin [20]byte) error
	EscrowPaused() (bool, error)
	SetEscrowPaused(paused bool) error
	EscrowTotals() (*Totals, error)
	SetEscrowTotals(totals *Totals) error
	EscrowGet(id uint64) (*Escrow, bool, error)
	EscrowPut(esc *Escrow) error
	EscrowBalance(id uint64) (*big.Int, bool, error)
	SetEscrowBalance(id uint64, amount *big.Int) error
	DeleteEscrowBalance(id uint64) error
	EscrowVerifier(condition string) ([20]byte, bool, error)
	SetEscrowVerifier(condition string, verifier [20]byte) error
	EscrowConditionFulfilled(id uint64, condition string) (bool, error)
	SetEscrowConditionFulfilled(id uint64, condition string) error
	EscrowAuditors(id uint64) ([][20]byte, bool, error)
	SetEscrowAuditors(id uint64, auditors [][20]byte) error
}

// Ledger moves value between accounts. A failed transfer must leave balances
// untouched.
type Ledger interface {
	Transfer(from, to [20]byte, amount *big.Int) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine implements the escrow state machine on top of a state backend, a
// value ledger and a logical clock. It holds no state of its own, so one
// engine may be rebound to a fresh state view per operation.
type Engine struct {
	state   engineState
	ledger  Ledger
	emitter events.Emitter
	clock   func() uint64
	vault   [20]byte
}

// NewEngine creates an escrow engine with a no-op emitter and a clock frozen
// at zero. Callers override both through the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		clock:   func() uint64 { return 0 },
		vault:   VaultAddress,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the value transfer capability.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

// SetClock overrides the logical clock. Passing nil freezes the clock at zero.
func (e *Engine) SetClock(clock func() uint64) {
	if clock == nil {
		e.clock = func() uint64 { return 0 }
		return
	}
	e.clock = clock
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() uint64 {
	if e == nil || e.clock == nil {
		return 0
	}
	return e.clock()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) requireAdmin(caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	admin, ok, err := e.state.EscrowAdmin()
	if err != nil {
		return err
	}
	if !ok || admin != caller {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) requireActive() error {
	paused, err := e.state.EscrowPaused()
	if err != nil {
		return err
	}
	if paused {
		return ErrPaused
	}
	return nil
}

func (e *Engine) loadEscrow(id uint64) (*Escrow, error) {
	esc, ok, err := e.state.EscrowGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return esc, nil
}

func (e *Engine) loadTotals() (*Totals, error) {
	totals, err := e.state.EscrowTotals()
	if err != nil {
		return nil, err
	}
	return totals.Clone(), nil
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if e.ledger == nil {
		return fmt.Errorf("%w: ledger not configured", ErrInsufficientBalance)
	}
	if err := e.ledger.Transfer(from, to, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}
	return nil
}

// SetAdmin hands the administrator role to newAdmin.
func (e *Engine) SetAdmin(caller, newAdmin [20]byte) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := e.state.SetEscrowAdmin(newAdmin); err != nil {
		return err
	}
	e.emit(NewAdminChangedEvent(caller, newAdmin, e.now()))
	return nil
}

// Pause blocks creation and settlement until Unpause.
func (e *Engine) Pause(caller [20]byte) error {
	return e.setPaused(caller, true)
}

// Unpause lifts a previous Pause.
func (e *Engine) Unpause(caller [20]byte) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller [20]byte, paused bool) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := e.state.SetEscrowPaused(paused); err != nil {
		return err
	}
	e.emit(NewPauseChangedEvent(caller, paused, e.now()))
	return nil
}

// RegisterConditionVerifier binds condition to verifier, replacing any prior
// binding. Facts already recorded under the previous verifier stay valid.
func (e *Engine) RegisterConditionVerifier(caller [20]byte, condition string, verifier [20]byte) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if textLen(condition) > MaxConditionLen {
		return ErrInvalidCondition
	}
	if err := e.state.SetEscrowVerifier(condition, verifier); err != nil {
		return err
	}
	e.emit(NewVerifierRegisteredEvent(condition, verifier, e.now()))
	return nil
}

// CreateEscrow locks amount from the donor (caller) for recipient and returns
// the new escrow id. Conditions and auditors are stored verbatim; nothing
// checks that a verifier exists for each listed condition.
func (e *Engine) CreateEscrow(caller, recipient [20]byte, amount *big.Int, conditions []string, metadata string, duration uint64, auditors [][20]byte) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if err := e.requireActive(); err != nil {
		return 0, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if recipient == caller {
		return 0, ErrInvalidRecipient
	}
	if len(conditions) > MaxConditions {
		return 0, ErrMaxConditionsExceeded
	}
	for _, condition := range conditions {
		if textLen(condition) > MaxConditionLen {
			return 0, ErrInvalidCondition
		}
	}
	if textLen(metadata) > MaxMetadataLen {
		return 0, ErrInvalidMetadata
	}
	if duration == 0 {
		return 0, ErrInvalidDuration
	}
	now := e.now()
	expiry := now + duration
	if expiry < now {
		return 0, ErrInvalidDuration
	}
	totals, err := e.loadTotals()
	if err != nil {
		return 0, err
	}
	locked := new(big.Int).Set(amount)
	if err := e.transfer(caller, e.vault, locked); err != nil {
		return 0, err
	}
	esc := &Escrow{
		ID:         totals.Escrows + 1,
		Donor:      caller,
		Recipient:  recipient,
		Amount:     locked,
		Conditions: append([]string(nil), conditions...),
		Metadata:   metadata,
		CreatedAt:  now,
		ExpiresAt:  expiry,
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return 0, err
	}
	if err := e.state.SetEscrowBalance(esc.ID, locked); err != nil {
		return 0, err
	}
	if err := e.state.SetEscrowAuditors(esc.ID, append([][20]byte(nil), auditors...)); err != nil {
		return 0, err
	}
	totals.Escrows = esc.ID
	if err := e.state.SetEscrowTotals(totals); err != nil {
		return 0, err
	}
	e.emit(NewCreatedEvent(esc, len(auditors)))
	return esc.ID, nil
}

// FulfillCondition records that condition holds for escrow id. Only the
// verifier registered for the condition may attest it, while the escrow is
// open and not expired. The fact is stored even when the escrow does not list
// the condition. Pausing does not block attestations.
func (e *Engine) FulfillCondition(caller [20]byte, id uint64, condition string) error {
	if err := e.ready(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	verifier, ok, err := e.state.EscrowVerifier(condition)
	if err != nil {
		return err
	}
	if !ok || verifier != caller {
		return ErrUnauthorized
	}
	if esc.Settled() {
		return ErrAlreadyReleased
	}
	now := e.now()
	if esc.Expired(now) {
		return ErrEscrowExpired
	}
	if err := e.state.SetEscrowConditionFulfilled(id, condition); err != nil {
		return err
	}
	e.emit(NewConditionFulfilledEvent(id, condition, caller, now))
	return nil
}

// ReleaseFunds pays the held balance to the recipient once every listed
// condition is fulfilled. The recipient or the admin may trigger it.
func (e *Engine) ReleaseFunds(caller [20]byte, id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireActive(); err != nil {
		return err
	}
	esc, balance, err := e.loadHeld(id)
	if err != nil {
		return err
	}
	if caller != esc.Recipient {
		admin, ok, err := e.state.EscrowAdmin()
		if err != nil {
			return err
		}
		if !ok || caller != admin {
			return ErrUnauthorized
		}
	}
	if esc.Settled() {
		return ErrAlreadyReleased
	}
	now := e.now()
	if esc.Expired(now) {
		return ErrEscrowExpired
	}
	for _, condition := range esc.Conditions {
		fulfilled, err := e.state.EscrowConditionFulfilled(id, condition)
		if err != nil {
			return err
		}
		if !fulfilled {
			return ErrConditionsNotMet
		}
	}
	if err := e.settle(esc, balance, esc.Recipient, true); err != nil {
		return err
	}
	e.emit(NewReleasedEvent(esc, balance, caller, now))
	return nil
}

// RefundFunds returns the held balance to the donor at or after expiry,
// regardless of fulfillment. Only the donor may trigger it.
func (e *Engine) RefundFunds(caller [20]byte, id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireActive(); err != nil {
		return err
	}
	esc, balance, err := e.loadHeld(id)
	if err != nil {
		return err
	}
	if caller != esc.Donor {
		return ErrUnauthorized
	}
	if esc.Settled() {
		return ErrAlreadyReleased
	}
	now := e.now()
	if now < esc.ExpiresAt {
		return ErrEscrowActive
	}
	if err := e.settle(esc, balance, esc.Donor, false); err != nil {
		return err
	}
	e.emit(NewRefundedEvent(esc, balance, now))
	return nil
}

func (e *Engine) loadHeld(id uint64) (*Escrow, *big.Int, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, nil, err
	}
	balance, ok, err := e.state.EscrowBalance(id)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrNoFunds
	}
	return esc, balance, nil
}

func (e *Engine) settle(esc *Escrow, balance *big.Int, to [20]byte, release bool) error {
	if err := e.transfer(e.vault, to, balance); err != nil {
		return err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}
	if release {
		esc.Released = true
		totals.Released = new(big.Int).Add(totals.Released, balance)
	} else {
		esc.Refunded = true
		totals.Refunded = new(big.Int).Add(totals.Refunded, balance)
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	if err := e.state.DeleteEscrowBalance(esc.ID); err != nil {
		return err
	}
	return e.state.SetEscrowTotals(totals)
}

// AddAuditor appends auditor to the escrow's observer list. The donor may do
// so at any time, including after settlement, up to MaxAuditors entries.
func (e *Engine) AddAuditor(caller [20]byte, id uint64, auditor [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Donor {
		return ErrUnauthorized
	}
	auditors, _, err := e.state.EscrowAuditors(id)
	if err != nil {
		return err
	}
	if len(auditors) >= MaxAuditors {
		return ErrMaxConditionsExceeded
	}
	auditors = append(auditors, auditor)
	if err := e.state.SetEscrowAuditors(id, auditors); err != nil {
		return err
	}
	e.emit(NewAuditorAddedEvent(id, auditor, len(auditors), e.now()))
	return nil
}
