package escrow

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"escrowledger/core/events"
	"escrowledger/core/types"
)

type fulfillmentKey struct {
	id        uint64
	condition string
}

type mockState struct {
	admin     [20]byte
	hasAdmin  bool
	paused    bool
	totals    *Totals
	escrows   map[uint64]*Escrow
	balances  map[uint64]*big.Int
	verifiers map[string][20]byte
	fulfilled map[fulfillmentKey]bool
	auditors  map[uint64][][20]byte
}

func newMockState() *mockState {
	return &mockState{
		totals:    &Totals{Released: big.NewInt(0), Refunded: big.NewInt(0)},
		escrows:   make(map[uint64]*Escrow),
		balances:  make(map[uint64]*big.Int),
		verifiers: make(map[string][20]byte),
		fulfilled: make(map[fulfillmentKey]bool),
		auditors:  make(map[uint64][][20]byte),
	}
}

func (m *mockState) EscrowAdmin() ([20]byte, bool, error) { return m.admin, m.hasAdmin, nil }

func (m *mockState) SetEscrowAdmin(admin [20]byte) error {
	m.admin = admin
	m.hasAdmin = true
	return nil
}

func (m *mockState) EscrowPaused() (bool, error) { return m.paused, nil }

func (m *mockState) SetEscrowPaused(paused bool) error {
	m.paused = paused
	return nil
}

func (m *mockState) EscrowTotals() (*Totals, error) { return m.totals.Clone(), nil }

func (m *mockState) SetEscrowTotals(t *Totals) error {
	m.totals = t.Clone()
	return nil
}

func (m *mockState) EscrowGet(id uint64) (*Escrow, bool, error) {
	esc, ok := m.escrows[id]
	if !ok {
		return nil, false, nil
	}
	return esc.Clone(), true, nil
}

func (m *mockState) EscrowPut(esc *Escrow) error {
	if esc == nil {
		return fmt.Errorf("nil escrow")
	}
	m.escrows[esc.ID] = esc.Clone()
	return nil
}

func (m *mockState) EscrowBalance(id uint64) (*big.Int, bool, error) {
	bal, ok := m.balances[id]
	if !ok {
		return nil, false, nil
	}
	return new(big.Int).Set(bal), true, nil
}

func (m *mockState) SetEscrowBalance(id uint64, amount *big.Int) error {
	m.balances[id] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) DeleteEscrowBalance(id uint64) error {
	delete(m.balances, id)
	return nil
}

func (m *mockState) EscrowVerifier(condition string) ([20]byte, bool, error) {
	v, ok := m.verifiers[condition]
	return v, ok, nil
}

func (m *mockState) SetEscrowVerifier(condition string, verifier [20]byte) error {
	m.verifiers[condition] = verifier
	return nil
}

func (m *mockState) EscrowConditionFulfilled(id uint64, condition string) (bool, error) {
	return m.fulfilled[fulfillmentKey{id, condition}], nil
}

func (m *mockState) SetEscrowConditionFulfilled(id uint64, condition string) error {
	m.fulfilled[fulfillmentKey{id, condition}] = true
	return nil
}

func (m *mockState) EscrowAuditors(id uint64) ([][20]byte, bool, error) {
	list, ok := m.auditors[id]
	if !ok {
		return nil, false, nil
	}
	return append([][20]byte(nil), list...), true, nil
}

func (m *mockState) SetEscrowAuditors(id uint64, auditors [][20]byte) error {
	m.auditors[id] = append([][20]byte(nil), auditors...)
	return nil
}

type mockLedger struct {
	balances map[[20]byte]*big.Int
	fail     error
}

func newMockLedger() *mockLedger {
	return &mockLedger{balances: make(map[[20]byte]*big.Int)}
}

func (l *mockLedger) balance(addr [20]byte) *big.Int {
	if bal, ok := l.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

func (l *mockLedger) Transfer(from, to [20]byte, amount *big.Int) error {
	if l.fail != nil {
		return l.fail
	}
	if l.balance(from).Cmp(amount) < 0 {
		return errors.New("insufficient funds")
	}
	l.balances[from] = new(big.Int).Sub(l.balance(from), amount)
	l.balances[to] = new(big.Int).Add(l.balance(to), amount)
	return nil
}

type capturingEmitter struct {
	events []*types.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	if payload, ok := evt.(interface{ Event() *types.Event }); ok {
		c.events = append(c.events, payload.Event())
	}
}

func (c *capturingEmitter) eventTypes() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.Type)
	}
	return out
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	admin     = newTestAddress(0x01)
	donor     = newTestAddress(0xD0)
	recipient = newTestAddress(0xEE)
	verifier  = newTestAddress(0x0F)
	stranger  = newTestAddress(0x55)
)

type fixture struct {
	engine  *Engine
	state   *mockState
	ledger  *mockLedger
	emitter *capturingEmitter
	height  uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		engine:  NewEngine(),
		state:   newMockState(),
		ledger:  newMockLedger(),
		emitter: &capturingEmitter{},
		height:  100,
	}
	f.state.SetEscrowAdmin(admin)
	f.ledger.balances[donor] = big.NewInt(10_000)
	f.engine.SetState(f.state)
	f.engine.SetLedger(f.ledger)
	f.engine.SetEmitter(f.emitter)
	f.engine.SetClock(func() uint64 { return f.height })
	return f
}

func (f *fixture) create(t *testing.T, amount int64, conditions []string, duration uint64) uint64 {
	t.Helper()
	id, err := f.engine.CreateEscrow(donor, recipient, big.NewInt(amount), conditions, "scholarship", duration, nil)
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	return id
}

func (f *fixture) snapshot() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "totals=%d/%s/%s;", f.state.totals.Escrows, f.state.totals.Released, f.state.totals.Refunded)
	for id := uint64(1); id <= f.state.totals.Escrows; id++ {
		esc := f.state.escrows[id]
		fmt.Fprintf(&sb, "%d:%v/%v;", id, esc.Released, esc.Refunded)
		if bal, ok := f.state.balances[id]; ok {
			fmt.Fprintf(&sb, "bal=%s;", bal)
		}
	}
	for _, addr := range [][20]byte{donor, recipient, VaultAddress} {
		fmt.Fprintf(&sb, "%x=%s;", addr[:2], f.ledger.balance(addr))
	}
	return sb.String()
}

func (f *fixture) assertHeldInvariant(t *testing.T) {
	t.Helper()
	for id, esc := range f.state.escrows {
		_, held := f.state.balances[id]
		count := 0
		for _, flag := range []bool{held, esc.Released, esc.Refunded} {
			if flag {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("escrow %d violates settlement exclusivity: held=%v released=%v refunded=%v", id, held, esc.Released, esc.Refunded)
		}
	}
}

func TestReleaseAfterFulfillment(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, 1000, []string{"enroll"}, 100)
	if id != 1 {
		t.Fatalf("expected first id 1, got %d", id)
	}
	esc, ok, err := f.engine.Escrow(id)
	if err != nil || !ok {
		t.Fatalf("escrow lookup: ok=%v err=%v", ok, err)
	}
	if esc.CreatedAt != 100 || esc.ExpiresAt != 200 {
		t.Fatalf("unexpected window %d..%d", esc.CreatedAt, esc.ExpiresAt)
	}
	bal, ok, _ := f.engine.Balance(id)
	if !ok || bal.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected held balance %v ok=%v", bal, ok)
	}
	if err := f.engine.RegisterConditionVerifier(admin, "enroll", verifier); err != nil {
		t.Fatalf("register verifier: %v", err)
	}
	if err := f.engine.FulfillCondition(verifier, id, "enroll"); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if err := f.engine.ReleaseFunds(recipient, id); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := f.engine.Balance(id); ok {
		t.Fatalf("balance should be absent after release")
	}
	totals, _ := f.engine.Totals()
	if totals.Released.Cmp(big.NewInt(1000)) != 0 || totals.Refunded.Sign() != 0 || totals.Escrows != 1 {
		t.Fatalf("unexpected totals %+v", totals)
	}
	if f.ledger.balance(recipient).Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("recipient not paid: %s", f.ledger.balance(recipient))
	}
	if f.ledger.balance(VaultAddress).Sign() != 0 {
		t.Fatalf("vault should be empty: %s", f.ledger.balance(VaultAddress))
	}
	esc, _, _ = f.engine.Escrow(id)
	if !esc.Released || esc.Refunded || esc.Status() != "released" {
		t.Fatalf("unexpected flags %+v", esc)
	}
	want := []string{EventTypeEscrowCreated, EventTypeVerifierRegistered, EventTypeEscrowConditionFulfilled, EventTypeEscrowReleased}
	if got := f.emitter.eventTypes(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected events %v", got)
	}
	f.assertHeldInvariant(t)
}

func TestReleaseWithoutFulfillmentLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, 1000, []string{"enroll"}, 100)
	f.engine.RegisterConditionVerifier(admin, "enroll", verifier)
	before := f.snapshot()
	if err := f.engine.ReleaseFunds(recipient, id); !errors.Is(err, ErrConditionsNotMet) {
		t.Fatalf("expected ErrConditionsNotMet, got %v", err)
	}
	if after := f.snapshot(); after != before {
		t.Fatalf("state changed on failed release:\n%s\n%s", before, after)
	}
	bal, ok, _ := f.engine.Balance(id)
	if !ok || bal.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("balance should remain 1000, got %v", bal)
	}
}

func TestRefundAfterExpiry(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, 1000, []string{"enroll"}, 100)
	f.height = 199
	if err := f.engine.RefundFunds(donor, id); !errors.Is(err, ErrEscrowActive) {
		t.Fatalf("expected ErrEscrowActive before expiry, got %v", err)
	}
	f.height = 201
	if err := f.engine.RefundFunds(donor, id); err != nil {
		t.Fatalf("refund: %v", err)
	}
	totals, _ := f.engine.Totals()
	if totals.Refunded.Cmp(big.NewInt(1000)) != 0 || totals.Released.Sign() != 0 {
		t.Fatalf("unexpected totals %+v", totals)
	}
	if f.ledger.balance(donor).Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("donor not made whole: %s", f.ledger.balance(donor))
	}
	if err := f.engine.ReleaseFunds(recipient, id); !errors.Is(err, ErrNoFunds) {
		t.Fatalf("expected ErrNoFunds on release after refund, got %v", err)
	}
	if err := f.engine.RefundFunds(donor, id); !errors.Is(err, ErrNoFunds) {
		t.Fatalf("expected ErrNoFunds on second refund, got %v", err)
	}
	f.assertHeldInvariant(t)
}

func TestExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	f.engine.RegisterConditionVerifier(admin, "enroll", verifier)
	id := f.create(t, 500, []string{"enroll"}, 100)

	f.height = 200
	if err := f.engine.FulfillCondition(verifier, id, "enroll"); err != nil {
		t.Fatalf("fulfillment at expiry height should succeed: %v", err)
	}
	f.height = 201
	if err := f.engine.ReleaseFunds(recipient, id); !errors.Is(err, ErrEscrowExpired) {
		t.Fatalf("expected ErrEscrowExpired past expiry, got %v", err)
	}

	other := f.create(t, 500, nil, 100) // created at 201, expires 301
	f.height = 301
	if err := f.engine.RefundFunds(donor, other); err != nil {
		t.Fatalf("refund at expiry height should succeed: %v", err)
	}
}

func TestFulfillmentRules(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, 1000, []string{"enroll", "attend"}, 100)

	if err := f.engine.FulfillCondition(verifier, 99, "enroll"); !errors.Is(err, ErrEscrowNotFound) {
		t.Fatalf("expected ErrEscrowNotFound, got %v", err)
	}
	if err := f.engine.FulfillCondition(verifier, id, "enroll"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unregistered condition must be unauthorized, got %v", err)
	}
	f.engine.RegisterConditionVerifier(admin, "enroll", verifier)
	if err := f.engine.FulfillCondition(stranger, id, "enroll"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for stranger, got %v", err)
	}
	if _, ok, _ := f.engine.ConditionFulfilled(id, "enroll"); ok {
		t.Fatalf("fact must not be set by unauthorized caller")
	}

	f.engine.RegisterConditionVerifier(admin, "unlisted", verifier)
	if err := f.engine.FulfillCondition(verifier, id, "unlisted"); err != nil {
		t.Fatalf("unlisted condition fulfillment should be stored: %v", err)
	}
	if fulfilled, ok, _ := f.engine.ConditionFulfilled(id, "unlisted"); !ok || !fulfilled {
		t.Fatalf("expected unlisted fact to be recorded")
	}

	if err := f.engine.FulfillCondition(verifier, id, "enroll"); err != nil {
		t.Fatalf("fulfill enroll: %v", err)
	}
	if err := f.engine.ReleaseFunds(recipient, id); !errors.Is(err, ErrConditionsNotMet) {
		t.Fatalf("attend still pending, got %v", err)
	}
	statuses, ok, _ := f.engine.ConditionStatuses(id)
	if !ok || len(statuses) != 2 || !statuses[0].Fulfilled || statuses[1].Fulfilled {
		t.Fatalf("unexpected statuses %+v", statuses)
	}

	f.height = 201
	f.engine.RegisterConditionVerifier(admin, "attend", verifier)
	if err := f.engine.FulfillCondition(verifier, id, "attend"); !errors.Is(err, ErrEscrowExpired) {
		t.Fatalf("expected ErrEscrowExpired, got %v", err)
	}
}

func TestFulfillAfterSettlement(t *testing.T) {
	f := newFixture(t)
	f.engine.RegisterConditionVerifier(admin, "enroll", verifier)
	id := f.create(t, 1000, nil, 100)
	if err := f.engine.ReleaseFunds(recipient, id); err != nil {
		t.Fatalf("release with no conditions: %v", err)
	}
	if err := f.engine.FulfillCondition(verifier, id, "enroll"); !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("expected ErrAlreadyReleased, got %v", err)
	}
}

func TestVerifierReassignmentKeepsFacts(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, 1000, []string{"enroll"}, 100)
	f.engine.RegisterConditionVerifier(admin, "enroll", verifier)
	if err := f.engine.FulfillCondition(verifier, id, "enroll"); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	f.engine.RegisterConditionVerifier(admin, "enroll", stranger)
	if got, ok, _ := f.engine.Verifier("enroll"); !ok || got != stranger {
		t.Fatalf("verifier not replaced")
	}
	if err := f.engine.FulfillCondition(verifier, id, "enroll"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old verifier should be rejected, got %v", err)
	}
	if err := f.engine.ReleaseFunds(recipient, id); err != nil {
		t.Fatalf("earlier fact should still satisfy release: %v", err)
	}
}

func TestReleaseAuthorization(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, 100, nil, 100)
	second := f.create(t, 200, nil, 100)
	if err := f.engine.ReleaseFunds(stranger, first); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.ReleaseFunds(donor, first); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("donor cannot release, got %v", err)
	}
	if err := f.engine.ReleaseFunds(admin, first); err != nil {
		t.Fatalf("admin release: %v", err)
	}
	if err := f.engine.ReleaseFunds(recipient, second); err != nil {
		t.Fatalf("recipient release: %v", err)
	}
	if err := f.engine.ReleaseFunds(recipient, 42); !errors.Is(err, ErrEscrowNotFound) {
		t.Fatalf("expected ErrEscrowNotFound, got %v", err)
	}
	totals, _ := f.engine.Totals()
	if totals.Released.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("unexpected released total %s", totals.Released)
	}
}

func TestRefundAuthorization(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, 100, nil, 10)
	f.height = 500
	for _, caller := range [][20]byte{admin, recipient, stranger} {
		if err := f.engine.RefundFunds(caller, id); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("caller %x: expected ErrUnauthorized, got %v", caller[:1], err)
		}
	}
	if err := f.engine.RefundFunds(donor, 7); !errors.Is(err, ErrEscrowNotFound) {
		t.Fatalf("expected ErrEscrowNotFound, got %v", err)
	}
}

func TestCreateValidationOrder(t *testing.T) {
	tooMany := []string{"a", "b", "c", "d", "e", "f"}
	longCondition := strings.Repeat("c", MaxConditionLen+1)
	longMetadata := strings.Repeat("m", MaxMetadataLen+1)
	cases := []struct {
		name       string
		paused     bool
		recipient  [20]byte
		amount     *big.Int
		conditions []string
		metadata   string
		duration   uint64
		want       error
	}{
		{"paused wins", true, donor, big.NewInt(0), tooMany, longMetadata, 0, ErrPaused},
		{"zero amount", false, donor, big.NewInt(0), tooMany, longMetadata, 0, ErrInvalidAmount},
		{"nil amount", false, recipient, nil, nil, "", 1, ErrInvalidAmount},
		{"negative amount", false, recipient, big.NewInt(-5), nil, "", 1, ErrInvalidAmount},
		{"self recipient", false, donor, big.NewInt(1), tooMany, longMetadata, 0, ErrInvalidRecipient},
		{"too many conditions", false, recipient, big.NewInt(1), tooMany, longMetadata, 0, ErrMaxConditionsExceeded},
		{"long condition", false, recipient, big.NewInt(1), []string{longCondition}, longMetadata, 0, ErrInvalidCondition},
		{"long metadata", false, recipient, big.NewInt(1), nil, longMetadata, 0, ErrInvalidMetadata},
		{"zero duration", false, recipient, big.NewInt(1), nil, "", 0, ErrInvalidDuration},
		{"overflowing duration", false, recipient, big.NewInt(1), nil, "", ^uint64(0), ErrInvalidDuration},
		{"insufficient funds", false, recipient, big.NewInt(1_000_000), nil, "", 1, ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.state.paused = tc.paused
			before := f.snapshot()
			_, err := f.engine.CreateEscrow(donor, tc.recipient, tc.amount, tc.conditions, tc.metadata, tc.duration, nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if after := f.snapshot(); after != before {
				t.Fatalf("failed create mutated state")
			}
			if len(f.emitter.events) != 0 {
				t.Fatalf("failed create emitted events")
			}
		})
	}
}

func TestCreateAcceptsLimitsExactly(t *testing.T) {
	f := newFixture(t)
	conditions := []string{strings.Repeat("é", MaxConditionLen), "b", "c", "d", "e"}
	metadata := strings.Repeat("ü", MaxMetadataLen)
	id, err := f.engine.CreateEscrow(donor, recipient, big.NewInt(1), conditions, metadata, 1, nil)
	if err != nil {
		t.Fatalf("limits should be inclusive: %v", err)
	}
	esc, _, _ := f.engine.Escrow(id)
	if esc.Metadata != metadata || len(esc.Conditions) != MaxConditions {
		t.Fatalf("record not stored verbatim")
	}
}

func TestCreateStoresInputsVerbatim(t *testing.T) {
	f := newFixture(t)
	auditors := [][20]byte{stranger, stranger, admin, verifier}
	conditions := []string{"dup", "dup", "nobody-verifies-this"}
	id, err := f.engine.CreateEscrow(donor, recipient, big.NewInt(10), conditions, "", 5, auditors)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stored, ok, _ := f.engine.Auditors(id)
	if !ok || len(stored) != 4 {
		t.Fatalf("creation auditors must be stored without cap, got %d", len(stored))
	}
	if err := f.engine.AddAuditor(donor, id, admin); !errors.Is(err, ErrMaxConditionsExceeded) {
		t.Fatalf("expected cap error for list already above limit, got %v", err)
	}
	esc, _, _ := f.engine.Escrow(id)
	if strings.Join(esc.Conditions, ",") != "dup,dup,nobody-verifies-this" {
		t.Fatalf("conditions not stored verbatim: %v", esc.Conditions)
	}
	auditors[0] = donor
	if again, _, _ := f.engine.Auditors(id); again[0] != stranger {
		t.Fatalf("stored auditors alias caller slice")
	}
	second := f.create(t, 1, nil, 1)
	if second != id+1 {
		t.Fatalf("ids must be sequential, got %d after %d", second, id)
	}
}

func TestAddAuditorCap(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, 100, nil, 10)
	if err := f.engine.AddAuditor(recipient, id, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.AddAuditor(donor, 9, stranger); !errors.Is(err, ErrEscrowNotFound) {
		t.Fatalf("expected ErrEscrowNotFound, got %v", err)
	}
	for i := 0; i < MaxAuditors; i++ {
		if err := f.engine.AddAuditor(donor, id, stranger); err != nil {
			t.Fatalf("add auditor %d: %v", i, err)
		}
	}
	if err := f.engine.AddAuditor(donor, id, stranger); !errors.Is(err, ErrMaxConditionsExceeded) {
		t.Fatalf("expected ErrMaxConditionsExceeded on fourth add, got %v", err)
	}
	list, ok, _ := f.engine.Auditors(id)
	if !ok || len(list) != MaxAuditors {
		t.Fatalf("unexpected auditor list %v", list)
	}
}

func TestAddAuditorAfterSettlement(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, 100, nil, 10)
	if err := f.engine.ReleaseFunds(recipient, id); err != nil {
		t.Fatalf("release: %v", err)
	}
	f.state.paused = true
	if err := f.engine.AddAuditor(donor, id, stranger); err != nil {
		t.Fatalf("auditors may be added after settlement and while paused: %v", err)
	}
}

func TestPauseGates(t *testing.T) {
	f := newFixture(t)
	f.engine.RegisterConditionVerifier(admin, "enroll", verifier)
	id := f.create(t, 1000, []string{"enroll"}, 100)
	expiring := f.create(t, 1000, nil, 1)

	if err := f.engine.Pause(stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.Pause(admin); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := f.engine.CreateEscrow(donor, recipient, big.NewInt(1), nil, "", 1, nil); !errors.Is(err, ErrPaused) {
		t.Fatalf("create should be paused, got %v", err)
	}
	if err := f.engine.FulfillCondition(verifier, id, "enroll"); err != nil {
		t.Fatalf("fulfillment must not be paused: %v", err)
	}
	if err := f.engine.ReleaseFunds(recipient, id); !errors.Is(err, ErrPaused) {
		t.Fatalf("release should be paused, got %v", err)
	}
	f.height = 150
	if err := f.engine.RefundFunds(donor, expiring); !errors.Is(err, ErrPaused) {
		t.Fatalf("refund should be paused, got %v", err)
	}
	if paused, _ := f.engine.Paused(); !paused {
		t.Fatalf("expected paused flag")
	}
	if _, ok, err := f.engine.Escrow(id); !ok || err != nil {
		t.Fatalf("reads must work while paused")
	}
	if err := f.engine.Unpause(admin); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := f.engine.RefundFunds(donor, expiring); err != nil {
		t.Fatalf("refund after unpause: %v", err)
	}
	f.height = 120
	if err := f.engine.ReleaseFunds(recipient, id); err != nil {
		t.Fatalf("release after unpause: %v", err)
	}
}

func TestAdminOperations(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.SetAdmin(stranger, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.RegisterConditionVerifier(stranger, "enroll", verifier); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.RegisterConditionVerifier(admin, strings.Repeat("x", MaxConditionLen+1), verifier); !errors.Is(err, ErrInvalidCondition) {
		t.Fatalf("expected ErrInvalidCondition, got %v", err)
	}
	if err := f.engine.SetAdmin(admin, stranger); err != nil {
		t.Fatalf("set admin: %v", err)
	}
	if got, ok, _ := f.engine.Admin(); !ok || got != stranger {
		t.Fatalf("admin not updated")
	}
	if err := f.engine.Pause(admin); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("previous admin must lose rights, got %v", err)
	}
	if err := f.engine.Pause(stranger); err != nil {
		t.Fatalf("new admin pause: %v", err)
	}
}

func TestUninitialisedAdminRejectsEveryone(t *testing.T) {
	engine := NewEngine()
	engine.SetState(newMockState())
	if err := engine.Pause([20]byte{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without admin, got %v", err)
	}
	if _, ok, _ := engine.Admin(); ok {
		t.Fatalf("admin should be absent")
	}
}

func TestFailedTransferLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, 1000, nil, 100)
	f.ledger.fail = errors.New("ledger offline")
	before := f.snapshot()
	if err := f.engine.ReleaseFunds(recipient, id); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := f.engine.CreateEscrow(donor, recipient, big.NewInt(1), nil, "", 1, nil); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if after := f.snapshot(); after != before {
		t.Fatalf("failed transfer mutated state")
	}
	f.ledger.fail = nil
	if err := f.engine.ReleaseFunds(recipient, id); err != nil {
		t.Fatalf("retry release: %v", err)
	}
}

func TestReadAccessorsReportAbsence(t *testing.T) {
	f := newFixture(t)
	if _, ok, err := f.engine.Escrow(1); ok || err != nil {
		t.Fatalf("missing escrow should be absent without error")
	}
	if _, ok, err := f.engine.Balance(1); ok || err != nil {
		t.Fatalf("missing balance should be absent")
	}
	if _, ok, err := f.engine.Verifier("enroll"); ok || err != nil {
		t.Fatalf("missing verifier should be absent")
	}
	if _, ok, err := f.engine.Auditors(1); ok || err != nil {
		t.Fatalf("missing auditors should be absent")
	}
	if _, ok, err := f.engine.ConditionStatuses(1); ok || err != nil {
		t.Fatalf("missing statuses should be absent")
	}
	totals, err := f.engine.Totals()
	if err != nil || totals.Escrows != 0 || totals.Released.Sign() != 0 {
		t.Fatalf("unexpected empty totals %+v %v", totals, err)
	}
}

func TestConservationAcrossMixedSettlements(t *testing.T) {
	f := newFixture(t)
	amounts := []int64{100, 200, 300, 400}
	for _, amt := range amounts {
		f.create(t, amt, nil, 50)
	}
	f.engine.ReleaseFunds(recipient, 1)
	f.engine.ReleaseFunds(admin, 3)
	f.height = 150
	f.engine.RefundFunds(donor, 2)
	totals, _ := f.engine.Totals()
	if totals.Released.Cmp(big.NewInt(400)) != 0 || totals.Refunded.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected totals %+v", totals)
	}
	if f.ledger.balance(VaultAddress).Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("vault should only hold the open escrow: %s", f.ledger.balance(VaultAddress))
	}
	f.assertHeldInvariant(t)
}

func TestUnconfiguredEngine(t *testing.T) {
	engine := NewEngine()
	if _, err := engine.CreateEscrow(donor, recipient, big.NewInt(1), nil, "", 1, nil); err == nil {
		t.Fatalf("expected error without state")
	}
	if _, _, err := engine.Escrow(1); err == nil {
		t.Fatalf("expected error without state")
	}
}
