package escrow

import "math/big"

// The accessors below never fail on a missing key: the boolean result reports
// presence so callers can tell "exists with value" apart from "not found".

// Escrow returns a copy of the escrow record.
func (e *Engine) Escrow(id uint64) (*Escrow, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	esc, ok, err := e.state.EscrowGet(id)
	if err != nil || !ok {
		return nil, false, err
	}
	return esc.Clone(), true, nil
}

// Balance returns the amount still held for the escrow. Absent once settled.
func (e *Engine) Balance(id uint64) (*big.Int, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	balance, ok, err := e.state.EscrowBalance(id)
	if err != nil || !ok {
		return nil, false, err
	}
	return new(big.Int).Set(balance), true, nil
}

// ConditionFulfilled returns the fulfillment fact recorded for the pair. Facts
// are only ever recorded as true, so a present fact is always fulfilled.
func (e *Engine) ConditionFulfilled(id uint64, condition string) (bool, bool, error) {
	if err := e.ready(); err != nil {
		return false, false, err
	}
	fulfilled, err := e.state.EscrowConditionFulfilled(id, condition)
	if err != nil || !fulfilled {
		return false, false, err
	}
	return true, true, nil
}

// ConditionStatuses pairs each condition listed on the escrow with its fact.
func (e *Engine) ConditionStatuses(id uint64) ([]ConditionStatus, bool, error) {
	esc, ok, err := e.Escrow(id)
	if err != nil || !ok {
		return nil, false, err
	}
	out := make([]ConditionStatus, 0, len(esc.Conditions))
	for _, condition := range esc.Conditions {
		fulfilled, err := e.state.EscrowConditionFulfilled(id, condition)
		if err != nil {
			return nil, false, err
		}
		out = append(out, ConditionStatus{Condition: condition, Fulfilled: fulfilled})
	}
	return out, true, nil
}

// Verifier returns the identity registered for condition.
func (e *Engine) Verifier(condition string) ([20]byte, bool, error) {
	if err := e.ready(); err != nil {
		return [20]byte{}, false, err
	}
	return e.state.EscrowVerifier(condition)
}

// Totals returns the running counters.
func (e *Engine) Totals() (*Totals, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	totals, err := e.state.EscrowTotals()
	if err != nil {
		return nil, err
	}
	return totals.Clone(), nil
}

func (e *Engine) Paused() (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.state.EscrowPaused()
}

// Admin returns the administrator identity, absent before initialisation.
func (e *Engine) Admin() ([20]byte, bool, error) {
	if err := e.ready(); err != nil {
		return [20]byte{}, false, err
	}
	return e.state.EscrowAdmin()
}

// Auditors returns the auditor list of the escrow in insertion order.
func (e *Engine) Auditors(id uint64) ([][20]byte, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	auditors, ok, err := e.state.EscrowAuditors(id)
	if err != nil || !ok {
		return nil, false, err
	}
	return append([][20]byte(nil), auditors...), true, nil
}
