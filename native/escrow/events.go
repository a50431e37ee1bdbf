package escrow

import (
	"math/big"
	"strconv"
	"strings"

	"escrowledger/core/types"
	"escrowledger/crypto"
)

const (
	EventTypeEscrowCreated            = "escrow.created"
	EventTypeEscrowConditionFulfilled = "escrow.condition_fulfilled"
	EventTypeEscrowReleased           = "escrow.released"
	EventTypeEscrowRefunded           = "escrow.refunded"
	EventTypeEscrowAuditorAdded       = "escrow.auditor_added"
	EventTypeAdminChanged             = "escrow.admin_changed"
	EventTypePaused                   = "escrow.paused"
	EventTypeUnpaused                 = "escrow.unpaused"
	EventTypeVerifierRegistered       = "escrow.verifier_registered"
)

// EventTypes lists every event type the engine emits.
func EventTypes() []string {
	return []string{
		EventTypeEscrowCreated,
		EventTypeEscrowConditionFulfilled,
		EventTypeEscrowReleased,
		EventTypeEscrowRefunded,
		EventTypeEscrowAuditorAdded,
		EventTypeAdminChanged,
		EventTypePaused,
		EventTypeUnpaused,
		EventTypeVerifierRegistered,
	}
}

// NewCreatedEvent returns the canonical event payload for a newly created
// escrow.
func NewCreatedEvent(e *Escrow, auditorCount int) *types.Event {
	if e == nil {
		return newEscrowEvent(EventTypeEscrowCreated, nil, 0)
	}
	evt := newEscrowEvent(EventTypeEscrowCreated, e, e.CreatedAt)
	evt.Attributes["conditions"] = strings.Join(e.Conditions, ",")
	evt.Attributes["expiresAt"] = strconv.FormatUint(e.ExpiresAt, 10)
	evt.Attributes["auditors"] = strconv.Itoa(auditorCount)
	return evt
}

// NewReleasedEvent returns the payload for a release of escrow funds to the
// recipient. Caller is either the recipient or the admin.
func NewReleasedEvent(e *Escrow, paid *big.Int, caller [20]byte, height uint64) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowReleased, e, height)
	evt.Attributes["paid"] = amountString(paid)
	evt.Attributes["caller"] = addressString(caller)
	return evt
}

// NewRefundedEvent returns the payload for an escrow refund to the donor.
func NewRefundedEvent(e *Escrow, paid *big.Int, height uint64) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowRefunded, e, height)
	evt.Attributes["paid"] = amountString(paid)
	return evt
}

// NewConditionFulfilledEvent returns the payload for a verifier attestation.
func NewConditionFulfilledEvent(id uint64, condition string, verifier [20]byte, height uint64) *types.Event {
	return &types.Event{Type: EventTypeEscrowConditionFulfilled, Attributes: map[string]string{
		"id":        strconv.FormatUint(id, 10),
		"condition": condition,
		"verifier":  addressString(verifier),
		"height":    strconv.FormatUint(height, 10),
	}}
}

// NewAuditorAddedEvent returns the payload emitted when the donor appends an
// auditor.
func NewAuditorAddedEvent(id uint64, auditor [20]byte, count int, height uint64) *types.Event {
	return &types.Event{Type: EventTypeEscrowAuditorAdded, Attributes: map[string]string{
		"id":       strconv.FormatUint(id, 10),
		"auditor":  addressString(auditor),
		"auditors": strconv.Itoa(count),
		"height":   strconv.FormatUint(height, 10),
	}}
}

func NewAdminChangedEvent(previous, next [20]byte, height uint64) *types.Event {
	return &types.Event{Type: EventTypeAdminChanged, Attributes: map[string]string{
		"previous": addressString(previous),
		"admin":    addressString(next),
		"height":   strconv.FormatUint(height, 10),
	}}
}

func NewPauseChangedEvent(admin [20]byte, paused bool, height uint64) *types.Event {
	eventType := EventTypeUnpaused
	if paused {
		eventType = EventTypePaused
	}
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"admin":  addressString(admin),
		"height": strconv.FormatUint(height, 10),
	}}
}

func NewVerifierRegisteredEvent(condition string, verifier [20]byte, height uint64) *types.Event {
	return &types.Event{Type: EventTypeVerifierRegistered, Attributes: map[string]string{
		"condition": condition,
		"verifier":  addressString(verifier),
		"height":    strconv.FormatUint(height, 10),
	}}
}

func newEscrowEvent(eventType string, e *Escrow, height uint64) *types.Event {
	attrs := make(map[string]string)
	attrs["height"] = strconv.FormatUint(height, 10)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(e.ID, 10)
	attrs["donor"] = addressString(e.Donor)
	attrs["recipient"] = addressString(e.Recipient)
	attrs["amount"] = amountString(e.Amount)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func addressString(addr [20]byte) string { return crypto.Address(addr).String() }

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
