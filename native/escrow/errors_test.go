package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"escrowledger/crypto"
)

func TestCodeOfCoversEnumeration(t *testing.T) {
	codes := Codes()
	if len(codes) != 16 {
		t.Fatalf("expected 16 error kinds, got %d", len(codes))
	}
	seen := make(map[string]bool)
	for i, code := range codes {
		if uint8(code) != uint8(i+1) {
			t.Fatalf("codes must be dense and ordered, got %d at %d", code, i)
		}
		wrapped := fmt.Errorf("outer: %w", code.Err())
		got, ok := CodeOf(wrapped)
		if !ok || got != code {
			t.Fatalf("CodeOf(%v) = %v, %v", wrapped, got, ok)
		}
		if seen[code.String()] {
			t.Fatalf("duplicate kind name %s", code)
		}
		seen[code.String()] = true
	}
	if _, ok := CodeOf(errors.New("disk on fire")); ok {
		t.Fatalf("foreign errors must not map to a kind")
	}
	if CodeConditionsNotMet.String() != "ConditionsNotMet" {
		t.Fatalf("unexpected name %s", CodeConditionsNotMet)
	}
	if Code(200).Err() != nil || Code(200).String() != "Unknown" {
		t.Fatalf("unknown codes must not resolve")
	}
}

func TestEventAttributes(t *testing.T) {
	esc := &Escrow{
		ID:         3,
		Donor:      donor,
		Recipient:  recipient,
		Amount:     big.NewInt(750),
		Conditions: []string{"enroll", "attend"},
		CreatedAt:  10,
		ExpiresAt:  40,
	}
	created := NewCreatedEvent(esc, 2)
	if created.Type != EventTypeEscrowCreated {
		t.Fatalf("unexpected type %s", created.Type)
	}
	want := map[string]string{
		"id":         "3",
		"donor":      crypto.Address(donor).String(),
		"recipient":  crypto.Address(recipient).String(),
		"amount":     "750",
		"conditions": "enroll,attend",
		"expiresAt":  "40",
		"height":     "10",
		"auditors":   "2",
	}
	for key, value := range want {
		if created.Attributes[key] != value {
			t.Fatalf("attribute %s = %q, want %q", key, created.Attributes[key], value)
		}
	}
	released := NewReleasedEvent(esc, big.NewInt(750), admin, 12)
	if released.Attr("paid") != "750" || released.Attr("caller") != crypto.Address(admin).String() || released.Attr("height") != "12" {
		t.Fatalf("unexpected release attributes %v", released.Attributes)
	}
	if NewPauseChangedEvent(admin, false, 1).Type != EventTypeUnpaused {
		t.Fatalf("unpause event type mismatch")
	}
	if evt := NewCreatedEvent(nil, 0); evt.Type != EventTypeEscrowCreated || evt.Attr("id") != "" {
		t.Fatalf("nil escrow should yield bare event")
	}
}
