package escrow

import (
	"math/big"
	"unicode/utf8"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// MaxConditions bounds the release conditions attached to one escrow.
	MaxConditions = 5
	// MaxConditionLen bounds a condition name, counted in code points.
	MaxConditionLen = 100
	// MaxMetadataLen bounds the free-text description, counted in code points.
	MaxMetadataLen = 500
	// MaxAuditors bounds the auditors appended through AddAuditor.
	MaxAuditors = 3
)

// VaultAddress is the custody account holding funds of every open escrow.
var VaultAddress = deriveModuleAddress("escrow/vault")

func deriveModuleAddress(label string) [20]byte {
	var out [20]byte
	copy(out[:], ethcrypto.Keccak256([]byte(label))[12:])
	return out
}

// Escrow is the persisted record of a single conditional-release agreement.
// Amount is fixed at creation. Released and Refunded are terminal and mutually
// exclusive.
type Escrow struct {
	ID         uint64
	Donor      [20]byte
	Recipient  [20]byte
	Amount     *big.Int
	Conditions []string
	Metadata   string
	CreatedAt  uint64
	ExpiresAt  uint64
	Released   bool
	Refunded   bool
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	clone.Conditions = append([]string(nil), e.Conditions...)
	return &clone
}

// Settled reports whether the escrow reached a terminal state.
func (e *Escrow) Settled() bool {
	return e != nil && (e.Released || e.Refunded)
}

// Expired reports whether now lies strictly past the expiry height.
func (e *Escrow) Expired(now uint64) bool {
	return e != nil && now > e.ExpiresAt
}

// Status renders the lifecycle state for display.
func (e *Escrow) Status() string {
	switch {
	case e == nil:
		return ""
	case e.Released:
		return "released"
	case e.Refunded:
		return "refunded"
	default:
		return "open"
	}
}

// Totals holds the ledger-wide running counters.
type Totals struct {
	Escrows  uint64
	Released *big.Int
	Refunded *big.Int
}

// Clone returns a deep copy with non-nil amounts.
func (t *Totals) Clone() *Totals {
	out := &Totals{Released: big.NewInt(0), Refunded: big.NewInt(0)}
	if t == nil {
		return out
	}
	out.Escrows = t.Escrows
	if t.Released != nil {
		out.Released.Set(t.Released)
	}
	if t.Refunded != nil {
		out.Refunded.Set(t.Refunded)
	}
	return out
}

// ConditionStatus pairs a listed condition with its fulfillment fact.
type ConditionStatus struct {
	Condition string
	Fulfilled bool
}

func textLen(s string) int { return utf8.RuneCountInString(s) }
