package bank

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrOverflow            = errors.New("bank: balance overflow")
)

type accountState interface {
	AccountBalance(addr [20]byte) (*big.Int, error)
	SetAccountBalance(addr [20]byte, balance *big.Int) error
}

// Ledger moves value between account balances held in state. Amounts are
// bounded to 256 bits; arithmetic that would leave that range is rejected
// before any balance is written.
type Ledger struct {
	state accountState
}

// NewLedger binds a ledger to the supplied state view.
func NewLedger(state accountState) *Ledger {
	return &Ledger{state: state}
}

func (l *Ledger) load(addr [20]byte) (*uint256.Int, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("bank: state not configured")
	}
	raw, err := l.state.AccountBalance(addr)
	if err != nil {
		return nil, err
	}
	value, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}

// Balance returns the balance held by addr.
func (l *Ledger) Balance(addr [20]byte) (*big.Int, error) {
	value, err := l.load(addr)
	if err != nil {
		return nil, err
	}
	return value.ToBig(), nil
}

// Transfer debits from and credits to by amount. Both balances are validated
// before either is written, so a rejected transfer leaves state untouched.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	fromBal, err := l.load(from)
	if err != nil {
		return err
	}
	if fromBal.Lt(value) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal.Dec(), value.Dec())
	}
	if from == to {
		return nil
	}
	toBal, err := l.load(to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBal, value)
	if overflow {
		return ErrOverflow
	}
	debited := new(uint256.Int).Sub(fromBal, value)
	if err := l.state.SetAccountBalance(from, debited.ToBig()); err != nil {
		return err
	}
	return l.state.SetAccountBalance(to, credited.ToBig())
}

// Mint credits addr with newly issued value. Only genesis allocation uses it.
func (l *Ledger) Mint(addr [20]byte, amount *big.Int) error {
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	current, err := l.load(addr)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(current, value)
	if overflow {
		return ErrOverflow
	}
	return l.state.SetAccountBalance(addr, credited.ToBig())
}
