package escrow

import "errors"

// Every failed transition returns exactly one of these errors, possibly
// wrapped. Match with errors.Is.
var (
	ErrUnauthorized          = errors.New("escrow: unauthorized")
	ErrInvalidAmount         = errors.New("escrow: invalid amount")
	ErrInvalidRecipient      = errors.New("escrow: invalid recipient")
	ErrEscrowNotFound        = errors.New("escrow: escrow not found")
	ErrEscrowActive          = errors.New("escrow: escrow still active")
	ErrEscrowExpired         = errors.New("escrow: escrow expired")
	ErrConditionsNotMet      = errors.New("escrow: conditions not met")
	ErrAlreadyReleased       = errors.New("escrow: already settled")
	ErrPaused                = errors.New("escrow: paused")
	ErrInvalidDuration       = errors.New("escrow: invalid duration")
	ErrInvalidCondition      = errors.New("escrow: invalid condition")
	ErrMaxConditionsExceeded = errors.New("escrow: limit exceeded")
	ErrInvalidRefund         = errors.New("escrow: invalid refund")
	ErrNoFunds               = errors.New("escrow: no funds held")
	ErrInsufficientBalance   = errors.New("escrow: insufficient balance")
	ErrInvalidMetadata       = errors.New("escrow: invalid metadata")
)

var errNilState = errors.New("escrow engine: state not configured")

// Code is the stable numeric identifier of an escrow error kind. Codes are
// part of the RPC wire format and must not be renumbered.
type Code uint8

const (
	CodeUnauthorized Code = iota + 1
	CodeInvalidAmount
	CodeInvalidRecipient
	CodeEscrowNotFound
	CodeEscrowActive
	CodeEscrowExpired
	CodeConditionsNotMet
	CodeAlreadyReleased
	CodePaused
	CodeInvalidDuration
	CodeInvalidCondition
	CodeMaxConditionsExceeded
	CodeInvalidRefund
	CodeNoFunds
	CodeInsufficientBalance
	CodeInvalidMetadata
)

var errorKinds = []struct {
	err  error
	code Code
	name string
}{
	{ErrUnauthorized, CodeUnauthorized, "Unauthorized"},
	{ErrInvalidAmount, CodeInvalidAmount, "InvalidAmount"},
	{ErrInvalidRecipient, CodeInvalidRecipient, "InvalidRecipient"},
	{ErrEscrowNotFound, CodeEscrowNotFound, "EscrowNotFound"},
	{ErrEscrowActive, CodeEscrowActive, "EscrowActive"},
	{ErrEscrowExpired, CodeEscrowExpired, "EscrowExpired"},
	{ErrConditionsNotMet, CodeConditionsNotMet, "ConditionsNotMet"},
	{ErrAlreadyReleased, CodeAlreadyReleased, "AlreadyReleased"},
	{ErrPaused, CodePaused, "Paused"},
	{ErrInvalidDuration, CodeInvalidDuration, "InvalidDuration"},
	{ErrInvalidCondition, CodeInvalidCondition, "InvalidCondition"},
	{ErrMaxConditionsExceeded, CodeMaxConditionsExceeded, "MaxConditionsExceeded"},
	{ErrInvalidRefund, CodeInvalidRefund, "InvalidRefund"},
	{ErrNoFunds, CodeNoFunds, "NoFunds"},
	{ErrInsufficientBalance, CodeInsufficientBalance, "InsufficientBalance"},
	{ErrInvalidMetadata, CodeInvalidMetadata, "InvalidMetadata"},
}

// CodeOf maps err to its error kind. The boolean is false for errors outside
// the escrow enumeration, such as storage failures.
func CodeOf(err error) (Code, bool) {
	if err == nil {
		return 0, false
	}
	for _, kind := range errorKinds {
		if errors.Is(err, kind.err) {
			return kind.code, true
		}
	}
	return 0, false
}

// String returns the kind name, e.g. "ConditionsNotMet".
func (c Code) String() string {
	for _, kind := range errorKinds {
		if kind.code == c {
			return kind.name
		}
	}
	return "Unknown"
}

// Err returns the sentinel error for the code, or nil for unknown codes.
func (c Code) Err() error {
	for _, kind := range errorKinds {
		if kind.code == c {
			return kind.err
		}
	}
	return nil
}

// Codes lists every error kind in numeric order.
func Codes() []Code {
	out := make([]Code, 0, len(errorKinds))
	for _, kind := range errorKinds {
		out = append(out, kind.code)
	}
	return out
}
