package modules

import (
	"net/http"

	"escrowledger/native/escrow"
)

const (
	codeInvalidParams = -32602
	codeServerError   = -32000

	// EscrowCodeBase offsets escrow error kinds into the JSON-RPC server error
	// range: kind n is reported as EscrowCodeBase - n.
	EscrowCodeBase = -32100
)

type ModuleError struct {
	HTTPStatus int
	Code       int
	Message    string
	Data       interface{}
}

func (e *ModuleError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

var errModuleOffline = &ModuleError{HTTPStatus: http.StatusServiceUnavailable, Code: codeServerError, Message: "ledger not initialised"}

func invalidParams(message string, data interface{}) *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: message, Data: data}
}

// EscrowErrorCode returns the JSON-RPC code for an escrow error kind.
func EscrowErrorCode(code escrow.Code) int {
	return EscrowCodeBase - int(code)
}

// EscrowKindFromCode is the inverse of EscrowErrorCode.
func EscrowKindFromCode(rpcCode int) (escrow.Code, bool) {
	n := EscrowCodeBase - rpcCode
	if n <= 0 || n > 255 {
		return 0, false
	}
	code := escrow.Code(n)
	if code.Err() == nil {
		return 0, false
	}
	return code, true
}

// ledgerError converts a ledger failure into its wire form. Escrow error kinds
// keep their name as the message; anything else is an internal error.
func ledgerError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	code, ok := escrow.CodeOf(err)
	if !ok {
		return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "internal error", Data: err.Error()}
	}
	status := http.StatusConflict
	switch code {
	case escrow.CodeUnauthorized:
		status = http.StatusForbidden
	case escrow.CodeEscrowNotFound:
		status = http.StatusNotFound
	case escrow.CodeInvalidAmount, escrow.CodeInvalidRecipient, escrow.CodeInvalidDuration,
		escrow.CodeInvalidCondition, escrow.CodeInvalidMetadata:
		status = http.StatusBadRequest
	}
	return &ModuleError{HTTPStatus: status, Code: EscrowErrorCode(code), Message: code.String()}
}
