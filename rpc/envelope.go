package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"escrowledger/core"
	"escrowledger/crypto"
	"escrowledger/native/escrow"
	"escrowledger/rpc/modules"
)

// SignedEnvelope wraps the arguments of a mutating method. Signature is the
// hex encoded recoverable secp256k1 signature over
// crypto.RequestDigest(method, Args, Nonce), with Args taken byte for byte as
// received.
type SignedEnvelope struct {
	Caller    string          `json:"caller"`
	Nonce     uint64          `json:"nonce"`
	Signature string          `json:"signature"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// openEnvelope authenticates a signed call and consumes its nonce. The nonce
// is only consumed once the signature checks out, so forged requests cannot
// burn another account's sequence.
func (s *Server) openEnvelope(method string, raw json.RawMessage) ([20]byte, json.RawMessage, *modules.ModuleError) {
	var env SignedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return [20]byte{}, nil, &modules.ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid signed envelope", Data: err.Error()}
	}
	caller, err := crypto.ParseAddress(env.Caller)
	if err != nil {
		return [20]byte{}, nil, &modules.ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid caller", Data: err.Error()}
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(env.Signature), "0x"))
	if err != nil || len(sig) != crypto.SignatureLength {
		return [20]byte{}, nil, &modules.ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid signature encoding"}
	}
	signer, err := crypto.RecoverRequestSigner(method, env.Args, env.Nonce, sig)
	if err != nil || signer != caller {
		return [20]byte{}, nil, &modules.ModuleError{
			HTTPStatus: http.StatusForbidden,
			Code:       modules.EscrowErrorCode(escrow.CodeUnauthorized),
			Message:    escrow.CodeUnauthorized.String(),
			Data:       "signature does not match caller",
		}
	}
	if err := s.node.ConsumeNonce(caller, env.Nonce); err != nil {
		if errors.Is(err, core.ErrNonceReused) {
			return [20]byte{}, nil, &modules.ModuleError{HTTPStatus: http.StatusConflict, Code: codeNonceRejected, Message: "nonce already used", Data: err.Error()}
		}
		return [20]byte{}, nil, &modules.ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "nonce bookkeeping failed", Data: err.Error()}
	}
	return caller, env.Args, nil
}
