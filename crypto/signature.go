package crypto

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of a recoverable secp256k1 signature [R || S || V].
const SignatureLength = crypto.SignatureLength

var ErrInvalidSignature = errors.New("crypto: invalid signature")

// RequestDigest computes the digest signed by callers of mutating ledger
// methods: keccak256(method || 0x00 || payload || nonce big-endian).
func RequestDigest(method string, payload []byte, nonce uint64) []byte {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	return crypto.Keccak256([]byte(method), []byte{0}, payload, nonceBytes[:])
}

// SignRequest signs the request digest with the supplied key.
func SignRequest(key *PrivateKey, method string, payload []byte, nonce uint64) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	return crypto.Sign(RequestDigest(method, payload, nonce), key.PrivateKey)
}

// RecoverRequestSigner returns the address that produced signature over the
// request digest.
func RecoverRequestSigner(method string, payload []byte, nonce uint64, signature []byte) (Address, error) {
	if len(signature) != SignatureLength {
		return Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(signature))
	}
	pub, err := crypto.SigToPub(RequestDigest(method, payload, nonce), signature)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return Address(crypto.PubkeyToAddress(*pub)), nil
}
