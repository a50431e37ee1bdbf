package state

import "encoding/binary"

var (
	accountBalancePrefix = []byte("account/balance/")
	accountNoncePrefix   = []byte("account/nonce/")

	escrowAdminKey         = []byte("escrow/config/admin")
	escrowPausedKey        = []byte("escrow/config/paused")
	escrowTotalsKey        = []byte("escrow/totals")
	escrowRecordPrefix     = []byte("escrow/record/")
	escrowBalancePrefix    = []byte("escrow/balance/")
	escrowVerifierPrefix   = []byte("escrow/verifier/")
	escrowFulfilledPrefix  = []byte("escrow/fulfilled/")
	escrowAuditorsPrefix   = []byte("escrow/auditors/")
	chainHeightKey         = []byte("chain/height")
	chainGenesisAppliedKey = []byte("chain/genesis")
)

func addressKey(prefix []byte, addr [20]byte) []byte {
	buf := make([]byte, len(prefix)+len(addr))
	copy(buf, prefix)
	copy(buf[len(prefix):], addr[:])
	return buf
}

func idKey(prefix []byte, id uint64) []byte {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], id)
	return buf
}

func stringKey(prefix []byte, value string) []byte {
	buf := make([]byte, len(prefix)+len(value))
	copy(buf, prefix)
	copy(buf[len(prefix):], value)
	return buf
}

// fulfillmentKey is prefix | id | 0x00 | condition. The separator keeps
// (1, "x") and (0x0100.., "") from colliding.
func fulfillmentKey(id uint64, condition string) []byte {
	base := idKey(escrowFulfilledPrefix, id)
	buf := make([]byte, len(base)+1+len(condition))
	copy(buf, base)
	buf[len(base)] = 0
	copy(buf[len(base)+1:], condition)
	return buf
}
