package swap

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// Lock ids commit to the full parameter tuple of a swap leg. The preimage is
// a fixed-width concatenation, so no two distinct tuples can serialise to the
// same bytes:
//
//	native: 0x00 | sender(20) | recipient(20) | hashedSecret(32) | timeout(8, BE)
//	token:  0x01 | token(20) | sender(20) | recipient(20) | hashedSecret(32) | timeout(8, BE)
//
// The leading domain byte keeps the native form distinct from a token form
// even for a token id that happens to be all zeroes.
const (
	lockDomainNative = 0x00
	lockDomainToken  = 0x01
)

// NativeLockID derives the id of a native-asset lock.
func NativeLockID(h Hasher, sender, recipient common.Address, hashedSecret common.Hash, timeout uint64) common.Hash {
	buf := make([]byte, 0, 1+2*common.AddressLength+common.HashLength+8)
	buf = append(buf, lockDomainNative)
	buf = append(buf, sender.Bytes()...)
	buf = append(buf, recipient.Bytes()...)
	buf = append(buf, hashedSecret.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, timeout)
	return h.Sum(buf)
}

// TokenLockID derives the id of a token lock.
func TokenLockID(h Hasher, token common.Address, sender, recipient common.Address, hashedSecret common.Hash, timeout uint64) common.Hash {
	buf := make([]byte, 0, 1+3*common.AddressLength+common.HashLength+8)
	buf = append(buf, lockDomainToken)
	buf = append(buf, token.Bytes()...)
	buf = append(buf, sender.Bytes()...)
	buf = append(buf, recipient.Bytes()...)
	buf = append(buf, hashedSecret.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, timeout)
	return h.Sum(buf)
}

// LockID derives the canonical lock id, dispatching on the reserved native
// token sentinel.
func (e *Engine) LockID(token common.Address, sender, recipient common.Address, hashedSecret common.Hash, timeout uint64) common.Hash {
	if token == NativeToken {
		return NativeLockID(e.hasher, sender, recipient, hashedSecret, timeout)
	}
	return TokenLockID(e.hasher, token, sender, recipient, hashedSecret, timeout)
}
