package swap

import (
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// NativeToken is the reserved token id for the chain's native asset. Native
// value never touches the external token ledger interface of the host; the
// configured Ledger routes it to the internal balance book instead.
var NativeToken = common.Address{}

// StashEntry is one row of the advertised-liquidity list for a
// (token, asset tag) pair.
type StashEntry struct {
	Owner  common.Address
	Amount *uint256.Int
}

// Ledger moves token value between accounts on behalf of the engine. A
// non-nil error aborts the surrounding operation.
type Ledger interface {
	// TransferFrom moves amount of token from the named account into to.
	TransferFrom(token, from, to common.Address, amount *uint256.Int) error
	// Transfer moves amount of token out of the engine's own holding.
	Transfer(token, to common.Address, amount *uint256.Int) error
}

// AccountDirectory answers which principal may act on behalf of an account.
// The zero address means no proxy is registered.
type AccountDirectory interface {
	ProxyOf(account common.Address) common.Address
}

// Hasher produces the 32-byte digests used for both hashed secrets and lock
// ids. Injectable so tests can substitute a transparent digest.
type Hasher interface {
	Sum(data []byte) common.Hash
}

// KeccakHasher is the production hasher.
type KeccakHasher struct{}

// Sum implements Hasher using Keccak-256.
func (KeccakHasher) Sum(data []byte) common.Hash {
	return ethcrypto.Keccak256Hash(data)
}

func checkedAdd(a, b *uint256.Int) *uint256.Int {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		panic("swap: amount overflow")
	}
	return sum
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(v)
}
