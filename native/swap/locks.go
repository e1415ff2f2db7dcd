package swap

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// lockCreate installs a new escrow cell. The id must be vacant and the amount
// strictly positive; a live lock never holds zero.
func (e *Engine) lockCreate(id common.Hash, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroValue
	}
	if _, ok := e.state.LockGet(id); ok {
		return &LockExistsError{ID: id}
	}
	e.state.LockPut(id, amount)
	return nil
}

// lockClaim removes the cell and returns the amount it held.
func (e *Engine) lockClaim(id common.Hash) (*uint256.Int, error) {
	amount, ok := e.state.LockGet(id)
	if !ok {
		return nil, &LockMissingError{ID: id}
	}
	e.state.LockDelete(id)
	return cloneAmount(amount), nil
}

// LockValue reports the amount held by a lock, or zero when absent.
func (e *Engine) LockValue(id common.Hash) *uint256.Int {
	amount, ok := e.state.LockGet(id)
	if !ok {
		return uint256.NewInt(0)
	}
	return cloneAmount(amount)
}

// LockValueByParams reports the amount held by the lock a parameter tuple
// fingerprints to, or zero when absent.
func (e *Engine) LockValueByParams(token common.Address, sender, recipient common.Address, hashedSecret common.Hash, timeout uint64) *uint256.Int {
	return e.LockValue(e.LockID(token, sender, recipient, hashedSecret, timeout))
}
