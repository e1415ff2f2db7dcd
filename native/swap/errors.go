package swap

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Sentinel errors. Operations wrap these in typed errors carrying the
// offending identifiers; match with errors.Is or unwrap with errors.As.
var (
	ErrZeroValue           = errors.New("swap: zero value")
	ErrLockAlreadyExists   = errors.New("swap: lock already exists")
	ErrLockNotFound        = errors.New("swap: lock not found")
	ErrLockTimedOut        = errors.New("swap: lock timed out")
	ErrLockNotTimedOut     = errors.New("swap: lock not timed out")
	ErrStashNotBigEnough   = errors.New("swap: stash not big enough")
	ErrTokenTransferFailed = errors.New("swap: token transfer failed")
	ErrInvalidProxy        = errors.New("swap: invalid proxy")
)

// LockExistsError reports a create against an occupied lock id.
type LockExistsError struct {
	ID common.Hash
}

func (e *LockExistsError) Error() string {
	return fmt.Sprintf("swap: lock %s already exists", e.ID.Hex())
}

func (e *LockExistsError) Unwrap() error { return ErrLockAlreadyExists }

// LockMissingError reports a claim path that hit an empty lock id.
type LockMissingError struct {
	ID common.Hash
}

func (e *LockMissingError) Error() string {
	return fmt.Sprintf("swap: lock %s not found", e.ID.Hex())
}

func (e *LockMissingError) Unwrap() error { return ErrLockNotFound }

// LockTimedOutError reports an unlock attempted at or after the lock timeout.
type LockTimedOutError struct {
	ID      common.Hash
	Timeout uint64
	Now     uint64
}

func (e *LockTimedOutError) Error() string {
	return fmt.Sprintf("swap: lock %s timed out at %d (now %d)", e.ID.Hex(), e.Timeout, e.Now)
}

func (e *LockTimedOutError) Unwrap() error { return ErrLockTimedOut }

// LockNotTimedOutError reports a timeout claim attempted before the lock
// timeout.
type LockNotTimedOutError struct {
	ID      common.Hash
	Timeout uint64
	Now     uint64
}

func (e *LockNotTimedOutError) Error() string {
	return fmt.Sprintf("swap: lock %s not timed out until %d (now %d)", e.ID.Hex(), e.Timeout, e.Now)
}

func (e *LockNotTimedOutError) Unwrap() error { return ErrLockNotTimedOut }

// StashShortError reports a withdraw, move or sell asking for more than the
// stash holds.
type StashShortError struct {
	Owner     common.Address
	Asset     common.Hash
	Requested *uint256.Int
	Available *uint256.Int
}

func (e *StashShortError) Error() string {
	return fmt.Sprintf("swap: stash of %s for asset %s holds %s, requested %s",
		e.Owner.Hex(), e.Asset.Hex(), e.Available.Dec(), e.Requested.Dec())
}

func (e *StashShortError) Unwrap() error { return ErrStashNotBigEnough }

// TransferError reports a failed token ledger interaction.
type TransferError struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *uint256.Int
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("swap: token %s transfer of %s from %s to %s failed: %v",
		e.Token.Hex(), e.Amount.Dec(), e.From.Hex(), e.To.Hex(), e.Err)
}

func (e *TransferError) Unwrap() error { return ErrTokenTransferFailed }

// ProxyError reports a proxy operation invoked by a principal the directory
// does not authorise for the account.
type ProxyError struct {
	Account common.Address
	Caller  common.Address
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("swap: %s is not an authorised proxy for %s", e.Caller.Hex(), e.Account.Hex())
}

func (e *ProxyError) Unwrap() error { return ErrInvalidProxy }
