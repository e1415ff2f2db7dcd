package swap

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// State is the mutable backing store the engine runs over. Implementations
// must treat amounts as values: returned pointers are never retained or
// mutated by the engine after the call, and stored amounts must be copies.
//
// The stash primitives expose the raw intrusive-list cells. For each
// (token, asset) pair the zero principal is the list sentinel: its next
// pointer holds the head, and a zero next pointer terminates the list.
//
// Snapshot and RevertToSnapshot give the engine transactional rollback.
// Snapshots nest; reverting to snapshot n discards every change recorded
// after it, including changes from nested snapshots that already "committed".
type State interface {
	LockGet(id common.Hash) (*uint256.Int, bool)
	LockPut(id common.Hash, amount *uint256.Int)
	LockDelete(id common.Hash)

	StashValue(token common.Address, asset common.Hash, owner common.Address) *uint256.Int
	// StashSetValue stores the owner's amount; a zero amount deletes the cell.
	StashSetValue(token common.Address, asset common.Hash, owner common.Address, amount *uint256.Int)
	StashNext(token common.Address, asset common.Hash, owner common.Address) common.Address
	// StashSetNext stores the owner's successor; a zero successor on a
	// non-sentinel cell may be deleted by the implementation.
	StashSetNext(token common.Address, asset common.Hash, owner, next common.Address)

	Snapshot() int
	RevertToSnapshot(id int)
}
