package swap

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// maxStashPage caps a single Stashes call so a caller cannot force a full
// walk of an unbounded list in one request.
const maxStashPage = 256

var sentinel = common.Address{}

// The stash book keeps, per (token, asset tag), a singly-linked list of
// owners in non-increasing order of amount. Equal amounts keep arrival
// order: an entry growing or shrinking into a tie band is spliced after the
// entries already holding that amount.

// stashAdd credits delta to the owner's stash and relinks it at its new
// position. delta must already be validated as positive.
func (e *Engine) stashAdd(token common.Address, asset common.Hash, owner common.Address, delta *uint256.Int) {
	current := e.state.StashValue(token, asset, owner)
	total := checkedAdd(current, delta)
	if !current.IsZero() {
		e.stashUnlink(token, asset, owner)
	}
	e.stashSplice(token, asset, owner, total)
	e.state.StashSetValue(token, asset, owner, total)
}

// stashRemove debits delta from the owner's stash, unlinking it entirely when
// it drains to zero.
func (e *Engine) stashRemove(token common.Address, asset common.Hash, owner common.Address, delta *uint256.Int) error {
	current := e.state.StashValue(token, asset, owner)
	if delta.Cmp(current) > 0 {
		return &StashShortError{
			Owner:     owner,
			Asset:     asset,
			Requested: cloneAmount(delta),
			Available: cloneAmount(current),
		}
	}
	total := new(uint256.Int).Sub(current, delta)
	e.stashUnlink(token, asset, owner)
	e.state.StashSetValue(token, asset, owner, total)
	if total.IsZero() {
		return nil
	}
	e.stashSplice(token, asset, owner, total)
	return nil
}

// stashUnlink removes the owner from the list, if linked.
func (e *Engine) stashUnlink(token common.Address, asset common.Hash, owner common.Address) {
	prev := sentinel
	for {
		next := e.state.StashNext(token, asset, prev)
		if next == owner {
			break
		}
		if next == sentinel {
			return
		}
		prev = next
	}
	e.state.StashSetNext(token, asset, prev, e.state.StashNext(token, asset, owner))
	e.state.StashSetNext(token, asset, owner, sentinel)
}

// stashSplice links the owner behind every entry holding at least total,
// walking from the head. The owner must not currently be linked.
func (e *Engine) stashSplice(token common.Address, asset common.Hash, owner common.Address, total *uint256.Int) {
	prev := sentinel
	for {
		next := e.state.StashNext(token, asset, prev)
		if next == sentinel {
			break
		}
		if e.state.StashValue(token, asset, next).Cmp(total) < 0 {
			break
		}
		prev = next
	}
	e.state.StashSetNext(token, asset, owner, e.state.StashNext(token, asset, prev))
	e.state.StashSetNext(token, asset, prev, owner)
}

// StashValueOf reports the owner's advertised amount for an asset tag, or
// zero when absent.
func (e *Engine) StashValueOf(token common.Address, asset common.Hash, owner common.Address) *uint256.Int {
	return cloneAmount(e.state.StashValue(token, asset, owner))
}

// Stashes pages through the advertised-liquidity list for an asset tag in
// descending order of amount, skipping offset entries and returning at most
// limit. Limits above maxStashPage are clamped.
func (e *Engine) Stashes(token common.Address, asset common.Hash, offset, limit int) []StashEntry {
	if limit <= 0 {
		return nil
	}
	if limit > maxStashPage {
		limit = maxStashPage
	}
	cur := sentinel
	for i := 0; i < offset; i++ {
		cur = e.state.StashNext(token, asset, cur)
		if cur == sentinel {
			return nil
		}
	}
	out := make([]StashEntry, 0, limit)
	for len(out) < limit {
		cur = e.state.StashNext(token, asset, cur)
		if cur == sentinel {
			break
		}
		out = append(out, StashEntry{
			Owner:  cur,
			Amount: cloneAmount(e.state.StashValue(token, asset, cur)),
		})
	}
	return out
}
