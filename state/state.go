package state

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"swaplock/storage"
)

type stashKey struct {
	Token common.Address
	Asset common.Hash
	Owner common.Address
}

// Managed is the engine's backing store: plain maps fronted by a change
// journal so the engine can snapshot and revert, optionally bound to a
// key-value database for durability. All access must be serialized by the
// caller; the engine host owns the single-writer discipline.
type Managed struct {
	locks       map[common.Hash]*uint256.Int
	stashValues map[stashKey]*uint256.Int
	stashNexts  map[stashKey]common.Address

	journal []journalEntry

	db         storage.Database
	dirtyLocks map[common.Hash]struct{}
	dirtyStash map[stashKey]struct{}
}

// NewManaged creates an empty in-memory state.
func NewManaged() *Managed {
	return &Managed{
		locks:       make(map[common.Hash]*uint256.Int),
		stashValues: make(map[stashKey]*uint256.Int),
		stashNexts:  make(map[stashKey]common.Address),
		dirtyLocks:  make(map[common.Hash]struct{}),
		dirtyStash:  make(map[stashKey]struct{}),
	}
}

// Open creates a state bound to db, loading every persisted record. Commit
// flushes accumulated changes back to db.
func Open(db storage.Database) (*Managed, error) {
	m := NewManaged()
	m.db = db
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// --- journal ---

type journalEntry interface {
	revert(m *Managed)
}

type lockChange struct {
	id      common.Hash
	prev    *uint256.Int
	existed bool
}

func (c lockChange) revert(m *Managed) {
	if c.existed {
		m.locks[c.id] = c.prev
	} else {
		delete(m.locks, c.id)
	}
}

type stashValueChange struct {
	key     stashKey
	prev    *uint256.Int
	existed bool
}

func (c stashValueChange) revert(m *Managed) {
	if c.existed {
		m.stashValues[c.key] = c.prev
	} else {
		delete(m.stashValues, c.key)
	}
}

type stashNextChange struct {
	key     stashKey
	prev    common.Address
	existed bool
}

func (c stashNextChange) revert(m *Managed) {
	if c.existed {
		m.stashNexts[c.key] = c.prev
	} else {
		delete(m.stashNexts, c.key)
	}
}

// Snapshot marks the current journal position.
func (m *Managed) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot undoes every change recorded after the snapshot.
func (m *Managed) RevertToSnapshot(id int) {
	if id < 0 || id > len(m.journal) {
		panic(fmt.Sprintf("state: invalid snapshot %d (journal %d)", id, len(m.journal)))
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		m.journal[i].revert(m)
	}
	m.journal = m.journal[:id]
}

// --- lock cells ---

func (m *Managed) LockGet(id common.Hash) (*uint256.Int, bool) {
	v, ok := m.locks[id]
	if !ok {
		return nil, false
	}
	return new(uint256.Int).Set(v), true
}

func (m *Managed) LockPut(id common.Hash, amount *uint256.Int) {
	prev, existed := m.locks[id]
	m.journal = append(m.journal, lockChange{id: id, prev: prev, existed: existed})
	m.locks[id] = new(uint256.Int).Set(amount)
	m.dirtyLocks[id] = struct{}{}
}

func (m *Managed) LockDelete(id common.Hash) {
	prev, existed := m.locks[id]
	if !existed {
		return
	}
	m.journal = append(m.journal, lockChange{id: id, prev: prev, existed: true})
	delete(m.locks, id)
	m.dirtyLocks[id] = struct{}{}
}

// --- stash cells ---

func (m *Managed) StashValue(token common.Address, asset common.Hash, owner common.Address) *uint256.Int {
	v, ok := m.stashValues[stashKey{Token: token, Asset: asset, Owner: owner}]
	if !ok {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(v)
}

func (m *Managed) StashSetValue(token common.Address, asset common.Hash, owner common.Address, amount *uint256.Int) {
	key := stashKey{Token: token, Asset: asset, Owner: owner}
	prev, existed := m.stashValues[key]
	m.journal = append(m.journal, stashValueChange{key: key, prev: prev, existed: existed})
	if amount == nil || amount.IsZero() {
		delete(m.stashValues, key)
	} else {
		m.stashValues[key] = new(uint256.Int).Set(amount)
	}
	m.dirtyStash[key] = struct{}{}
}

func (m *Managed) StashNext(token common.Address, asset common.Hash, owner common.Address) common.Address {
	return m.stashNexts[stashKey{Token: token, Asset: asset, Owner: owner}]
}

func (m *Managed) StashSetNext(token common.Address, asset common.Hash, owner, next common.Address) {
	key := stashKey{Token: token, Asset: asset, Owner: owner}
	prev, existed := m.stashNexts[key]
	m.journal = append(m.journal, stashNextChange{key: key, prev: prev, existed: existed})
	if next == (common.Address{}) {
		delete(m.stashNexts, key)
	} else {
		m.stashNexts[key] = next
	}
	m.dirtyStash[key] = struct{}{}
}

// --- persistence ---

type lockRecord struct {
	Amount string `json:"amount"`
}

type stashRecord struct {
	Amount string `json:"amount,omitempty"`
	Next   string `json:"next,omitempty"`
}

func (m *Managed) load() error {
	if err := m.db.Iterate(lockKeyPrefix, func(key, value []byte) error {
		id, err := parseLockKey(key)
		if err != nil {
			return err
		}
		var rec lockRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("state: decode lock %s: %w", id.Hex(), err)
		}
		amount, err := uint256.FromDecimal(rec.Amount)
		if err != nil {
			return fmt.Errorf("state: decode lock %s amount: %w", id.Hex(), err)
		}
		m.locks[id] = amount
		return nil
	}); err != nil {
		return err
	}
	if err := m.db.Iterate(stashValueKeyPrefix, func(key, value []byte) error {
		sk, err := parseStashKey(key, stashValueKeyPrefix)
		if err != nil {
			return err
		}
		var rec stashRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("state: decode stash value: %w", err)
		}
		amount, err := uint256.FromDecimal(rec.Amount)
		if err != nil {
			return fmt.Errorf("state: decode stash amount: %w", err)
		}
		m.stashValues[sk] = amount
		return nil
	}); err != nil {
		return err
	}
	return m.db.Iterate(stashNextKeyPrefix, func(key, value []byte) error {
		sk, err := parseStashKey(key, stashNextKeyPrefix)
		if err != nil {
			return err
		}
		var rec stashRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("state: decode stash next: %w", err)
		}
		if !common.IsHexAddress(rec.Next) {
			return fmt.Errorf("state: malformed stash next %q", rec.Next)
		}
		m.stashNexts[sk] = common.HexToAddress(rec.Next)
		return nil
	})
}

// Commit flushes every change since the previous commit to the bound database
// and resets the journal. Without a database it only resets the journal.
// Outstanding snapshots are invalidated.
func (m *Managed) Commit() error {
	if m.db != nil {
		for id := range m.dirtyLocks {
			key := lockKey(id)
			amount, ok := m.locks[id]
			if !ok {
				if err := m.db.Delete(key); err != nil {
					return err
				}
				continue
			}
			value, err := json.Marshal(lockRecord{Amount: amount.Dec()})
			if err != nil {
				return err
			}
			if err := m.db.Put(key, value); err != nil {
				return err
			}
		}
		for sk := range m.dirtyStash {
			if err := m.flushStash(sk); err != nil {
				return err
			}
		}
	}
	m.dirtyLocks = make(map[common.Hash]struct{})
	m.dirtyStash = make(map[stashKey]struct{})
	m.journal = m.journal[:0]
	return nil
}

func (m *Managed) flushStash(sk stashKey) error {
	valueKey := stashValueKey(sk)
	if amount, ok := m.stashValues[sk]; ok {
		value, err := json.Marshal(stashRecord{Amount: amount.Dec()})
		if err != nil {
			return err
		}
		if err := m.db.Put(valueKey, value); err != nil {
			return err
		}
	} else if err := m.db.Delete(valueKey); err != nil {
		return err
	}
	nextKey := stashNextKey(sk)
	if next, ok := m.stashNexts[sk]; ok {
		value, err := json.Marshal(stashRecord{Next: next.Hex()})
		if err != nil {
			return err
		}
		return m.db.Put(nextKey, value)
	}
	return m.db.Delete(nextKey)
}
