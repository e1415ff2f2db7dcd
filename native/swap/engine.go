package swap

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"swaplock/core/events"
)

// Engine wires the hash-timelock escrow logic with external state, the token
// ledger, the proxy directory and an event emitter. Every public operation is
// transactional: a snapshot is taken on entry, all failures revert it, and
// events are emitted only after the operation commits.
//
// State mutations are finalised before any outbound ledger call, so a ledger
// implementation that re-enters the engine observes only finalised state.
// Inbound ledger calls happen after all preconditions are checked and before
// state is written.
type Engine struct {
	state     State
	ledger    Ledger
	directory AccountDirectory
	emitter   events.Emitter
	hasher    Hasher
	vault     common.Address
	nowFn     func() uint64
}

// NewEngine creates an engine over the given state and ledger with a no-op
// emitter, the Keccak hasher and the wall clock.
func NewEngine(state State, ledger Ledger) *Engine {
	return &Engine{
		state:   state,
		ledger:  ledger,
		emitter: events.NoopEmitter{},
		hasher:  KeccakHasher{},
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetDirectory configures the proxy directory consulted by the *Proxy
// operations. Without one, every proxy operation fails.
func (e *Engine) SetDirectory(dir AccountDirectory) { e.directory = dir }

// SetVault configures the account holding escrowed token value on the ledger.
func (e *Engine) SetVault(vault common.Address) { e.vault = vault }

// SetHasher overrides the digest function. Primarily for tests.
func (e *Engine) SetHasher(h Hasher) {
	if h == nil {
		e.hasher = KeccakHasher{}
		return
	}
	e.hasher = h
}

// SetNowFunc overrides the time source. Primarily for tests.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	e.nowFn = now
}

// now is read once per operation; every comparison within the operation uses
// that single reading.
func (e *Engine) now() uint64 { return e.nowFn() }

// opEvents buffers the events of one operation until it commits.
type opEvents struct {
	list []events.Event
}

func (o *opEvents) add(ev events.Event) { o.list = append(o.list, ev) }

func (e *Engine) run(op func(evs *opEvents) error) error {
	snap := e.state.Snapshot()
	var evs opEvents
	if err := op(&evs); err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	for _, ev := range evs.list {
		e.emitter.Emit(ev)
	}
	return nil
}

func amountPositive(v *uint256.Int) error {
	if v == nil || v.IsZero() {
		return ErrZeroValue
	}
	return nil
}

func (e *Engine) transferIn(token, from common.Address, amount *uint256.Int) error {
	if err := e.ledger.TransferFrom(token, from, e.vault, amount); err != nil {
		return &TransferError{Token: token, From: from, To: e.vault, Amount: cloneAmount(amount), Err: err}
	}
	return nil
}

func (e *Engine) transferOut(token, to common.Address, amount *uint256.Int) error {
	if err := e.ledger.Transfer(token, to, amount); err != nil {
		return &TransferError{Token: token, From: e.vault, To: to, Amount: cloneAmount(amount), Err: err}
	}
	return nil
}

func (e *Engine) requireProxy(account, caller common.Address) error {
	if e.directory == nil {
		return &ProxyError{Account: account, Caller: caller}
	}
	proxy := e.directory.ProxyOf(account)
	if proxy == (common.Address{}) || proxy != caller {
		return &ProxyError{Account: account, Caller: caller}
	}
	return nil
}

// LockBuy escrows amount from the caller under a new buy-side lock,
// advertising the counter-asset and unit price wanted in return. The caller's
// value enters through the ledger before the lock is recorded.
func (e *Engine) LockBuy(caller, recipient common.Address, hashedSecret common.Hash, timeout uint64, sellAsset common.Hash, sellPrice *uint256.Int, amount *uint256.Int, token common.Address) (common.Hash, error) {
	if err := amountPositive(amount); err != nil {
		return common.Hash{}, err
	}
	id := e.LockID(token, caller, recipient, hashedSecret, timeout)
	err := e.run(func(evs *opEvents) error {
		if _, ok := e.state.LockGet(id); ok {
			return &LockExistsError{ID: id}
		}
		if err := e.transferIn(token, caller, amount); err != nil {
			return err
		}
		if err := e.lockCreate(id, cloneAmount(amount)); err != nil {
			return err
		}
		evs.add(BuyLockEvent{
			Token:        token,
			Sender:       caller,
			Recipient:    recipient,
			HashedSecret: hashedSecret,
			Timeout:      timeout,
			Amount:       cloneAmount(amount),
			LockID:       id,
			SellAsset:    sellAsset,
			SellPrice:    cloneAmount(sellPrice),
		})
		return nil
	})
	if err != nil {
		return common.Hash{}, err
	}
	return id, nil
}

// LockSell escrows amount drawn from the sender's stash under a new sell-side
// lock answering buyLockID.
func (e *Engine) LockSell(caller, recipient common.Address, hashedSecret common.Hash, timeout uint64, stashAsset common.Hash, amount *uint256.Int, buyLockID common.Hash, token common.Address) (common.Hash, error) {
	return e.lockSell(caller, recipient, hashedSecret, timeout, stashAsset, amount, buyLockID, token)
}

// LockSellProxy is LockSell performed on behalf of account by its registered
// proxy.
func (e *Engine) LockSellProxy(caller, account, recipient common.Address, hashedSecret common.Hash, timeout uint64, stashAsset common.Hash, amount *uint256.Int, buyLockID common.Hash, token common.Address) (common.Hash, error) {
	if err := e.requireProxy(account, caller); err != nil {
		return common.Hash{}, err
	}
	return e.lockSell(account, recipient, hashedSecret, timeout, stashAsset, amount, buyLockID, token)
}

func (e *Engine) lockSell(sender, recipient common.Address, hashedSecret common.Hash, timeout uint64, stashAsset common.Hash, amount *uint256.Int, buyLockID common.Hash, token common.Address) (common.Hash, error) {
	if err := amountPositive(amount); err != nil {
		return common.Hash{}, err
	}
	id := e.LockID(token, sender, recipient, hashedSecret, timeout)
	err := e.run(func(evs *opEvents) error {
		if err := e.stashRemove(token, stashAsset, sender, amount); err != nil {
			return err
		}
		if err := e.lockCreate(id, cloneAmount(amount)); err != nil {
			return err
		}
		evs.add(SellLockEvent{
			Token:        token,
			Sender:       sender,
			Recipient:    recipient,
			HashedSecret: hashedSecret,
			Timeout:      timeout,
			Amount:       cloneAmount(amount),
			LockID:       id,
			BuyAsset:     stashAsset,
			BuyLockID:    buyLockID,
		})
		return nil
	})
	if err != nil {
		return common.Hash{}, err
	}
	return id, nil
}

// LockSellDirect escrows amount taken directly from the caller's balance
// instead of an existing stash.
func (e *Engine) LockSellDirect(caller, recipient common.Address, hashedSecret common.Hash, timeout uint64, buyAsset common.Hash, amount *uint256.Int, buyLockID common.Hash, token common.Address) (common.Hash, error) {
	if err := amountPositive(amount); err != nil {
		return common.Hash{}, err
	}
	id := e.LockID(token, caller, recipient, hashedSecret, timeout)
	err := e.run(func(evs *opEvents) error {
		if _, ok := e.state.LockGet(id); ok {
			return &LockExistsError{ID: id}
		}
		if err := e.transferIn(token, caller, amount); err != nil {
			return err
		}
		if err := e.lockCreate(id, cloneAmount(amount)); err != nil {
			return err
		}
		evs.add(SellLockEvent{
			Token:        token,
			Sender:       caller,
			Recipient:    recipient,
			HashedSecret: hashedSecret,
			Timeout:      timeout,
			Amount:       cloneAmount(amount),
			LockID:       id,
			BuyAsset:     buyAsset,
			BuyLockID:    buyLockID,
		})
		return nil
	})
	if err != nil {
		return common.Hash{}, err
	}
	return id, nil
}

// DeclineByRecipient lets the declared recipient cancel a lock at any time,
// returning the value to the sender. No preimage or timeout check applies.
func (e *Engine) DeclineByRecipient(caller, sender common.Address, hashedSecret common.Hash, timeout uint64, token common.Address) error {
	id := e.LockID(token, sender, caller, hashedSecret, timeout)
	return e.run(func(evs *opEvents) error {
		amount, err := e.lockClaim(id)
		if err != nil {
			return err
		}
		evs.add(DeclineEvent{Token: token, Sender: sender, Recipient: caller, LockID: id})
		return e.transferOut(token, sender, amount)
	})
}

// UnlockBySender settles a lock the caller created. The caller proves
// knowledge of the secret; the value still routes to the declared recipient.
func (e *Engine) UnlockBySender(caller, recipient common.Address, secret []byte, timeout uint64, token common.Address) error {
	hashedSecret := e.hasher.Sum(secret)
	id := e.LockID(token, caller, recipient, hashedSecret, timeout)
	now := e.now()
	return e.run(func(evs *opEvents) error {
		if now >= timeout {
			return &LockTimedOutError{ID: id, Timeout: timeout, Now: now}
		}
		amount, err := e.lockClaim(id)
		if err != nil {
			return err
		}
		evs.add(UnlockEvent{Token: token, Sender: caller, Recipient: recipient, LockID: id, Secret: secret, BySender: true})
		return e.transferOut(token, recipient, amount)
	})
}

// UnlockByRecipient settles a lock in the caller's favour by revealing the
// secret before the timeout.
func (e *Engine) UnlockByRecipient(caller, sender common.Address, secret []byte, timeout uint64, token common.Address) error {
	return e.unlockByRecipient(caller, sender, secret, timeout, token)
}

// UnlockByRecipientProxy is UnlockByRecipient performed on behalf of account
// by its registered proxy; the value routes to the account.
func (e *Engine) UnlockByRecipientProxy(caller, account, sender common.Address, secret []byte, timeout uint64, token common.Address) error {
	if err := e.requireProxy(account, caller); err != nil {
		return err
	}
	return e.unlockByRecipient(account, sender, secret, timeout, token)
}

func (e *Engine) unlockByRecipient(recipient, sender common.Address, secret []byte, timeout uint64, token common.Address) error {
	hashedSecret := e.hasher.Sum(secret)
	id := e.LockID(token, sender, recipient, hashedSecret, timeout)
	now := e.now()
	return e.run(func(evs *opEvents) error {
		if now >= timeout {
			return &LockTimedOutError{ID: id, Timeout: timeout, Now: now}
		}
		amount, err := e.lockClaim(id)
		if err != nil {
			return err
		}
		evs.add(UnlockEvent{Token: token, Sender: sender, Recipient: recipient, LockID: id, Secret: secret})
		return e.transferOut(token, recipient, amount)
	})
}

// TimeoutValue refunds an expired lock to the sender's balance.
func (e *Engine) TimeoutValue(caller, recipient common.Address, hashedSecret common.Hash, timeout uint64, token common.Address) error {
	return e.timeoutValue(caller, recipient, hashedSecret, timeout, token)
}

// TimeoutValueProxy is TimeoutValue performed on behalf of account by its
// registered proxy; the refund routes to the account.
func (e *Engine) TimeoutValueProxy(caller, account, recipient common.Address, hashedSecret common.Hash, timeout uint64, token common.Address) error {
	if err := e.requireProxy(account, caller); err != nil {
		return err
	}
	return e.timeoutValue(account, recipient, hashedSecret, timeout, token)
}

func (e *Engine) timeoutValue(sender, recipient common.Address, hashedSecret common.Hash, timeout uint64, token common.Address) error {
	id := e.LockID(token, sender, recipient, hashedSecret, timeout)
	now := e.now()
	return e.run(func(evs *opEvents) error {
		if now < timeout {
			return &LockNotTimedOutError{ID: id, Timeout: timeout, Now: now}
		}
		amount, err := e.lockClaim(id)
		if err != nil {
			return err
		}
		evs.add(TimeoutEvent{Token: token, Sender: sender, Recipient: recipient, LockID: id})
		return e.transferOut(token, sender, amount)
	})
}

// TimeoutStash returns an expired lock's value into the sender's stash for
// the named asset tag instead of paying it out.
func (e *Engine) TimeoutStash(caller, recipient common.Address, hashedSecret common.Hash, timeout uint64, stashAsset common.Hash, token common.Address) error {
	return e.timeoutStash(caller, recipient, hashedSecret, timeout, stashAsset, token)
}

// TimeoutStashProxy is TimeoutStash performed on behalf of account by its
// registered proxy; the value returns to the account's stash.
func (e *Engine) TimeoutStashProxy(caller, account, recipient common.Address, hashedSecret common.Hash, timeout uint64, stashAsset common.Hash, token common.Address) error {
	if err := e.requireProxy(account, caller); err != nil {
		return err
	}
	return e.timeoutStash(account, recipient, hashedSecret, timeout, stashAsset, token)
}

func (e *Engine) timeoutStash(sender, recipient common.Address, hashedSecret common.Hash, timeout uint64, stashAsset common.Hash, token common.Address) error {
	id := e.LockID(token, sender, recipient, hashedSecret, timeout)
	now := e.now()
	return e.run(func(evs *opEvents) error {
		if now < timeout {
			return &LockNotTimedOutError{ID: id, Timeout: timeout, Now: now}
		}
		amount, ok := e.state.LockGet(id)
		if !ok || amount.IsZero() {
			return ErrZeroValue
		}
		e.state.LockDelete(id)
		e.stashAdd(token, stashAsset, sender, cloneAmount(amount))
		evs.add(TimeoutEvent{Token: token, Sender: sender, Recipient: recipient, LockID: id})
		return nil
	})
}

// DepositStash credits the caller's stash for an asset tag with value pulled
// in through the ledger.
func (e *Engine) DepositStash(caller common.Address, asset common.Hash, amount *uint256.Int, token common.Address) error {
	if err := amountPositive(amount); err != nil {
		return err
	}
	return e.run(func(evs *opEvents) error {
		if err := e.transferIn(token, caller, amount); err != nil {
			return err
		}
		e.stashAdd(token, asset, caller, cloneAmount(amount))
		evs.add(StashAddEvent{Token: token, Account: caller, Asset: asset, Amount: cloneAmount(amount)})
		return nil
	})
}

// WithdrawStash debits amount from the caller's stash and pays it out.
func (e *Engine) WithdrawStash(caller common.Address, asset common.Hash, amount *uint256.Int, token common.Address) error {
	if err := amountPositive(amount); err != nil {
		return err
	}
	return e.withdrawStash(caller, asset, amount, token)
}

// WithdrawStashAll drains the caller's stash for an asset tag entirely.
func (e *Engine) WithdrawStashAll(caller common.Address, asset common.Hash, token common.Address) error {
	amount := e.state.StashValue(token, asset, caller)
	if err := amountPositive(amount); err != nil {
		return err
	}
	return e.withdrawStash(caller, asset, cloneAmount(amount), token)
}

func (e *Engine) withdrawStash(caller common.Address, asset common.Hash, amount *uint256.Int, token common.Address) error {
	return e.run(func(evs *opEvents) error {
		if err := e.stashRemove(token, asset, caller, amount); err != nil {
			return err
		}
		evs.add(StashRemoveEvent{Token: token, Account: caller, Asset: asset, Amount: cloneAmount(amount)})
		return e.transferOut(token, caller, amount)
	})
}

// MoveStash shifts the caller's advertised value from one asset tag to
// another without leaving escrow.
func (e *Engine) MoveStash(caller common.Address, fromAsset, toAsset common.Hash, amount *uint256.Int, token common.Address) error {
	if err := amountPositive(amount); err != nil {
		return err
	}
	return e.run(func(evs *opEvents) error {
		if err := e.stashRemove(token, fromAsset, caller, amount); err != nil {
			return err
		}
		e.stashAdd(token, toAsset, caller, cloneAmount(amount))
		evs.add(StashRemoveEvent{Token: token, Account: caller, Asset: fromAsset, Amount: cloneAmount(amount)})
		evs.add(StashAddEvent{Token: token, Account: caller, Asset: toAsset, Amount: cloneAmount(amount)})
		return nil
	})
}
