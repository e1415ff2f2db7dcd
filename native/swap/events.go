package swap

import (
	"encoding/hex"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"swaplock/core/types"
)

const (
	EventTypeBuyLock            = "swap.lock.buy"
	EventTypeSellLock           = "swap.lock.sell"
	EventTypeDeclineByRecipient = "swap.lock.declined"
	EventTypeUnlockBySender     = "swap.unlock.sender"
	EventTypeUnlockByRecipient  = "swap.unlock.recipient"
	EventTypeTimeout            = "swap.lock.timeout"
	EventTypeStashAdd           = "swap.stash.add"
	EventTypeStashRemove        = "swap.stash.remove"
)

// BuyLockEvent records the creation of a buy-side lock together with the
// advertised counter-asset and unit price the sender wants in return.
type BuyLockEvent struct {
	Token        common.Address
	Sender       common.Address
	Recipient    common.Address
	HashedSecret common.Hash
	Timeout      uint64
	Amount       *uint256.Int
	LockID       common.Hash
	SellAsset    common.Hash
	SellPrice    *uint256.Int
}

func (BuyLockEvent) EventType() string { return EventTypeBuyLock }

func (e BuyLockEvent) Event() *types.Event {
	attrs := lockAttributes(e.Token, e.Sender, e.Recipient, e.LockID)
	attrs["hashedSecret"] = e.HashedSecret.Hex()
	attrs["timeout"] = strconv.FormatUint(e.Timeout, 10)
	attrs["amount"] = amountAttr(e.Amount)
	attrs["sellAssetId"] = e.SellAsset.Hex()
	attrs["sellPrice"] = amountAttr(e.SellPrice)
	return &types.Event{Type: EventTypeBuyLock, Attributes: attrs}
}

// SellLockEvent records the creation of a sell-side lock answering a buy lock.
type SellLockEvent struct {
	Token        common.Address
	Sender       common.Address
	Recipient    common.Address
	HashedSecret common.Hash
	Timeout      uint64
	Amount       *uint256.Int
	LockID       common.Hash
	BuyAsset     common.Hash
	BuyLockID    common.Hash
}

func (SellLockEvent) EventType() string { return EventTypeSellLock }

func (e SellLockEvent) Event() *types.Event {
	attrs := lockAttributes(e.Token, e.Sender, e.Recipient, e.LockID)
	attrs["hashedSecret"] = e.HashedSecret.Hex()
	attrs["timeout"] = strconv.FormatUint(e.Timeout, 10)
	attrs["amount"] = amountAttr(e.Amount)
	attrs["buyAssetId"] = e.BuyAsset.Hex()
	attrs["buyLockId"] = e.BuyLockID.Hex()
	return &types.Event{Type: EventTypeSellLock, Attributes: attrs}
}

// DeclineEvent records a recipient-initiated cancellation.
type DeclineEvent struct {
	Token     common.Address
	Sender    common.Address
	Recipient common.Address
	LockID    common.Hash
}

func (DeclineEvent) EventType() string { return EventTypeDeclineByRecipient }

func (e DeclineEvent) Event() *types.Event {
	return &types.Event{
		Type:       EventTypeDeclineByRecipient,
		Attributes: lockAttributes(e.Token, e.Sender, e.Recipient, e.LockID),
	}
}

// UnlockEvent records a successful preimage claim. BySender distinguishes the
// two unlock channels; the revealed secret is included for the counterparty.
type UnlockEvent struct {
	Token     common.Address
	Sender    common.Address
	Recipient common.Address
	LockID    common.Hash
	Secret    []byte
	BySender  bool
}

func (e UnlockEvent) EventType() string {
	if e.BySender {
		return EventTypeUnlockBySender
	}
	return EventTypeUnlockByRecipient
}

func (e UnlockEvent) Event() *types.Event {
	attrs := lockAttributes(e.Token, e.Sender, e.Recipient, e.LockID)
	attrs["secret"] = "0x" + hex.EncodeToString(e.Secret)
	return &types.Event{Type: e.EventType(), Attributes: attrs}
}

// TimeoutEvent records an expiry refund, whether to the sender's balance or
// back into a stash.
type TimeoutEvent struct {
	Token     common.Address
	Sender    common.Address
	Recipient common.Address
	LockID    common.Hash
}

func (TimeoutEvent) EventType() string { return EventTypeTimeout }

func (e TimeoutEvent) Event() *types.Event {
	return &types.Event{
		Type:       EventTypeTimeout,
		Attributes: lockAttributes(e.Token, e.Sender, e.Recipient, e.LockID),
	}
}

// StashAddEvent records value entering a stash.
type StashAddEvent struct {
	Token   common.Address
	Account common.Address
	Asset   common.Hash
	Amount  *uint256.Int
}

func (StashAddEvent) EventType() string { return EventTypeStashAdd }

func (e StashAddEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeStashAdd, Attributes: stashAttributes(e.Token, e.Account, e.Asset, e.Amount)}
}

// StashRemoveEvent records value leaving a stash.
type StashRemoveEvent struct {
	Token   common.Address
	Account common.Address
	Asset   common.Hash
	Amount  *uint256.Int
}

func (StashRemoveEvent) EventType() string { return EventTypeStashRemove }

func (e StashRemoveEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeStashRemove, Attributes: stashAttributes(e.Token, e.Account, e.Asset, e.Amount)}
}

func lockAttributes(token, sender, recipient common.Address, lockID common.Hash) map[string]string {
	return map[string]string{
		"token":     tokenAttr(token),
		"sender":    sender.Hex(),
		"recipient": recipient.Hex(),
		"lockId":    lockID.Hex(),
	}
}

func stashAttributes(token, account common.Address, asset common.Hash, amount *uint256.Int) map[string]string {
	return map[string]string{
		"token":   tokenAttr(token),
		"account": account.Hex(),
		"assetId": asset.Hex(),
		"amount":  amountAttr(amount),
	}
}

func tokenAttr(token common.Address) string {
	if token == NativeToken {
		return "native"
	}
	return token.Hex()
}

func amountAttr(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
