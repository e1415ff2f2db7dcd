package bank

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrZeroAmount          = errors.New("bank: zero amount")
)

type balanceKey struct {
	Token   common.Address
	Account common.Address
}

// Book keeps per-token account balances, the native asset included under the
// zero token id. It backs the engine's value movements when no external token
// ledger is plugged in.
type Book struct {
	mu       sync.Mutex
	balances map[balanceKey]*uint256.Int
}

func NewBook() *Book {
	return &Book{balances: make(map[balanceKey]*uint256.Int)}
}

// Mint credits an account out of thin air. Used for genesis funding and tests.
func (b *Book) Mint(token, account common.Address, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := balanceKey{Token: token, Account: account}
	current, ok := b.balances[key]
	if !ok {
		current = uint256.NewInt(0)
	}
	sum, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		panic("bank: balance overflow")
	}
	b.balances[key] = sum
}

// BalanceOf reports an account's balance for a token.
func (b *Book) BalanceOf(token, account common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	current, ok := b.balances[balanceKey{Token: token, Account: account}]
	if !ok {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(current)
}

// Move transfers amount of token between two accounts.
func (b *Book) Move(token, from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	fromKey := balanceKey{Token: token, Account: from}
	current, ok := b.balances[fromKey]
	if !ok || current.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	remaining := new(uint256.Int).Sub(current, amount)
	if remaining.IsZero() {
		delete(b.balances, fromKey)
	} else {
		b.balances[fromKey] = remaining
	}
	toKey := balanceKey{Token: token, Account: to}
	dest, ok := b.balances[toKey]
	if !ok {
		dest = uint256.NewInt(0)
	}
	sum, overflow := new(uint256.Int).AddOverflow(dest, amount)
	if overflow {
		panic("bank: balance overflow")
	}
	b.balances[toKey] = sum
	return nil
}

// Ledger adapts a Book to the engine's ledger interface, binding outbound
// transfers to the vault account the engine escrows into.
type Ledger struct {
	book  *Book
	vault common.Address
}

func NewLedger(book *Book, vault common.Address) *Ledger {
	return &Ledger{book: book, vault: vault}
}

func (l *Ledger) TransferFrom(token, from, to common.Address, amount *uint256.Int) error {
	return l.book.Move(token, from, to, amount)
}

func (l *Ledger) Transfer(token, to common.Address, amount *uint256.Int) error {
	return l.book.Move(token, l.vault, to, amount)
}
