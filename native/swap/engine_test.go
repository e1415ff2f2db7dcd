package swap

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"swaplock/core/events"
)

type cellKey struct {
	token common.Address
	asset common.Hash
	owner common.Address
}

type mockSnapshot struct {
	locks       map[common.Hash]*uint256.Int
	stashValues map[cellKey]*uint256.Int
	stashNexts  map[cellKey]common.Address
}

type mockState struct {
	locks       map[common.Hash]*uint256.Int
	stashValues map[cellKey]*uint256.Int
	stashNexts  map[cellKey]common.Address
	snapshots   []mockSnapshot
}

func newMockState() *mockState {
	return &mockState{
		locks:       make(map[common.Hash]*uint256.Int),
		stashValues: make(map[cellKey]*uint256.Int),
		stashNexts:  make(map[cellKey]common.Address),
	}
}

func (m *mockState) LockGet(id common.Hash) (*uint256.Int, bool) {
	v, ok := m.locks[id]
	if !ok {
		return nil, false
	}
	return new(uint256.Int).Set(v), true
}

func (m *mockState) LockPut(id common.Hash, amount *uint256.Int) {
	m.locks[id] = new(uint256.Int).Set(amount)
}

func (m *mockState) LockDelete(id common.Hash) {
	delete(m.locks, id)
}

func (m *mockState) StashValue(token common.Address, asset common.Hash, owner common.Address) *uint256.Int {
	v, ok := m.stashValues[cellKey{token, asset, owner}]
	if !ok {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(v)
}

func (m *mockState) StashSetValue(token common.Address, asset common.Hash, owner common.Address, amount *uint256.Int) {
	key := cellKey{token, asset, owner}
	if amount == nil || amount.IsZero() {
		delete(m.stashValues, key)
		return
	}
	m.stashValues[key] = new(uint256.Int).Set(amount)
}

func (m *mockState) StashNext(token common.Address, asset common.Hash, owner common.Address) common.Address {
	return m.stashNexts[cellKey{token, asset, owner}]
}

func (m *mockState) StashSetNext(token common.Address, asset common.Hash, owner, next common.Address) {
	key := cellKey{token, asset, owner}
	if next == (common.Address{}) {
		delete(m.stashNexts, key)
		return
	}
	m.stashNexts[key] = next
}

func (m *mockState) Snapshot() int {
	snap := mockSnapshot{
		locks:       make(map[common.Hash]*uint256.Int, len(m.locks)),
		stashValues: make(map[cellKey]*uint256.Int, len(m.stashValues)),
		stashNexts:  make(map[cellKey]common.Address, len(m.stashNexts)),
	}
	for k, v := range m.locks {
		snap.locks[k] = new(uint256.Int).Set(v)
	}
	for k, v := range m.stashValues {
		snap.stashValues[k] = new(uint256.Int).Set(v)
	}
	for k, v := range m.stashNexts {
		snap.stashNexts[k] = v
	}
	m.snapshots = append(m.snapshots, snap)
	return len(m.snapshots) - 1
}

func (m *mockState) RevertToSnapshot(id int) {
	snap := m.snapshots[id]
	m.locks = snap.locks
	m.stashValues = snap.stashValues
	m.stashNexts = snap.stashNexts
	m.snapshots = m.snapshots[:id]
}

type mockLedger struct {
	vault      common.Address
	balances   map[cellKey]*uint256.Int
	failOut    bool
	onTransfer func(token, to common.Address, amount *uint256.Int)
}

func newMockLedger(vault common.Address) *mockLedger {
	return &mockLedger{vault: vault, balances: make(map[cellKey]*uint256.Int)}
}

func (l *mockLedger) balanceKey(token, account common.Address) cellKey {
	return cellKey{token: token, owner: account}
}

func (l *mockLedger) mint(token, account common.Address, amount uint64) {
	key := l.balanceKey(token, account)
	cur, ok := l.balances[key]
	if !ok {
		cur = uint256.NewInt(0)
	}
	l.balances[key] = new(uint256.Int).Add(cur, uint256.NewInt(amount))
}

func (l *mockLedger) balance(token, account common.Address) *uint256.Int {
	cur, ok := l.balances[l.balanceKey(token, account)]
	if !ok {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(cur)
}

func (l *mockLedger) move(token, from, to common.Address, amount *uint256.Int) error {
	cur := l.balance(token, from)
	if cur.Cmp(amount) < 0 {
		return errors.New("ledger: insufficient balance")
	}
	l.balances[l.balanceKey(token, from)] = new(uint256.Int).Sub(cur, amount)
	dest := l.balance(token, to)
	l.balances[l.balanceKey(token, to)] = new(uint256.Int).Add(dest, amount)
	return nil
}

func (l *mockLedger) TransferFrom(token, from, to common.Address, amount *uint256.Int) error {
	return l.move(token, from, to, amount)
}

func (l *mockLedger) Transfer(token, to common.Address, amount *uint256.Int) error {
	if l.failOut {
		return errors.New("ledger: transfer rejected")
	}
	if err := l.move(token, l.vault, to, amount); err != nil {
		return err
	}
	if l.onTransfer != nil {
		hook := l.onTransfer
		l.onTransfer = nil
		hook(token, to, amount)
	}
	return nil
}

type mockDirectory struct {
	proxies map[common.Address]common.Address
}

func (d *mockDirectory) ProxyOf(account common.Address) common.Address {
	return d.proxies[account]
}

var (
	testVault = common.HexToAddress("0xEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEE")
	alice     = common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	bob       = common.HexToAddress("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")
	carol     = common.HexToAddress("0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC")
	eve       = common.HexToAddress("0xE0E0E0E0E0E0E0E0E0E0E0E0E0E0E0E0E0E0E0E0")
	assetA    = common.HexToHash("0xA1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1A1")
	assetB    = common.HexToHash("0xA2A2A2A2A2A2A2A2A2A2A2A2A2A2A2A2A2A2A2A2A2A2A2A2A2A2A2A2A2A2A2A2")
)

type testRig struct {
	engine   *Engine
	state    *mockState
	ledger   *mockLedger
	recorder *events.Recorder
	now      uint64
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		state:    newMockState(),
		ledger:   newMockLedger(testVault),
		recorder: &events.Recorder{},
	}
	rig.engine = NewEngine(rig.state, rig.ledger)
	rig.engine.SetVault(testVault)
	rig.engine.SetEmitter(rig.recorder)
	rig.engine.SetNowFunc(func() uint64 { return rig.now })
	return rig
}

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

func secretAndHash(e *Engine, fill byte) ([]byte, common.Hash) {
	secret := bytes.Repeat([]byte{fill}, 31)
	return secret, e.hasher.Sum(secret)
}

// checkConservation verifies that the vault holds exactly the sum of all live
// locks plus the token's stash values. Locks are not split by token, so each
// rig holds locks of a single token.
func checkConservation(t *testing.T, rig *testRig, token common.Address) {
	t.Helper()
	total := uint256.NewInt(0)
	for _, v := range rig.state.locks {
		total = new(uint256.Int).Add(total, v)
	}
	for k, v := range rig.state.stashValues {
		if k.token == token {
			total = new(uint256.Int).Add(total, v)
		}
	}
	vault := rig.ledger.balance(token, testVault)
	if vault.Cmp(total) != 0 {
		t.Fatalf("conservation broken: vault holds %s, engine records %s", vault.Dec(), total.Dec())
	}
}

func lastEventType(rig *testRig) string {
	if len(rig.recorder.Events) == 0 {
		return ""
	}
	return rig.recorder.Events[len(rig.recorder.Events)-1].EventType()
}

func TestLockBuyZeroAmount(t *testing.T) {
	rig := newTestRig(t)
	_, hs := secretAndHash(rig.engine, 0x01)
	if _, err := rig.engine.LockBuy(alice, bob, hs, 1000, assetA, amt(1), amt(0), NativeToken); !errors.Is(err, ErrZeroValue) {
		t.Fatalf("expected zero value error, got %v", err)
	}
	if len(rig.recorder.Events) != 0 {
		t.Fatalf("no event expected on failure")
	}
}

func TestLockBuyDuplicate(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.mint(NativeToken, alice, 500)
	_, hs := secretAndHash(rig.engine, 0x01)

	id1, err := rig.engine.LockBuy(alice, bob, hs, 1000, assetA, amt(1), amt(100), NativeToken)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := rig.engine.LockBuy(alice, bob, hs, 1000, assetA, amt(1), amt(100), NativeToken); !errors.Is(err, ErrLockAlreadyExists) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	// A tuple differing only in timeout fingerprints a different lock.
	id2, err := rig.engine.LockBuy(alice, bob, hs, 1001, assetA, amt(1), amt(100), NativeToken)
	if err != nil {
		t.Fatalf("create with new timeout: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("timeout change must change the lock id")
	}
	checkConservation(t, rig, NativeToken)
}

func TestHappyPathNativeSwap(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.mint(NativeToken, alice, 100)
	rig.ledger.mint(NativeToken, bob, 200)
	secret, hs := secretAndHash(rig.engine, 0x01)

	buyID, err := rig.engine.LockBuy(alice, bob, hs, 1000, assetA, amt(1), amt(100), NativeToken)
	if err != nil {
		t.Fatalf("lock buy: %v", err)
	}
	if err := rig.engine.DepositStash(bob, assetA, amt(200), NativeToken); err != nil {
		t.Fatalf("deposit stash: %v", err)
	}
	if _, err := rig.engine.LockSell(bob, alice, hs, 900, assetA, amt(50), buyID, NativeToken); err != nil {
		t.Fatalf("lock sell: %v", err)
	}

	rig.now = 500
	if err := rig.engine.UnlockByRecipient(alice, bob, secret, 900, NativeToken); err != nil {
		t.Fatalf("alice unlock: %v", err)
	}
	if got := rig.ledger.balance(NativeToken, alice); got.Cmp(amt(50)) != 0 {
		t.Fatalf("alice should hold 50, has %s", got.Dec())
	}

	rig.now = 950
	if err := rig.engine.UnlockByRecipient(bob, alice, secret, 1000, NativeToken); err != nil {
		t.Fatalf("bob unlock: %v", err)
	}
	if got := rig.ledger.balance(NativeToken, bob); got.Cmp(amt(100)) != 0 {
		t.Fatalf("bob should hold 100, has %s", got.Dec())
	}

	if len(rig.state.locks) != 0 {
		t.Fatalf("all locks should be settled")
	}
	if got := rig.engine.StashValueOf(NativeToken, assetA, bob); got.Cmp(amt(150)) != 0 {
		t.Fatalf("bob stash should be 150, has %s", got.Dec())
	}
	checkConservation(t, rig, NativeToken)
}

func TestTimeoutStashRefund(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.mint(NativeToken, bob, 80)
	_, hs := secretAndHash(rig.engine, 0x02)

	if err := rig.engine.DepositStash(bob, assetB, amt(80), NativeToken); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := rig.engine.LockSell(bob, eve, hs, 200, assetB, amt(30), common.Hash{}, NativeToken); err != nil {
		t.Fatalf("lock sell: %v", err)
	}
	if got := rig.engine.StashValueOf(NativeToken, assetB, bob); got.Cmp(amt(50)) != 0 {
		t.Fatalf("stash should drop to 50, has %s", got.Dec())
	}

	rig.now = 201
	if err := rig.engine.TimeoutStash(bob, eve, hs, 200, assetB, NativeToken); err != nil {
		t.Fatalf("timeout stash: %v", err)
	}
	if got := rig.engine.StashValueOf(NativeToken, assetB, bob); got.Cmp(amt(80)) != 0 {
		t.Fatalf("stash should be restored to 80, has %s", got.Dec())
	}
	if len(rig.state.locks) != 0 {
		t.Fatalf("lock should be removed")
	}
	if lastEventType(rig) != EventTypeTimeout {
		t.Fatalf("expected timeout event, got %s", lastEventType(rig))
	}
	entries := rig.engine.Stashes(NativeToken, assetB, 0, 10)
	if len(entries) != 1 || entries[0].Owner != bob || entries[0].Amount.Cmp(amt(80)) != 0 {
		t.Fatalf("unexpected stash list: %+v", entries)
	}
	checkConservation(t, rig, NativeToken)
}

func TestTimeoutStashAbsentLock(t *testing.T) {
	rig := newTestRig(t)
	_, hs := secretAndHash(rig.engine, 0x03)
	rig.now = 999
	if err := rig.engine.TimeoutStash(bob, eve, hs, 200, assetB, NativeToken); !errors.Is(err, ErrZeroValue) {
		t.Fatalf("expected zero value for absent lock, got %v", err)
	}
}

func TestDeclineByRecipient(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.mint(NativeToken, alice, 70)
	_, hs := secretAndHash(rig.engine, 0x04)

	if _, err := rig.engine.LockBuy(alice, bob, hs, 10000, assetA, amt(1), amt(70), NativeToken); err != nil {
		t.Fatalf("lock buy: %v", err)
	}
	// Works regardless of the clock.
	rig.now = 999999
	if err := rig.engine.DeclineByRecipient(bob, alice, hs, 10000, NativeToken); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if got := rig.ledger.balance(NativeToken, alice); got.Cmp(amt(70)) != 0 {
		t.Fatalf("alice should be made whole, has %s", got.Dec())
	}
	if len(rig.state.locks) != 0 {
		t.Fatalf("lock should be removed")
	}
	checkConservation(t, rig, NativeToken)
}

func TestDeclineAbsentLock(t *testing.T) {
	rig := newTestRig(t)
	_, hs := secretAndHash(rig.engine, 0x05)
	if err := rig.engine.DeclineByRecipient(bob, alice, hs, 10000, NativeToken); !errors.Is(err, ErrLockNotFound) {
		t.Fatalf("expected lock not found, got %v", err)
	}
}

func TestUnlockTimeoutBoundary(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.mint(NativeToken, alice, 200)
	secret, hs := secretAndHash(rig.engine, 0x06)

	if _, err := rig.engine.LockBuy(alice, bob, hs, 1000, assetA, amt(1), amt(100), NativeToken); err != nil {
		t.Fatalf("lock buy: %v", err)
	}

	rig.now = 1000
	if err := rig.engine.UnlockByRecipient(bob, alice, secret, 1000, NativeToken); !errors.Is(err, ErrLockTimedOut) {
		t.Fatalf("unlock at timeout must fail, got %v", err)
	}

	rig.now = 999
	if err := rig.engine.UnlockByRecipient(bob, alice, secret, 1000, NativeToken); err != nil {
		t.Fatalf("unlock before timeout: %v", err)
	}
	if got := rig.ledger.balance(NativeToken, bob); got.Cmp(amt(100)) != 0 {
		t.Fatalf("bob should receive 100, has %s", got.Dec())
	}
	checkConservation(t, rig, NativeToken)
}

func TestTimeoutBoundary(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.mint(NativeToken, alice, 100)
	_, hs := secretAndHash(rig.engine, 0x07)

	if _, err := rig.engine.LockBuy(alice, bob, hs, 1000, assetA, amt(1), amt(100), NativeToken); err != nil {
		t.Fatalf("lock buy: %v", err)
	}

	rig.now = 999
	if err := rig.engine.TimeoutValue(alice, bob, hs, 1000, NativeToken); !errors.Is(err, ErrLockNotTimedOut) {
		t.Fatalf("timeout before deadline must fail, got %v", err)
	}

	rig.now = 1000
	if err := rig.engine.TimeoutValue(alice, bob, hs, 1000, NativeToken); err != nil {
		t.Fatalf("timeout at deadline: %v", err)
	}
	if got := rig.ledger.balance(NativeToken, alice); got.Cmp(amt(100)) != 0 {
		t.Fatalf("alice should be refunded, has %s", got.Dec())
	}
	checkConservation(t, rig, NativeToken)
}

func TestUnlockBySenderRoutesToRecipient(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.mint(NativeToken, alice, 100)
	secret, hs := secretAndHash(rig.engine, 0x08)

	if _, err := rig.engine.LockBuy(alice, bob, hs, 1000, assetA, amt(1), amt(100), NativeToken); err != nil {
		t.Fatalf("lock buy: %v", err)
	}
	if err := rig.engine.UnlockBySender(alice, bob, secret, 1000, NativeToken); err != nil {
		t.Fatalf("unlock by sender: %v", err)
	}
	// The sender settles, the value still goes to the declared recipient.
	if got := rig.ledger.balance(NativeToken, bob); got.Cmp(amt(100)) != 0 {
		t.Fatalf("bob should receive 100, has %s", got.Dec())
	}
	if lastEventType(rig) != EventTypeUnlockBySender {
		t.Fatalf("expected sender unlock event, got %s", lastEventType(rig))
	}
}

func TestUnlockRevealsSecret(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.mint(NativeToken, alice, 100)
	secret, hs := secretAndHash(rig.engine, 0x09)

	if _, err := rig.engine.LockBuy(alice, bob, hs, 1000, assetA, amt(1), amt(100), NativeToken); err != nil {
		t.Fatalf("lock buy: %v", err)
	}
	if err := rig.engine.UnlockByRecipient(bob, alice, secret, 1000, NativeToken); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	payloads := rig.recorder.Payloads()
	last := payloads[len(payloads)-1]
	if last.Type != EventTypeUnlockByRecipient {
		t.Fatalf("expected recipient unlock event, got %s", last.Type)
	}
	want := "0x" + common.Bytes2Hex(secret)
	if last.Attributes["secret"] != want {
		t.Fatalf("event must reveal the secret: got %s want %s", last.Attributes["secret"], want)
	}
}

func TestWrongSecretFailsAsMissingLock(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.mint(NativeToken, alice, 100)
	_, hs := secretAndHash(rig.engine, 0x0A)

	if _, err := rig.engine.LockBuy(alice, bob, hs, 1000, assetA, amt(1), amt(100), NativeToken); err != nil {
		t.Fatalf("lock buy: %v", err)
	}
	// A wrong preimage fingerprints a different lock id, so the claim misses.
	if err := rig.engine.UnlockByRecipient(bob, alice, []byte("wrong"), 1000, NativeToken); !errors.Is(err, ErrLockNotFound) {
		t.Fatalf("expected lock not found for wrong secret, got %v", err)
	}
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.mint(NativeToken, carol, 40)

	if err := rig.engine.DepositStash(carol, assetA, amt(40), NativeToken); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := rig.engine.WithdrawStash(carol, assetA, amt(40), NativeToken); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := rig.ledger.balance(NativeToken, carol); got.Cmp(amt(40)) != 0 {
		t.Fatalf("carol should be whole, has %s", got.Dec())
	}
	if got := rig.engine.StashValueOf(NativeToken, assetA, carol); !got.IsZero() {
		t.Fatalf("stash should be empty, has %s", got.Dec())
	}
	if len(rig.recorder.Events) != 2 {
		t.Fatalf("expected add and remove events, got %d", len(rig.recorder.Events))
	}
	if rig.recorder.Events[0].EventType() != EventTypeStashAdd || rig.recorder.Events[1].EventType() != EventTypeStashRemove {
		t.Fatalf("unexpected event sequence")
	}
	checkConservation(t, rig, NativeToken)
}

func TestWithdrawStashAll(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.mint(NativeToken, carol, 40)
	if err := rig.engine.DepositStash(carol, assetA, amt(40), NativeToken); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := rig.engine.WithdrawStashAll(carol, assetA, NativeToken); err != nil {
		t.Fatalf("withdraw all: %v", err)
	}
	if got := rig.ledger.balance(NativeToken, carol); got.Cmp(amt(40)) != 0 {
		t.Fatalf("carol should be whole, has %s", got.Dec())
	}
	if err := rig.engine.WithdrawStashAll(carol, assetA, NativeToken); !errors.Is(err, ErrZeroValue) {
		t.Fatalf("empty stash drain should report zero value, got %v", err)
	}
}

func TestWithdrawMoreThanHeld(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.mint(NativeToken, carol, 40)
	if err := rig.engine.DepositStash(carol, assetA, amt(40), NativeToken); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	err := rig.engine.WithdrawStash(carol, assetA, amt(41), NativeToken)
	if !errors.Is(err, ErrStashNotBigEnough) {
		t.Fatalf("expected stash shortfall, got %v", err)
	}
	var short *StashShortError
	if !errors.As(err, &short) {
		t.Fatalf("expected typed shortfall error")
	}
	if short.Available.Cmp(amt(40)) != 0 || short.Requested.Cmp(amt(41)) != 0 {
		t.Fatalf("shortfall should carry amounts, got %+v", short)
	}
}

func TestMoveStash(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.mint(NativeToken, carol, 100)
	if err := rig.engine.DepositStash(carol, assetA, amt(100), NativeToken); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := rig.engine.MoveStash(carol, assetA, assetB, amt(30), NativeToken); err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := rig.engine.StashValueOf(NativeToken, assetA, carol); got.Cmp(amt(70)) != 0 {
		t.Fatalf("asset A stash should be 70, has %s", got.Dec())
	}
	if got := rig.engine.StashValueOf(NativeToken, assetB, carol); got.Cmp(amt(30)) != 0 {
		t.Fatalf("asset B stash should be 30, has %s", got.Dec())
	}
	n := len(rig.recorder.Events)
	if n < 2 || rig.recorder.Events[n-2].EventType() != EventTypeStashRemove || rig.recorder.Events[n-1].EventType() != EventTypeStashAdd {
		t.Fatalf("move must emit remove then add")
	}
	checkConservation(t, rig, NativeToken)
}

func TestLockBuyTimeoutValueRoundTrip(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.mint(NativeToken, alice, 100)
	_, hs := secretAndHash(rig.engine, 0x0B)

	if _, err := rig.engine.LockBuy(alice, bob, hs, 500, assetA, amt(2), amt(100), NativeToken); err != nil {
		t.Fatalf("lock buy: %v", err)
	}
	rig.now = 500
	if err := rig.engine.TimeoutValue(alice, bob, hs, 500, NativeToken); err != nil {
		t.Fatalf("timeout value: %v", err)
	}
	if got := rig.ledger.balance(NativeToken, alice); got.Cmp(amt(100)) != 0 {
		t.Fatalf("alice should be whole, has %s", got.Dec())
	}
	if len(rig.state.locks) != 0 || len(rig.state.stashValues) != 0 {
		t.Fatalf("engine state should be empty")
	}
	checkConservation(t, rig, NativeToken)
}

func TestTokenLedgerFailureRollsBack(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.mint(NativeToken, alice, 100)
	_, hs := secretAndHash(rig.engine, 0x0C)

	if _, err := rig.engine.LockBuy(alice, bob, hs, 1000, assetA, amt(1), amt(100), NativeToken); err != nil {
		t.Fatalf("lock buy: %v", err)
	}
	seen := len(rig.recorder.Events)

	rig.ledger.failOut = true
	rig.now = 1000
	err := rig.engine.TimeoutValue(alice, bob, hs, 1000, NativeToken)
	if !errors.Is(err, ErrTokenTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	// The claim must be rolled back wholesale: the lock is still live and no
	// event leaked.
	if got := rig.engine.LockValue(rig.engine.LockID(NativeToken, alice, bob, hs, 1000)); got.Cmp(amt(100)) != 0 {
		t.Fatalf("lock should survive the failed payout, holds %s", got.Dec())
	}
	if len(rig.recorder.Events) != seen {
		t.Fatalf("no event may be emitted on a failed operation")
	}

	rig.ledger.failOut = false
	if err := rig.engine.TimeoutValue(alice, bob, hs, 1000, NativeToken); err != nil {
		t.Fatalf("retry after ledger recovery: %v", err)
	}
	checkConservation(t, rig, NativeToken)
}

func TestReentrantUnlockObservesFinalState(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.mint(NativeToken, alice, 100)
	secret, hs := secretAndHash(rig.engine, 0x0D)

	if _, err := rig.engine.LockBuy(alice, bob, hs, 1000, assetA, amt(1), amt(100), NativeToken); err != nil {
		t.Fatalf("lock buy: %v", err)
	}

	var reentrantErr error
	reentered := false
	rig.ledger.onTransfer = func(common.Address, common.Address, *uint256.Int) {
		reentered = true
		reentrantErr = rig.engine.UnlockByRecipient(bob, alice, secret, 1000, NativeToken)
	}
	if err := rig.engine.UnlockByRecipient(bob, alice, secret, 1000, NativeToken); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if !reentered {
		t.Fatalf("ledger hook did not re-enter")
	}
	// The re-entered claim must see the lock already gone.
	if !errors.Is(reentrantErr, ErrLockNotFound) {
		t.Fatalf("re-entered unlock should miss the lock, got %v", reentrantErr)
	}
	if got := rig.ledger.balance(NativeToken, bob); got.Cmp(amt(100)) != 0 {
		t.Fatalf("bob should be paid exactly once, has %s", got.Dec())
	}
	checkConservation(t, rig, NativeToken)
}

func TestProxyRejected(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.SetDirectory(&mockDirectory{proxies: map[common.Address]common.Address{}})
	_, hs := secretAndHash(rig.engine, 0x0E)

	err := rig.engine.TimeoutValueProxy(carol, alice, bob, hs, 10, NativeToken)
	if !errors.Is(err, ErrInvalidProxy) {
		t.Fatalf("expected invalid proxy, got %v", err)
	}
	var proxyErr *ProxyError
	if !errors.As(err, &proxyErr) {
		t.Fatalf("expected typed proxy error")
	}
	if proxyErr.Account != alice || proxyErr.Caller != carol {
		t.Fatalf("proxy error should carry account and caller, got %+v", proxyErr)
	}
}

func TestProxyAuthorized(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.SetDirectory(&mockDirectory{proxies: map[common.Address]common.Address{bob: carol}})
	rig.ledger.mint(NativeToken, bob, 80)
	_, hs := secretAndHash(rig.engine, 0x0F)

	if err := rig.engine.DepositStash(bob, assetB, amt(80), NativeToken); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := rig.engine.LockSellProxy(carol, bob, eve, hs, 200, assetB, amt(30), common.Hash{}, NativeToken); err != nil {
		t.Fatalf("proxied lock sell: %v", err)
	}
	// The lock belongs to the account, not the proxy.
	id := rig.engine.LockID(NativeToken, bob, eve, hs, 200)
	if got := rig.engine.LockValue(id); got.Cmp(amt(30)) != 0 {
		t.Fatalf("account's lock should hold 30, has %s", got.Dec())
	}

	rig.now = 200
	if err := rig.engine.TimeoutStashProxy(carol, bob, eve, hs, 200, assetB, NativeToken); err != nil {
		t.Fatalf("proxied timeout stash: %v", err)
	}
	if got := rig.engine.StashValueOf(NativeToken, assetB, bob); got.Cmp(amt(80)) != 0 {
		t.Fatalf("account stash should be restored, has %s", got.Dec())
	}
	checkConservation(t, rig, NativeToken)
}

func TestTokenLockLifecycle(t *testing.T) {
	rig := newTestRig(t)
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	rig.ledger.mint(token, alice, 100)
	secret, hs := secretAndHash(rig.engine, 0x10)

	if _, err := rig.engine.LockBuy(alice, bob, hs, 1000, assetA, amt(1), amt(100), token); err != nil {
		t.Fatalf("token lock buy: %v", err)
	}
	if err := rig.engine.UnlockByRecipient(bob, alice, secret, 1000, token); err != nil {
		t.Fatalf("token unlock: %v", err)
	}
	if got := rig.ledger.balance(token, bob); got.Cmp(amt(100)) != 0 {
		t.Fatalf("bob should receive tokens, has %s", got.Dec())
	}
	checkConservation(t, rig, token)
}

func TestLockSellDirect(t *testing.T) {
	rig := newTestRig(t)
	rig.ledger.mint(NativeToken, bob, 60)
	_, hs := secretAndHash(rig.engine, 0x11)

	if _, err := rig.engine.LockSellDirect(bob, alice, hs, 700, assetA, amt(60), common.Hash{}, NativeToken); err != nil {
		t.Fatalf("lock sell direct: %v", err)
	}
	if got := rig.ledger.balance(NativeToken, bob); !got.IsZero() {
		t.Fatalf("bob's balance should be escrowed, has %s", got.Dec())
	}
	if lastEventType(rig) != EventTypeSellLock {
		t.Fatalf("expected sell lock event, got %s", lastEventType(rig))
	}
	checkConservation(t, rig, NativeToken)
}

func TestIngressFailureLeavesNoState(t *testing.T) {
	rig := newTestRig(t)
	_, hs := secretAndHash(rig.engine, 0x12)
	// Alice holds nothing, so the pull must fail.
	_, err := rig.engine.LockBuy(alice, bob, hs, 1000, assetA, amt(1), amt(100), NativeToken)
	if !errors.Is(err, ErrTokenTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	if len(rig.state.locks) != 0 {
		t.Fatalf("no lock may be recorded after a failed pull")
	}
	if len(rig.recorder.Events) != 0 {
		t.Fatalf("no event may be emitted")
	}
}
