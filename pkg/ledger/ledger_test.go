package ledger

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mangekyou-labs/darkpool/pkg/darkpool"
)

var testAuthority = common.HexToAddress("0x00000000000000000000000000000000000000AA")

func id(b byte) darkpool.Identity {
	var out darkpool.Identity
	out[0] = b
	return out
}

// newTestStore creates a store on a unique temp path per test, mirroring
// the one-db-per-test discipline needed to avoid Pebble lock conflicts.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := fmt.Sprintf("%s/ledger_%s.db", t.TempDir(), t.Name())
	os.RemoveAll(dbPath)

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	store := newTestStore(t)
	return NewLedger(NewAccounts(testAuthority, store), store)
}

func TestPositionGetOrCreate(t *testing.T) {
	l := newTestLedger(t)
	key := PositionKey{Owner: id(0x01), Pool: id(0x02), Custody: id(0x03), Side: darkpool.Long}

	pos, err := l.Position(key)
	if err != nil {
		t.Fatalf("position failed: %v", err)
	}
	if !pos.IsEmpty() {
		t.Error("fresh position not empty")
	}
	if pos.Owner != key.Owner || pos.Side != key.Side {
		t.Error("fresh position not keyed correctly")
	}

	pos.SizeUSD = 100
	pos.Price = 50
	pos.CollateralCustody = id(0x04)
	if err := l.PutPositions(pos); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := l.Position(key)
	if err != nil {
		t.Fatalf("position failed: %v", err)
	}
	if got.SizeUSD != 100 || got.Price != 50 {
		t.Errorf("position = size %d price %d, want 100/50", got.SizeUSD, got.Price)
	}
}

func TestPositionSurvivesReload(t *testing.T) {
	store := newTestStore(t)
	l := NewLedger(NewAccounts(testAuthority, store), store)
	key := PositionKey{Owner: id(0x01), Pool: id(0x02), Custody: id(0x03), Side: darkpool.Short}

	pos, _ := l.Position(key)
	pos.SizeUSD = 777
	pos.Price = 42
	if err := l.PutPositions(pos); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	// Fresh ledger over the same store must see the record.
	l2 := NewLedger(NewAccounts(testAuthority, store), store)
	got, err := l2.Position(key)
	if err != nil {
		t.Fatalf("position failed: %v", err)
	}
	if got.SizeUSD != 777 || got.Price != 42 {
		t.Errorf("reloaded position = size %d price %d, want 777/42", got.SizeUSD, got.Price)
	}
}

func TestAccountsApplyAtomicity(t *testing.T) {
	acc := NewAccounts(testAuthority, nil)
	alice := FundingAccount(id(0x0A), id(0x03))
	bob := FundingAccount(id(0x0B), id(0x03))
	vault := VaultAccount(id(0x03))

	if err := acc.Deposit(alice, 100); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	// Bob has nothing; the pair must fail and leave Alice untouched.
	err := acc.Apply(testAuthority, []Transfer{
		{From: alice, To: vault, Amount: 50},
		{From: bob, To: vault, Amount: 50},
	})
	if err == nil {
		t.Fatal("expected failure for underfunded transfer pair")
	}
	if got := acc.Balance(alice); got != 100 {
		t.Errorf("alice balance = %d, want 100 (no partial move)", got)
	}
	if got := acc.Balance(vault); got != 0 {
		t.Errorf("vault balance = %d, want 0", got)
	}

	acc.Deposit(bob, 60)
	if err := acc.Apply(testAuthority, []Transfer{
		{From: alice, To: vault, Amount: 50},
		{From: bob, To: vault, Amount: 50},
	}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if got := acc.Balance(vault); got != 100 {
		t.Errorf("vault balance = %d, want 100", got)
	}
	if got := acc.Balance(bob); got != 10 {
		t.Errorf("bob balance = %d, want 10", got)
	}
}

func TestAccountsAuthority(t *testing.T) {
	acc := NewAccounts(testAuthority, nil)
	alice := FundingAccount(id(0x0A), id(0x03))
	acc.Deposit(alice, 100)

	rogue := common.HexToAddress("0x00000000000000000000000000000000000000BB")
	err := acc.Apply(rogue, []Transfer{{From: alice, To: VaultAccount(id(0x03)), Amount: 1}})
	if err == nil {
		t.Error("transfer accepted without system authority")
	}
}

func TestStatsRecording(t *testing.T) {
	l := newTestLedger(t)

	l.RecordOrder(1000)
	l.RecordOrder(1001)
	l.RecordMatch(1002)
	l.RecordSettlement(id(0x03), 500, 5)

	st := l.Stats()
	if st.TotalOrders != 2 {
		t.Errorf("orders = %d, want 2", st.TotalOrders)
	}
	if st.TotalMatches != 1 {
		t.Errorf("matches = %d, want 1", st.TotalMatches)
	}
	if st.TotalSettlements != 1 {
		t.Errorf("settlements = %d, want 1", st.TotalSettlements)
	}
	if st.TotalVolume != 500 {
		t.Errorf("volume = %d, want 500", st.TotalVolume)
	}
	if st.TotalFeesUSD != 5 {
		t.Errorf("fees = %d, want 5", st.TotalFeesUSD)
	}
	if st.LastOrderTime != 1001 || st.LastMatchTime != 1002 {
		t.Errorf("timestamps = %d/%d, want 1001/1002", st.LastOrderTime, st.LastMatchTime)
	}
	if got := l.CustodyVolume(id(0x03)); got != 500 {
		t.Errorf("custody volume = %d, want 500", got)
	}
}

func TestEventLog(t *testing.T) {
	l := newTestLedger(t)

	var fanout []Event
	l.OnEvent = func(ev Event) { fanout = append(fanout, ev) }

	l.AppendEvent(EventOrderSubmitted, 100, map[string]interface{}{"owner": id(0x01).Hex()})
	l.AppendEvent(EventTradeSettled, 200, map[string]interface{}{"sizeUsd": 50})

	events := l.RecentEvents(10)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	// Newest first.
	if events[0].Type != EventTradeSettled || events[0].Seq != 2 {
		t.Errorf("newest event = %s seq %d, want trade_settled seq 2", events[0].Type, events[0].Seq)
	}
	if len(fanout) != 2 {
		t.Errorf("fanout = %d events, want 2", len(fanout))
	}
}

// TestLockSerializesSameKey drives concurrent read-modify-write cycles
// through the per-key lock; lost updates would show up as a short count.
func TestLockSerializesSameKey(t *testing.T) {
	l := newTestLedger(t)
	key := PositionKey{Owner: id(0x01), Pool: id(0x02), Custody: id(0x03), Side: darkpool.Long}

	const workers = 8
	const rounds = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				unlock := l.Lock(key)
				pos, _ := l.Position(key)
				pos.SizeUSD++
				if err := l.PutPositions(pos); err != nil {
					t.Errorf("put failed: %v", err)
				}
				unlock()
			}
		}()
	}
	wg.Wait()

	pos, _ := l.Position(key)
	if pos.SizeUSD != workers*rounds {
		t.Errorf("size = %d, want %d", pos.SizeUSD, workers*rounds)
	}
}

func TestLockDistinctKeysDeadlockFree(t *testing.T) {
	l := newTestLedger(t)
	k1 := PositionKey{Owner: id(0x01), Pool: id(0x02), Custody: id(0x03), Side: darkpool.Long}
	k2 := PositionKey{Owner: id(0x04), Pool: id(0x02), Custody: id(0x03), Side: darkpool.Short}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock := l.Lock(k1, k2)
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock := l.Lock(k2, k1) // reversed order must not deadlock
			unlock()
		}()
	}
	wg.Wait()
}

func TestCommitSettlementAllOrNothing(t *testing.T) {
	l := newTestLedger(t)
	key := PositionKey{Owner: id(0x01), Pool: id(0x02), Custody: id(0x03), Side: darkpool.Long}
	funding := FundingAccount(id(0x01), id(0x04))
	vault := VaultAccount(id(0x03))

	if err := l.Accounts().Deposit(funding, 100); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	pos := Position{Owner: key.Owner, Pool: key.Pool, Custody: key.Custody, Side: key.Side, SizeUSD: 500, Price: 10}
	transfers := []Transfer{{From: funding, To: vault, Amount: 300}} // underfunded

	if err := l.CommitSettlement(testAuthority, transfers, pos); err == nil {
		t.Fatal("expected error for underfunded transfer")
	}

	// Neither side of the commit may land.
	got, err := l.Position(key)
	if err != nil {
		t.Fatalf("position failed: %v", err)
	}
	if !got.IsEmpty() {
		t.Error("position persisted despite failed transfer")
	}
	if bal := l.Accounts().Balance(funding); bal != 100 {
		t.Errorf("funding = %d, want 100", bal)
	}

	// A valid commit lands both.
	transfers[0].Amount = 100
	if err := l.CommitSettlement(testAuthority, transfers, pos); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	got, _ = l.Position(key)
	if got.SizeUSD != 500 {
		t.Errorf("size = %d, want 500", got.SizeUSD)
	}
	if bal := l.Accounts().Balance(vault); bal != 100 {
		t.Errorf("vault = %d, want 100", bal)
	}
}

func TestCommitSettlementRejectsForeignAuthority(t *testing.T) {
	l := newTestLedger(t)
	rogue := common.HexToAddress("0x00000000000000000000000000000000000000BB")
	funding := FundingAccount(id(0x01), id(0x04))

	if err := l.Accounts().Deposit(funding, 100); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	transfers := []Transfer{{From: funding, To: VaultAccount(id(0x03)), Amount: 50}}
	if err := l.CommitSettlement(rogue, transfers); err == nil {
		t.Error("expected error for foreign transfer authority")
	}
	if bal := l.Accounts().Balance(funding); bal != 100 {
		t.Errorf("funding = %d, want 100", bal)
	}
}
