package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mangekyou-labs/darkpool/pkg/darkpool"
)

// Stats is the ledger-owned aggregate record: order/match/settlement
// counters, cleared volume, the fee counter, and last-activity
// timestamps. Read-only to external reporting; updated only by this
// core under the ledger lock.
type Stats struct {
	TotalOrders      uint64 `json:"totalOrders"`
	TotalMatches     uint64 `json:"totalMatches"`
	TotalSettlements uint64 `json:"totalSettlements"`
	TotalVolume      uint64 `json:"totalVolume"`
	TotalFeesUSD     uint64 `json:"totalFeesUsd"`
	LastOrderTime    int64  `json:"lastOrderTime"`
	LastMatchTime    int64  `json:"lastMatchTime"`
}

// Ledger owns positions, token balances, aggregate statistics and the
// event log. Position access follows a strict get-or-create-by-key
// discipline with per-key locks.
type Ledger struct {
	mu            sync.Mutex
	positions     map[PositionKey]*Position
	locks         map[PositionKey]*sync.Mutex
	custodyVolume map[darkpool.Identity]uint64
	stats         Stats
	eventSeq      uint64

	accounts *Accounts
	store    *Store // nil for ephemeral (test) ledgers

	// OnEvent, when set, receives every appended event (websocket hub).
	OnEvent func(Event)
}

func NewLedger(accounts *Accounts, store *Store) *Ledger {
	return &Ledger{
		positions:     make(map[PositionKey]*Position),
		locks:         make(map[PositionKey]*sync.Mutex),
		custodyVolume: make(map[darkpool.Identity]uint64),
		accounts:      accounts,
		store:         store,
	}
}

// Load restores stats, custody volumes, balances and the event cursor
// from the store. Positions load lazily on first access.
func (l *Ledger) Load() error {
	if err := l.accounts.Load(); err != nil {
		return err
	}
	if l.store == nil {
		return nil
	}

	stats, err := l.store.LoadStats()
	if err != nil {
		return err
	}
	volumes, err := l.store.LoadCustodyVolumes()
	if err != nil {
		return err
	}
	seq, err := l.store.LastEventSeq()
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.stats = stats
	l.custodyVolume = volumes
	l.eventSeq = seq
	l.mu.Unlock()
	return nil
}

func (l *Ledger) Accounts() *Accounts { return l.accounts }

// Lock acquires the per-key mutexes for the given position keys in
// canonical order and returns the matching unlock. Two settlements
// sharing a key serialize here; disjoint keys proceed in parallel.
func (l *Ledger) Lock(keys ...PositionKey) func() {
	uniq := make([]PositionKey, 0, len(keys))
	seen := make(map[PositionKey]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			uniq = append(uniq, k)
		}
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i].Less(uniq[j]) })

	mus := make([]*sync.Mutex, len(uniq))
	for i, k := range uniq {
		mus[i] = l.lockFor(k)
	}
	for _, mu := range mus {
		mu.Lock()
	}
	return func() {
		for i := len(mus) - 1; i >= 0; i-- {
			mus[i].Unlock()
		}
	}
}

func (l *Ledger) lockFor(k PositionKey) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	mu, ok := l.locks[k]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[k] = mu
	}
	return mu
}

// Position returns a copy of the record for key, creating an empty
// (pre-open) record in memory if none exists yet. Callers must hold the
// key's lock across the read-modify-write.
func (l *Ledger) Position(key PositionKey) (Position, error) {
	l.mu.Lock()
	if pos, ok := l.positions[key]; ok {
		out := *pos
		l.mu.Unlock()
		return out, nil
	}
	l.mu.Unlock()

	if l.store != nil {
		pos, err := l.store.LoadPosition(key)
		if err != nil {
			return Position{}, err
		}
		if pos != nil {
			l.mu.Lock()
			l.positions[key] = pos
			out := *pos
			l.mu.Unlock()
			return out, nil
		}
	}

	// Empty record; becomes durable only when a settlement commits it.
	return Position{
		Owner:   key.Owner,
		Pool:    key.Pool,
		Custody: key.Custody,
		Side:    key.Side,
	}, nil
}

// PutPositions commits position records to cache and store. All records
// land in one store batch, so a failure persists none of them. Callers
// must hold the corresponding key locks.
func (l *Ledger) PutPositions(positions ...Position) error {
	if l.store != nil {
		batch := l.store.NewBatch()
		for i := range positions {
			if err := batch.SetPosition(&positions[i]); err != nil {
				batch.Close()
				return fmt.Errorf("stage position %s: %w", positions[i].Key(), err)
			}
		}
		if err := batch.Commit(); err != nil {
			return fmt.Errorf("persist positions: %w", err)
		}
	}

	l.mu.Lock()
	for i := range positions {
		pos := positions[i]
		l.positions[pos.Key()] = &pos
	}
	l.mu.Unlock()
	return nil
}

// CommitSettlement persists both legs' position records and the
// collateral transfers as a single unit: transfers are validated first,
// everything goes into one store batch, and the in-memory maps are
// touched only after the batch lands. A failure at any point leaves
// positions and balances exactly as they were. Callers must hold the
// position key locks.
func (l *Ledger) CommitSettlement(authority common.Address, transfers []Transfer, positions ...Position) error {
	a := l.accounts
	a.mu.Lock()
	defer a.mu.Unlock()

	staged, err := a.stageLocked(authority, transfers)
	if err != nil {
		return err
	}

	if l.store != nil {
		batch := l.store.NewBatch()
		for i := range positions {
			if err := batch.SetPosition(&positions[i]); err != nil {
				batch.Close()
				return fmt.Errorf("stage position %s: %w", positions[i].Key(), err)
			}
		}
		for id, v := range staged {
			if err := batch.SetBalance(id, v); err != nil {
				batch.Close()
				return err
			}
		}
		if err := batch.Commit(); err != nil {
			return fmt.Errorf("commit settlement: %w", err)
		}
	}

	for id, v := range staged {
		a.balances[id] = v
	}
	l.mu.Lock()
	for i := range positions {
		pos := positions[i]
		l.positions[pos.Key()] = &pos
	}
	l.mu.Unlock()
	return nil
}

// OwnerPositions lists every open position for one owner.
func (l *Ledger) OwnerPositions(owner darkpool.Identity) []Position {
	byKey := make(map[PositionKey]Position)

	if l.store != nil {
		if stored, err := l.store.LoadOwnerPositions(owner); err == nil {
			for _, pos := range stored {
				byKey[pos.Key()] = *pos
			}
		}
	}

	l.mu.Lock()
	for key, pos := range l.positions {
		if key.Owner == owner {
			byKey[key] = *pos
		}
	}
	l.mu.Unlock()

	out := make([]Position, 0, len(byKey))
	for _, pos := range byKey {
		if !pos.IsEmpty() {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out
}

// RecordOrder bumps the order counter and last-order timestamp.
func (l *Ledger) RecordOrder(now int64) {
	l.mu.Lock()
	l.stats.TotalOrders++
	l.stats.LastOrderTime = now
	l.persistStatsLocked()
	l.mu.Unlock()
}

// RecordMatch bumps the match counter after a matching round.
func (l *Ledger) RecordMatch(now int64) {
	l.mu.Lock()
	l.stats.TotalMatches++
	l.stats.LastMatchTime = now
	l.persistStatsLocked()
	l.mu.Unlock()
}

// RecordSettlement applies the aggregate side effects of one settled
// trade: settlement counter, cleared volume, the bps fee counter, and
// the custody-level volume statistic (once per settlement, not per leg).
func (l *Ledger) RecordSettlement(custody darkpool.Identity, sizeUSD, feeUSD uint64) {
	l.mu.Lock()
	l.stats.TotalSettlements++
	l.stats.TotalVolume += sizeUSD
	l.stats.TotalFeesUSD += feeUSD
	l.custodyVolume[custody] += sizeUSD
	l.persistStatsLocked()
	if l.store != nil {
		// Volume statistic is derivable from the event log; don't fail
		// the settlement over a stats write.
		_ = l.store.SaveCustodyVolume(custody, l.custodyVolume[custody])
	}
	l.mu.Unlock()
}

func (l *Ledger) persistStatsLocked() {
	if l.store != nil {
		_ = l.store.SaveStats(l.stats)
	}
}

func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Ledger) CustodyVolume(custody darkpool.Identity) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.custodyVolume[custody]
}

// AppendEvent assigns a sequence number, persists the entry and fans it
// out to the live subscriber hook.
func (l *Ledger) AppendEvent(typ EventType, now int64, data map[string]interface{}) Event {
	l.mu.Lock()
	l.eventSeq++
	ev := Event{Seq: l.eventSeq, Type: typ, Time: now, Data: data}
	if l.store != nil {
		_ = l.store.AppendEvent(ev)
	}
	onEvent := l.OnEvent
	l.mu.Unlock()

	if onEvent != nil {
		onEvent(ev)
	}
	return ev
}

// RecentEvents returns up to limit log entries, newest first.
func (l *Ledger) RecentEvents(limit int) []Event {
	if l.store == nil {
		return nil
	}
	events, err := l.store.LoadRecentEvents(limit)
	if err != nil {
		return nil
	}
	return events
}
