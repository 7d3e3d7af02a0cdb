package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/mangekyou-labs/darkpool/pkg/darkpool"
)

// Store persists ledger state in Pebble.
//
// Key schema:
//   p:<owner><pool><custody><side>  → Position (JSON)
//   a:<holder><custody>             → balance (8-byte big-endian)
//   cv:<custody>                    → custody trade volume (8 bytes)
//   st                              → Stats (JSON)
//   e:<seq>                         → Event (JSON), seq zero-padded for
//                                     lexicographic order
type Store struct {
	db *pebble.DB
}

func NewStore(path string) (*Store, error) {
	return openStore(path, &pebble.Options{})
}

// NewReadOnlyStore opens an existing database for inspection. Every
// write fails with pebble's read-only error.
func NewReadOnlyStore(path string) (*Store, error) {
	return openStore(path, &pebble.Options{ReadOnly: true})
}

func openStore(path string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func positionDBKey(k PositionKey) []byte {
	return append([]byte("p:"), k.bytes()...)
}

func ownerPositionPrefix(owner darkpool.Identity) []byte {
	return append([]byte("p:"), owner[:]...)
}

func balanceKey(id AccountID) []byte {
	key := append([]byte("a:"), id.Holder[:]...)
	return append(key, id.Custody[:]...)
}

func custodyVolumeKey(custody darkpool.Identity) []byte {
	return append([]byte("cv:"), custody[:]...)
}

func statsKey() []byte { return []byte("st") }

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("e:%020d", seq))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// Batch stages position and balance writes that must land together.
// Nothing is visible until Commit, and a failed Commit leaves the
// database untouched.
type Batch struct {
	b *pebble.Batch
}

func (s *Store) NewBatch() *Batch {
	return &Batch{b: s.db.NewBatch()}
}

func (b *Batch) SetPosition(pos *Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	return b.b.Set(positionDBKey(pos.Key()), data, nil)
}

func (b *Batch) SetBalance(id AccountID, balance uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], balance)
	return b.b.Set(balanceKey(id), buf[:], nil)
}

func (b *Batch) Commit() error {
	defer b.b.Close()
	if err := b.b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (b *Batch) Close() error { return b.b.Close() }

// SavePosition persists a position record.
func (s *Store) SavePosition(pos *Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	if err := s.db.Set(positionDBKey(pos.Key()), data, pebble.Sync); err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// LoadPosition loads a position record, or nil if none exists.
func (s *Store) LoadPosition(key PositionKey) (*Position, error) {
	data, closer, err := s.db.Get(positionDBKey(key))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	defer closer.Close()

	var pos Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return nil, fmt.Errorf("unmarshal position: %w", err)
	}
	return &pos, nil
}

// LoadOwnerPositions loads every position record for one owner.
func (s *Store) LoadOwnerPositions(owner darkpool.Identity) ([]*Position, error) {
	prefix := ownerPositionPrefix(owner)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*Position
	for iter.First(); iter.Valid(); iter.Next() {
		var pos Position
		if err := json.Unmarshal(iter.Value(), &pos); err != nil {
			continue // skip invalid entries
		}
		out = append(out, &pos)
	}
	return out, nil
}

func (s *Store) SaveBalance(id AccountID, balance uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], balance)
	if err := s.db.Set(balanceKey(id), buf[:], pebble.Sync); err != nil {
		return fmt.Errorf("save balance: %w", err)
	}
	return nil
}

// LoadBalances scans every persisted token balance.
func (s *Store) LoadBalances() (map[AccountID]uint64, error) {
	prefix := []byte("a:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[AccountID]uint64)
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != 2+64 || len(iter.Value()) != 8 {
			continue
		}
		var id AccountID
		copy(id.Holder[:], key[2:34])
		copy(id.Custody[:], key[34:66])
		out[id] = binary.BigEndian.Uint64(iter.Value())
	}
	return out, nil
}

func (s *Store) SaveCustodyVolume(custody darkpool.Identity, volume uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], volume)
	if err := s.db.Set(custodyVolumeKey(custody), buf[:], pebble.Sync); err != nil {
		return fmt.Errorf("save custody volume: %w", err)
	}
	return nil
}

func (s *Store) LoadCustodyVolumes() (map[darkpool.Identity]uint64, error) {
	prefix := []byte("cv:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[darkpool.Identity]uint64)
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != 3+32 || len(iter.Value()) != 8 {
			continue
		}
		var custody darkpool.Identity
		copy(custody[:], key[3:])
		out[custody] = binary.BigEndian.Uint64(iter.Value())
	}
	return out, nil
}

func (s *Store) SaveStats(st Stats) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	if err := s.db.Set(statsKey(), data, pebble.Sync); err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}

func (s *Store) LoadStats() (Stats, error) {
	var st Stats
	data, closer, err := s.db.Get(statsKey())
	if err == pebble.ErrNotFound {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("get stats: %w", err)
	}
	defer closer.Close()

	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("unmarshal stats: %w", err)
	}
	return st, nil
}

// AppendEvent writes one event-log entry. Events use NoSync: the log is
// an index feed, not the source of truth.
func (s *Store) AppendEvent(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.db.Set(eventKey(ev.Seq), data, pebble.NoSync); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// LoadRecentEvents returns up to limit events, newest first.
func (s *Store) LoadRecentEvents(limit int) ([]Event, error) {
	prefix := []byte("e:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Event
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var ev Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// LastEventSeq returns the highest event sequence number, 0 if empty.
func (s *Store) LastEventSeq() (uint64, error) {
	events, err := s.LoadRecentEvents(1)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	return events[0].Seq, nil
}
