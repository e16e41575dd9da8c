package kv

import (
	"sync"

	"github.com/google/btree"
)

// entry is the btree.Item stored per key: btree.BTree orders items via
// Less, so entries compare by Key alone.
type entry struct {
	key   Key
	value Value
}

func (e entry) Less(than btree.Item) bool {
	return e.key < than.(entry).key
}

// Store is an in-memory, ordered key/value map, the state kv.StateMachine
// applies commands against. Every method takes the Store's mutex, so
// individual calls (for example a diagnostic MakeSnapshot from a test
// harness) do not race a concurrent Set or Cas; a sequence of calls is not
// atomic as a whole.
type Store struct {
	mu           sync.Mutex
	defaultValue Value
	tree         *btree.BTree
}

// NewStore constructs an empty Store. defaultValue is returned by Get for
// a key that was never Set.
func NewStore(defaultValue Value) *Store {
	return &Store{defaultValue: defaultValue, tree: btree.New(32)}
}

func (s *Store) Set(key Key, value Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(entry{key: key, value: value})
}

func (s *Store) Get(key Key) Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *Store) getLocked(key Key) Value {
	item := s.tree.Get(entry{key: key})
	if item == nil {
		return s.defaultValue
	}
	return item.(entry).value
}

// Cas performs a compare-and-set: if the current value for key equals
// expected, it is replaced with desired. Either way, the value observed
// before this call is returned.
func (s *Store) Cas(key Key, expected, desired Value) Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.getLocked(key)
	if old == expected {
		s.tree.ReplaceOrInsert(entry{key: key, value: desired})
	}
	return old
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = btree.New(32)
}

// KeyValue is one row of a snapshot, in key order.
type KeyValue struct {
	Key   Key
	Value Value
}

func (s *Store) MakeSnapshot() []KeyValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]KeyValue, 0, s.tree.Len())
	s.tree.Ascend(func(item btree.Item) bool {
		e := item.(entry)
		entries = append(entries, KeyValue{Key: e.key, Value: e.value})
		return true
	})
	return entries
}

func (s *Store) Install(entries []KeyValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = btree.New(32)
	for _, kv := range entries {
		s.tree.ReplaceOrInsert(entry{key: kv.Key, value: kv.Value})
	}
}
