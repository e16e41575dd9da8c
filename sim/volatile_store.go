package sim

import (
	"sync"

	"github.com/dsyscourse/rsm/raft"
)

// volatileLog and volatileMetadataStore are in-memory stand-ins for
// package store's durable bbolt-backed Log and MetadataStore, used only
// within a simulation run where surviving a restart is out of scope.
type volatileLog struct {
	mu      sync.Mutex
	entries []raft.LogEntry
}

func newVolatileLog() *volatileLog { return &volatileLog{} }

func (l *volatileLog) Open() error { return nil }

func (l *volatileLog) Append(entries []raft.LogEntry, from raft.LogIndex) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if from != raft.LogIndex(len(l.entries)) {
		return raft.ErrLogCorrupted
	}
	l.entries = append(l.entries, entries...)
	return nil
}

func (l *volatileLog) TruncateSuffix(index raft.LogIndex) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index == 0 {
		l.entries = nil
		return nil
	}
	l.entries = l.entries[:index-1]
	return nil
}

func (l *volatileLog) Read(index raft.LogIndex) (raft.LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 1 || int(index) > len(l.entries) {
		return raft.LogEntry{}, raft.ErrLogCorrupted
	}
	return l.entries[index-1], nil
}

func (l *volatileLog) Term(index raft.LogIndex) (raft.TermNo, error) {
	e, err := l.Read(index)
	return e.TermNo, err
}

func (l *volatileLog) Length() raft.LogIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return raft.LogIndex(len(l.entries))
}

func (l *volatileLog) LastLogTerm() (raft.TermNo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return 0, nil
	}
	return l.entries[len(l.entries)-1].TermNo, nil
}

// snapshotEntries returns a defensive copy of the log, for the invariant
// checker's log-matching check.
func (l *volatileLog) snapshotEntries() []raft.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]raft.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

type volatileMetadataStore struct {
	mu sync.Mutex
	u  map[string]uint64
	s  map[string]string
}

func newVolatileMetadataStore() *volatileMetadataStore {
	return &volatileMetadataStore{u: map[string]uint64{}, s: map[string]string{}}
}

func (m *volatileMetadataStore) TryLoadUint64(key string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.u[key]
	return v, ok, nil
}

func (m *volatileMetadataStore) StoreUint64(key string, value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.u[key] = value
	return nil
}

func (m *volatileMetadataStore) TryLoadString(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.s[key]
	return v, ok, nil
}

func (m *volatileMetadataStore) StoreString(key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s[key] = value
	return nil
}
