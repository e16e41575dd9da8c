package rsm

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsyscourse/rsm/raft"
)

// --- test doubles -----------------------------------------------------

type memLog struct {
	mu      sync.Mutex
	entries []raft.LogEntry
}

func (l *memLog) Open() error { return nil }

func (l *memLog) Append(entries []raft.LogEntry, from raft.LogIndex) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if from != raft.LogIndex(len(l.entries)) {
		return raft.ErrLogCorrupted
	}
	l.entries = append(l.entries, entries...)
	return nil
}

func (l *memLog) TruncateSuffix(index raft.LogIndex) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index == 0 {
		l.entries = nil
		return nil
	}
	l.entries = l.entries[:index-1]
	return nil
}

func (l *memLog) Read(index raft.LogIndex) (raft.LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 1 || int(index) > len(l.entries) {
		return raft.LogEntry{}, raft.ErrLogCorrupted
	}
	return l.entries[index-1], nil
}

func (l *memLog) Term(index raft.LogIndex) (raft.TermNo, error) {
	e, err := l.Read(index)
	return e.TermNo, err
}

func (l *memLog) Length() raft.LogIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return raft.LogIndex(len(l.entries))
}

func (l *memLog) LastLogTerm() (raft.TermNo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return 0, nil
	}
	return l.entries[len(l.entries)-1].TermNo, nil
}

type memMetadataStore struct {
	mu sync.Mutex
	u  map[string]uint64
	s  map[string]string
}

func newMemMetadataStore() *memMetadataStore {
	return &memMetadataStore{u: map[string]uint64{}, s: map[string]string{}}
}

func (m *memMetadataStore) TryLoadUint64(key string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.u[key]
	return v, ok, nil
}

func (m *memMetadataStore) StoreUint64(key string, value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.u[key] = value
	return nil
}

func (m *memMetadataStore) TryLoadString(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.s[key]
	return v, ok, nil
}

func (m *memMetadataStore) StoreString(key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s[key] = value
	return nil
}

// echoStateMachine applies a command by returning it unchanged, so tests
// can assert on Execute's result without a real application on top.
type echoStateMachine struct {
	mu      sync.Mutex
	applied [][]byte
}

func (e *echoStateMachine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied = nil
}

func (e *echoStateMachine) Apply(opType string, request []byte) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := append([]byte(nil), request...)
	e.applied = append(e.applied, cp)
	return cp
}

func (e *echoStateMachine) MakeSnapshot() ([]byte, error)      { return nil, nil }
func (e *echoStateMachine) InstallSnapshot(_ []byte) error     { return nil }
func (e *echoStateMachine) appliedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.applied)
}

// routerTransport delivers RPCs directly to in-process Replicas, keyed by
// ServerId, standing in for package sim/package transport in this
// package's own unit tests.
type routerTransport struct {
	mu       sync.RWMutex
	replicas map[raft.ServerId]*Replica
}

func newRouterTransport() *routerTransport {
	return &routerTransport{replicas: make(map[raft.ServerId]*Replica)}
}

func (t *routerTransport) register(id raft.ServerId, r *Replica) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replicas[id] = r
}

func (t *routerTransport) SendRequestVote(peer raft.ServerId, req *raft.RequestVoteRequest) (*raft.RequestVoteReply, error) {
	t.mu.RLock()
	r, ok := t.replicas[peer]
	t.mu.RUnlock()
	if !ok {
		return nil, raft.ErrStaleRequest
	}
	return r.HandleRequestVote(req)
}

func (t *routerTransport) SendAppendEntries(peer raft.ServerId, req *raft.AppendEntriesRequest) (*raft.AppendEntriesReply, error) {
	t.mu.RLock()
	r, ok := t.replicas[peer]
	t.mu.RUnlock()
	if !ok {
		return nil, raft.ErrStaleRequest
	}
	return r.HandleAppendEntries(req)
}

// --- cluster test harness ----------------------------------------------

type testCluster struct {
	replicas map[raft.ServerId]*Replica
	sms      map[raft.ServerId]*echoStateMachine
}

func newTestCluster(t *testing.T, ids ...raft.ServerId) *testCluster {
	t.Helper()
	transport := newRouterTransport()
	cfg := Config{
		ElectionTimeoutMin: 40 * time.Millisecond,
		ElectionTimeoutMax: 80 * time.Millisecond,
		HeartbeatInterval:  10 * time.Millisecond,
		TickInterval:       5 * time.Millisecond,
	}

	cluster := &testCluster{
		replicas: make(map[raft.ServerId]*Replica),
		sms:      make(map[raft.ServerId]*echoStateMachine),
	}

	for _, id := range ids {
		ci, err := raft.NewClusterInfo(ids, id)
		require.NoError(t, err)

		ms := newMemMetadataStore()
		ps, err := raft.NewPersistentState(ms)
		require.NoError(t, err)

		sm := &echoStateMachine{}
		r, err := NewReplica(ci, &memLog{}, ps, ms, sm, transport, cfg, zerolog.Nop())
		require.NoError(t, err)

		cluster.replicas[id] = r
		cluster.sms[id] = sm
		transport.register(id, r)
	}

	t.Cleanup(func() {
		for _, r := range cluster.replicas {
			r.Stop()
		}
	})
	return cluster
}

func (c *testCluster) awaitLeader(t *testing.T) *Replica {
	t.Helper()
	var leader *Replica
	require.Eventually(t, func() bool {
		for _, r := range c.replicas {
			if r.Role() == raft.Leader {
				leader = r
				return true
			}
		}
		return false
	}, 3*time.Second, 5*time.Millisecond)
	return leader
}

// --- tests --------------------------------------------------------------

func TestClusterElectsExactlyOneLeader(t *testing.T) {
	cluster := newTestCluster(t, "s1", "s2", "s3")
	leader := cluster.awaitLeader(t)
	require.NotNil(t, leader)

	time.Sleep(50 * time.Millisecond)
	leaderCount := 0
	for _, r := range cluster.replicas {
		if r.Role() == raft.Leader {
			leaderCount++
		}
	}
	assert.Equal(t, 1, leaderCount)
}

func TestExecuteReplicatesAndIsIdempotentOnRetry(t *testing.T) {
	cluster := newTestCluster(t, "s1", "s2", "s3")
	leader := cluster.awaitLeader(t)

	cmd := Command{
		Type:      "echo",
		Request:   []byte("hello"),
		RequestId: RequestId{ClientId: "c1", Index: 1},
	}
	resp := leader.Execute(cmd)
	require.Equal(t, Ack, resp.Kind)
	assert.Equal(t, []byte("hello"), resp.Result)

	require.Eventually(t, func() bool {
		for _, sm := range cluster.sms {
			if sm.appliedCount() < 1 {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	// Retry with the same RequestId must not apply a second time.
	resp2 := leader.Execute(cmd)
	assert.Equal(t, Ack, resp2.Kind)
	assert.Equal(t, []byte("hello"), resp2.Result)

	for _, sm := range cluster.sms {
		assert.Equal(t, 1, sm.appliedCount())
	}
}

func TestExecuteOnFollowerReturnsRedirectOrNotALeader(t *testing.T) {
	cluster := newTestCluster(t, "s1", "s2", "s3")
	leader := cluster.awaitLeader(t)

	var follower *Replica
	for id, r := range cluster.replicas {
		if r != leader {
			follower = cluster.replicas[id]
			break
		}
	}
	require.NotNil(t, follower)

	resp := follower.Execute(Command{
		Type:      "echo",
		Request:   []byte("x"),
		RequestId: RequestId{ClientId: "c2", Index: 1},
	})
	assert.Contains(t, []ResponseKind{RedirectToLeader, NotALeader}, resp.Kind)
}
