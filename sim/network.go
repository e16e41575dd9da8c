// Package sim is the deterministic-enough simulation harness (C8): an
// in-process raft.Transport that can drop messages, partition servers
// from each other, and add artificial latency, plus a small cluster
// wiring helper and invariant checker used by this module's own
// integration tests.
//
// Unlike the original runtime/matrix simulation this is grounded on, this
// harness does not virtualize wall-clock time — Replica's election and
// heartbeat timers still run against the real clock. What it does
// virtualize is the network: message loss, reordering-by-latency-jitter,
// and partitions, which is where almost all Raft safety bugs actually
// live. A fully virtual-time harness would require threading a clock
// interface through package rsm's timers, which is more machinery than
// this module's non-goals (spec.md explicitly scopes out a generic,
// reusable simulation framework) warrant.
package sim

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/dsyscourse/rsm/raft"
)

var ErrDropped = errors.New("sim: message dropped")

// Network implements raft.Transport over a registry of in-process
// replicas, reached directly via Go calls rather than any real RPC
// encoding.
type Network struct {
	mu        sync.RWMutex
	nodes     map[raft.ServerId]*nodeHandle
	rng       *rand.Rand
	latency   time.Duration
	jitter    time.Duration
	dropProb  float64
	partition map[raft.ServerId]map[raft.ServerId]bool // a in partition[a] cannot reach b in partition[a][b]==true
}

type nodeHandle struct {
	requestVote   func(*raft.RequestVoteRequest) (*raft.RequestVoteReply, error)
	appendEntries func(*raft.AppendEntriesRequest) (*raft.AppendEntriesReply, error)
}

// RequestVoteHandler and AppendEntriesHandler match *rsm.Replica's
// HandleRequestVote/HandleAppendEntries signatures; Network itself only
// depends on these function types, not on package rsm (Cluster is the
// part of package sim that wires in rsm.Replicas).
type RequestVoteHandler func(*raft.RequestVoteRequest) (*raft.RequestVoteReply, error)
type AppendEntriesHandler func(*raft.AppendEntriesRequest) (*raft.AppendEntriesReply, error)

func NewNetwork() *Network {
	return &Network{
		nodes:     make(map[raft.ServerId]*nodeHandle),
		rng:       rand.New(rand.NewSource(1)),
		partition: make(map[raft.ServerId]map[raft.ServerId]bool),
	}
}

// Register wires id's RPC handlers into the network.
func (n *Network) Register(id raft.ServerId, rv RequestVoteHandler, ae AppendEntriesHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[id] = &nodeHandle{requestVote: rv, appendEntries: ae}
}

// SetLatency configures a base one-way delay plus up to jitter of
// additional random delay, applied to every message.
func (n *Network) SetLatency(base, jitter time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latency = base
	n.jitter = jitter
}

// SetDropProbability configures the fraction (0..1) of messages dropped
// outright, simulating lossy links independent of partitions.
func (n *Network) SetDropProbability(p float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropProb = p
}

// Partition splits the network so that no message can flow between a
// server in one of groups and a server in a different one of groups, in
// either direction; a server listed in no group is not blocked at all.
// Calling Partition again replaces the previous partition.
func (n *Network) Partition(groups ...[]raft.ServerId) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partition = make(map[raft.ServerId]map[raft.ServerId]bool)
	for gi, group := range groups {
		for _, from := range group {
			if n.partition[from] == nil {
				n.partition[from] = make(map[raft.ServerId]bool)
			}
			for gj, other := range groups {
				if gi == gj {
					continue
				}
				for _, to := range other {
					n.partition[from][to] = true
				}
			}
		}
	}
}

// Heal removes every partition, restoring full connectivity.
func (n *Network) Heal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partition = make(map[raft.ServerId]map[raft.ServerId]bool)
}

func (n *Network) blocked(from, to raft.ServerId) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.partition[from][to]
}

func (n *Network) delay() time.Duration {
	n.mu.RLock()
	base, jitter := n.latency, n.jitter
	n.mu.RUnlock()
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(n.rng.Int63n(int64(jitter)))
}

func (n *Network) shouldDrop() bool {
	n.mu.RLock()
	p := n.dropProb
	n.mu.RUnlock()
	return p > 0 && n.rng.Float64() < p
}

func (n *Network) handlerFor(peer raft.ServerId) (*nodeHandle, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	h, ok := n.nodes[peer]
	return h, ok
}

// sendRequestVote delivers one RequestVote from from to peer; the
// raft.Transport that PerspectiveOf returns calls it. from identifies the
// caller for partition/drop bookkeeping; Network routes calls purely
// peer-to-peer, so callers identify themselves implicitly by always
// calling through the same perspective (see Cluster, which wires this up).
func (n *Network) sendRequestVote(from, peer raft.ServerId, req *raft.RequestVoteRequest) (*raft.RequestVoteReply, error) {
	if n.blocked(from, peer) || n.shouldDrop() {
		return nil, ErrDropped
	}
	h, ok := n.handlerFor(peer)
	if !ok {
		return nil, ErrDropped
	}
	if d := n.delay(); d > 0 {
		time.Sleep(d)
	}
	return h.requestVote(req)
}

func (n *Network) sendAppendEntries(from, peer raft.ServerId, req *raft.AppendEntriesRequest) (*raft.AppendEntriesReply, error) {
	if n.blocked(from, peer) || n.shouldDrop() {
		return nil, ErrDropped
	}
	h, ok := n.handlerFor(peer)
	if !ok {
		return nil, ErrDropped
	}
	if d := n.delay(); d > 0 {
		time.Sleep(d)
	}
	return h.appendEntries(req)
}

// PerspectiveOf returns a raft.Transport that always identifies its
// sender as id, for wiring into a single replica's Transport dependency.
func (n *Network) PerspectiveOf(id raft.ServerId) raft.Transport {
	return &perspective{network: n, self: id}
}

type perspective struct {
	network *Network
	self    raft.ServerId
}

func (p *perspective) SendRequestVote(peer raft.ServerId, req *raft.RequestVoteRequest) (*raft.RequestVoteReply, error) {
	return p.network.sendRequestVote(p.self, peer, req)
}

func (p *perspective) SendAppendEntries(peer raft.ServerId, req *raft.AppendEntriesRequest) (*raft.AppendEntriesReply, error) {
	return p.network.sendAppendEntries(p.self, peer, req)
}
