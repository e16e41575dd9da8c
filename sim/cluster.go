package sim

import (
	"github.com/rs/zerolog"

	"github.com/dsyscourse/rsm/raft"
	"github.com/dsyscourse/rsm/rsm"
	"github.com/dsyscourse/rsm/statemachine"
)

// Cluster wires N in-process rsm.Replicas together over a Network, for
// this module's own tests: the in-memory Log/MetadataStore pair below
// stand in for package store's durable bbolt implementation, since a
// simulation run never needs to survive a process restart.
type Cluster struct {
	Network  *Network
	Replicas map[raft.ServerId]*rsm.Replica
	ids      []raft.ServerId
	logs     map[raft.ServerId]*volatileLog
}

// StateMachineFactory builds a fresh state machine for one replica;
// passed in so different tests can simulate with package kv's
// StateMachine or a purpose-built fake.
type StateMachineFactory func() statemachine.StateMachine

// NewCluster constructs ids and wires every replica's raft.Transport to a
// shared Network, and every replica's storage to a fresh in-memory
// Log/MetadataStore pair.
func NewCluster(ids []raft.ServerId, cfg rsm.Config, smFactory StateMachineFactory, logger zerolog.Logger) (*Cluster, error) {
	network := NewNetwork()
	cluster := &Cluster{
		Network:  network,
		Replicas: make(map[raft.ServerId]*rsm.Replica),
		ids:      ids,
		logs:     make(map[raft.ServerId]*volatileLog),
	}

	for _, id := range ids {
		ci, err := raft.NewClusterInfo(ids, id)
		if err != nil {
			return nil, err
		}
		log := newVolatileLog()
		ms := newVolatileMetadataStore()
		ps, err := raft.NewPersistentState(ms)
		if err != nil {
			return nil, err
		}
		sm := smFactory()
		transport := network.PerspectiveOf(id)

		replica, err := rsm.NewReplica(ci, log, ps, ms, sm, transport, cfg, logger.With().Str("server", string(id)).Logger())
		if err != nil {
			return nil, err
		}
		cluster.Replicas[id] = replica
		cluster.logs[id] = log
		network.Register(id, replica.HandleRequestVote, replica.HandleAppendEntries)
	}
	return cluster, nil
}

// Stop shuts down every replica's processing goroutine.
func (c *Cluster) Stop() {
	for _, r := range c.Replicas {
		r.Stop()
	}
}

// Leader returns one replica currently believing itself to be leader, and
// whether any was found. With a healthy, connected cluster this should
// settle to exactly one within a few election timeouts.
func (c *Cluster) Leader() (raft.ServerId, *rsm.Replica, bool) {
	for _, id := range c.ids {
		r := c.Replicas[id]
		if r.Role() == raft.Leader {
			return id, r, true
		}
	}
	return "", nil, false
}

// Crash isolates a replica from the rest of the network without stopping
// its goroutine, simulating a partition indistinguishable from a process
// crash from its peers' point of view. Call Heal to restore connectivity
// and let it rejoin.
func (c *Cluster) Crash(id raft.ServerId) {
	c.Network.Partition([]raft.ServerId{id}, otherThan(c.ids, id))
}

// Heal restores full connectivity.
func (c *Cluster) Heal() {
	c.Network.Heal()
}

// Pause freezes id's processing goroutine in place (spec.md §8's "pause"
// adversary) — unlike Crash, connectivity is untouched; the replica
// simply stops consuming anything, including RPCs sent to it, until
// Resume.
func (c *Cluster) Pause(id raft.ServerId) {
	c.Replicas[id].Pause()
}

// Resume lifts a freeze started by Pause.
func (c *Cluster) Resume(id raft.ServerId) {
	c.Replicas[id].Resume()
}

func otherThan(ids []raft.ServerId, exclude raft.ServerId) []raft.ServerId {
	out := make([]raft.ServerId, 0, len(ids)-1)
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
