// Package raft implements the single-decree-free, leader-based consensus
// protocol (Raft) that the replicated state machine in package rsm is built
// on: term-based leader election, log replication with conflict back-off,
// and the commit rule that only advances through entries of the leader's
// own term.
//
// Package raft is deliberately silent about clients, request
// deduplication and the state machine's apply loop — those are owned by
// package rsm, which embeds a *Node and reacts to commit-index changes.
package raft

import "fmt"

// ServerId identifies a replica within a cluster. It must be stable across
// restarts since it is used as the value of votedFor and as the key into
// per-peer replication state.
type ServerId string

// TermNo is a Raft term number: a monotonically non-decreasing logical
// clock identifying an election epoch.
type TermNo uint64

// Role is the replica's current position in the Raft role machine.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}
