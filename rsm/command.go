// Package rsm implements the replicated state machine layer (C4/C5) on
// top of package raft: request deduplication, the pending-execute promise
// table, and the active, single-goroutine replica that owns a raft.Node
// and a statemachine.StateMachine.
package rsm

import "fmt"

// ClientId identifies one client session. Generated once per client
// (package client does this with google/uuid) and carried on every
// command that client submits, for the lifetime of that client.
type ClientId string

// RequestId uniquely identifies one client request, for exactly-once
// application (spec.md §4.4.2/§4.4.7): a client's own requests are
// strictly increasing by Index, so a replica can recognize and skip a
// request it has already applied.
type RequestId struct {
	ClientId ClientId
	Index    uint64
}

func (id RequestId) String() string {
	return fmt.Sprintf("client-%s-idx-%d", id.ClientId, id.Index)
}

// Command is the unit of replication: one client operation, opaque to
// package raft, serialized into raft.Command bytes via gob before being
// appended to the log.
type Command struct {
	// Type names the operation for the state machine (e.g. "Set", "Get",
	// "Cas" in package kv); rsm itself never interprets it.
	Type string

	// Request is the serialized operation request.
	Request []byte

	// RequestId is the globally unique id used for deduplication.
	RequestId RequestId

	// ReadOnly commands still go through the log in this implementation;
	// a read-index/lease-based fast path for read-only commands is a
	// spec.md non-goal, but the flag is kept on the wire format so it is
	// ready to be exploited by that optimization without a wire-format
	// change.
	ReadOnly bool
}

// Response is the result of executing a Command, tagged so the caller can
// tell a successful application apart from the two redirect cases.
type Response struct {
	Kind ResponseKind

	// Result holds the state machine's serialized response, valid only
	// when Kind == Ack.
	Result []byte

	// RedirectTo holds a best-effort guess at the current leader, valid
	// only when Kind == RedirectToLeader.
	RedirectTo string
}

type ResponseKind int

const (
	// Ack means the command was (or, for a deduplicated repeat, already
	// had been) applied to the state machine; Result carries its output.
	Ack ResponseKind = iota

	// RedirectToLeader means this replica is a follower that knows of a
	// leader; RedirectTo names it.
	RedirectToLeader

	// NotALeader means this replica is not the leader and has no current
	// idea of who the leader is, or that it stepped down from leadership
	// while the command was still awaiting commit.
	NotALeader
)
