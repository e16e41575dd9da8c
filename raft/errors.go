package raft

import "errors"

var (
	// ErrNotLeader is returned by Node.AppendCommand when called on a
	// replica that is not currently the leader.
	ErrNotLeader = errors.New("raft: not leader")

	// ErrStaleRequest is a sentinel for callers outside Node. Node itself
	// never returns it: a stale reply (e.g. an AppendEntries reply for a
	// request issued in an earlier term) is silently ignored by
	// HandleAppendEntriesReply and RecordVoteResult.
	ErrStaleRequest = errors.New("raft: stale request")
)

// CommitIndexChangeListener is notified synchronously, from the single
// goroutine driving Node, whenever commitIndex advances. The listener is
// expected to read the newly committed entries from the shared Log and
// apply them to the state machine (package rsm does this, combining it
// with the dedup cache and the pending-execute table per spec.md §4.4.7).
//
// Node guarantees:
//   - CommitIndexChanged is called with a strictly increasing sequence of
//     values across the lifetime of a Node.
//   - The call happens after the new commitIndex (and, for a leader, the
//     underlying log entries) are already durable.
//
// CommitIndexChanged must not call back into Node — it runs on Node's own
// goroutine and Node is not reentrant.
type CommitIndexChangeListener interface {
	CommitIndexChanged(newCommitIndex LogIndex)
}
