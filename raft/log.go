package raft

import "errors"

// ErrLogCorrupted is returned by Log.Open (or any later operation that
// detects a broken invariant) when the on-disk representation cannot be
// reconstructed into a consistent in-memory length. It is always fatal:
// the replica that receives it must shut down rather than continue
// operating on a log it cannot trust.
var ErrLogCorrupted = errors.New("raft: log is corrupted")

// Command is an opaque byte string understood only by the layer above
// package raft (package rsm serializes its own Command struct into this).
type Command []byte

// LogEntry is one entry in the replicated log.
type LogEntry struct {
	TermNo  TermNo
	Command Command
}

// LogIndex is a 1-based position in the log. Index 0 is the sentinel
// meaning "no entry".
type LogIndex uint64

// Log is the durable, ordered sequence of LogEntry that package raft
// replicates. The log is 1-indexed; index 0 is the sentinel "no entry".
//
// All mutating methods return only after their effect is crash-recoverable
// — see spec.md §3's durability invariant. Encoding is implementation
// defined (see package store for a bbolt-backed implementation); Open must
// reconstruct Length() exactly from whatever was durably written.
//
// A Log is owned by exactly one Node and must never be accessed from more
// than one goroutine concurrently (package rsm, which owns the Node,
// upholds this by running all Raft state transitions on a single
// goroutine).
type Log interface {
	// Open reconstructs the log's length from durable storage. It must be
	// called exactly once, before any other method.
	Open() error

	// Append appends entries to the log starting at position from+1. It is
	// the caller's responsibility to ensure from equals the log's current
	// Length (this is not re-validated here; see Node for the conflict
	// resolution that keeps this invariant true).
	Append(entries []LogEntry, from LogIndex) error

	// TruncateSuffix removes all entries with position >= index. Only legal
	// when reconciling a follower's log with a leader's (an index at or
	// before the local commitIndex must never be truncated).
	TruncateSuffix(index LogIndex) error

	// Read returns the entry at the given 1-based index. Undefined for
	// index 0 or index > Length().
	Read(index LogIndex) (LogEntry, error)

	// Term returns the term of the entry at index, or 0 for index 0.
	Term(index LogIndex) (TermNo, error)

	// Length returns the number of entries currently in the log.
	Length() LogIndex

	// LastLogTerm returns Term(Length()), or 0 if the log is empty.
	LastLogTerm() (TermNo, error)
}

// GetIndexAndTermOfLastEntry is a small helper used throughout package raft
// wherever "the index and term of our last log entry" needs computing.
func GetIndexAndTermOfLastEntry(log Log) (LogIndex, TermNo, error) {
	lastIndex := log.Length()
	if lastIndex == 0 {
		return 0, 0, nil
	}
	term, err := log.Term(lastIndex)
	if err != nil {
		return 0, 0, err
	}
	return lastIndex, term, nil
}
