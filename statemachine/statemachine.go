// Package statemachine defines the state machine interface (C3) that
// package rsm drives from the committed log, and that every concrete
// application (package kv, for instance) implements.
package statemachine

// StateMachine is not safe for concurrent use. Package rsm only ever
// calls it from the single goroutine driving a replica's apply loop.
type StateMachine interface {
	// Reset moves the state machine to its initial, empty state. Called
	// once, on startup, before any committed entry is replayed into it.
	Reset()

	// Apply applies one operation to the state machine and returns the
	// serialized response that the RSM layer will deliver back to whatever
	// client (or proxy) is waiting on the corresponding request, if any.
	// opType names the operation (e.g. "Set", "Get", "Cas" in package kv);
	// request is that operation's serialized argument. Deduplication and
	// request bookkeeping belong to package rsm, not here — this
	// interface sees only the part of a command the application logic
	// actually needs.
	//
	// Apply must be deterministic: every replica applying the same
	// sequence of operations must reach the same state and return the
	// same sequence of responses (spec.md's state-machine-safety property
	// depends on this).
	Apply(opType string, request []byte) []byte

	// MakeSnapshot serializes the entire current state. Not exercised by
	// the replication path in this module (log compaction and snapshot
	// transfer between replicas are out of scope, see spec.md's Non-goals),
	// but required of every implementation since C3 specifies it.
	MakeSnapshot() ([]byte, error)

	// InstallSnapshot replaces the current state wholesale with the
	// contents of a previously made snapshot.
	InstallSnapshot(snapshot []byte) error
}
