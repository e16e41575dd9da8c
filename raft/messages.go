package raft

// RequestVoteRequest is the RequestVote RPC argument (spec.md §6).
type RequestVoteRequest struct {
	Term         TermNo
	Candidate    ServerId
	LastLogIndex LogIndex
	LastLogTerm  TermNo
}

// RequestVoteReply is the RequestVote RPC result.
type RequestVoteReply struct {
	Term        TermNo
	VoteGranted bool
}

// AppendEntriesRequest is the AppendEntries RPC argument (spec.md §6). It
// doubles as the leader's heartbeat when Entries is empty.
type AppendEntriesRequest struct {
	Term              TermNo
	Leader            ServerId
	PrevLogIndex      LogIndex
	PrevLogTerm       TermNo
	Entries           []LogEntry
	LeaderCommitIndex LogIndex
}

// AppendEntriesReply is the AppendEntries RPC result. ConflictIndex and
// ConflictTerm are only meaningful when Success is false; they let the
// leader skip to the right next_index in one round trip instead of
// decrementing by one (spec.md §4.4.5/§4.4.6).
type AppendEntriesReply struct {
	Term          TermNo
	Success       bool
	ConflictIndex LogIndex
	ConflictTerm  TermNo
}

// Transport is the external collaborator (spec.md §1/§6: "the generic RPC
// runtime... out of scope") that package raft needs to reach peers. It is
// implemented by package sim (in-memory, for the deterministic harness and
// unit tests) and by package transport (a minimal net/rpc binding used by
// the cmd/ binaries).
//
// Both methods are expected to apply their own timeout; a Transport that
// blocks forever does not wedge the replica's single processing
// goroutine, since package rsm makes every send from a goroutine started
// for that one RPC, never from the processor goroutine itself; only that
// sending goroutine stays blocked.
type Transport interface {
	SendRequestVote(peer ServerId, req *RequestVoteRequest) (*RequestVoteReply, error)
	SendAppendEntries(peer ServerId, req *AppendEntriesRequest) (*AppendEntriesReply, error)
}
