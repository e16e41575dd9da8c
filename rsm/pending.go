package rsm

import (
	"fmt"

	"github.com/dsyscourse/rsm/raft"
)

// pendingTable tracks in-flight Execute calls on the leader, keyed by
// RequestId rather than by log index (spec.md §4.4.7): a leader can lose
// and regain leadership, or a command can be overwritten during log
// reconciliation, so the log index a command was appended at is not a
// stable identifier for "the promise this client is waiting on" — the
// RequestId, which the client chose, is.
//
// Only ever touched from the replica's single goroutine; the channels
// sends happen on that goroutine too, so they must be buffered (size 1)
// to avoid blocking it if nobody ever receives.
type pendingTable struct {
	byRequestId map[RequestId]*pendingEntry
	byLogIndex  map[raft.LogIndex]RequestId
}

// pendingEntry can have more than one waiter: proxy.Router retries an
// Execute call on any transport error, and transport.ExecuteClient's
// net/rpc call has no timeout of its own, so a retry can arrive on the
// leader while the first attempt's entry is still awaiting commit (spec.md
// §4.4.2's at-least-once delivery, observed server-side before the dedup
// cache has anything recorded). Every attached channel is woken with the
// same eventual Response.
type pendingEntry struct {
	index LogIndex
	chs   []chan Response
}

type LogIndex = raft.LogIndex

func newPendingTable() *pendingTable {
	return &pendingTable{
		byRequestId: make(map[RequestId]*pendingEntry),
		byLogIndex:  make(map[raft.LogIndex]RequestId),
	}
}

// lookup reports whether id already has a pending registration, without
// creating one. Callers (replica.Execute) must check this before
// appending a new log entry for id, so that a retried request attaches to
// the existing registration (see attach) instead of being appended to the
// log a second time.
func (p *pendingTable) lookup(id RequestId) bool {
	_, ok := p.byRequestId[id]
	return ok
}

// register records that id was newly appended at index, and returns a
// channel that will receive exactly one Response: either when index
// commits and is applied, or (abandonAll, not register) if this replica
// steps down before that happens. Panics if id already has a pending
// registration — callers must route a retry through attach instead,
// never call register twice for the same still-pending id; the C++
// original this is grounded on (rsm/replica/raft.cpp) makes the same
// precondition a crash-assert rather than silently overwriting state.
func (p *pendingTable) register(id RequestId, index raft.LogIndex) <-chan Response {
	if _, ok := p.byRequestId[id]; ok {
		panic(fmt.Sprintf("rsm: register called twice for still-pending request id %v", id))
	}
	ch := make(chan Response, 1)
	p.byRequestId[id] = &pendingEntry{index: index, chs: []chan Response{ch}}
	p.byLogIndex[index] = id
	return ch
}

// attach adds a new waiter to id's existing pending registration, for a
// retried Execute call that arrived while the first attempt's entry is
// still awaiting commit. Callers must check lookup(id) first; attach
// panics if id has no pending registration.
func (p *pendingTable) attach(id RequestId) <-chan Response {
	entry, ok := p.byRequestId[id]
	if !ok {
		panic(fmt.Sprintf("rsm: attach called for request id %v with no pending registration", id))
	}
	ch := make(chan Response, 1)
	entry.chs = append(entry.chs, ch)
	return ch
}

// resolve delivers response to every caller waiting on the command at
// index, if any are (a follower replica, or a leader that never had an
// Execute call for this index, has nothing registered here).
func (p *pendingTable) resolve(index raft.LogIndex, response Response) {
	id, ok := p.byLogIndex[index]
	if !ok {
		return
	}
	entry := p.byRequestId[id]
	for _, ch := range entry.chs {
		ch <- response
	}
	delete(p.byRequestId, id)
	delete(p.byLogIndex, index)
}

// abandonAll fails every pending entry with a NotALeader response — used
// when this replica steps down from leadership, since none of its
// in-flight promises can be fulfilled as leader anymore.
func (p *pendingTable) abandonAll() {
	for id, entry := range p.byRequestId {
		for _, ch := range entry.chs {
			ch <- Response{Kind: NotALeader}
		}
		delete(p.byRequestId, id)
	}
	p.byLogIndex = make(map[raft.LogIndex]RequestId)
}
