package raft

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Node is the passive Raft consensus state machine: term, role, log, and
// commit-index bookkeeping, plus the RequestVote/AppendEntries receiver
// logic and the leader's per-peer replication bookkeeping (spec.md §4.4).
//
// Node has no goroutines and no locking of its own. Every exported method
// must be called from a single, consistent goroutine — package rsm
// upholds this by running one goroutine per replica and funneling every
// timer firing, RPC arrival, RPC reply and client Execute call through it.
// This is equivalent to (and implements) the "single replica-wide mutex"
// concurrency model spec.md §5 describes, expressed instead as exclusive
// goroutine ownership, which is the idiom the rest of this module's
// concurrent state (see package rsm) follows throughout.
type Node struct {
	ci  *ClusterInfo
	log Log
	ps  *PersistentState
	ms  MetadataStore

	commitListener CommitIndexChangeListener
	logger         zerolog.Logger

	role   Role
	leader ServerId
	hasLdr bool

	commitIndex LogIndex

	// Candidate-only.
	votes *candidateVotes

	// Leader-only. Keyed by peer ServerId.
	nextIndex  map[ServerId]LogIndex
	matchIndex map[ServerId]LogIndex

	electionResetEvent time.Time
}

// NewNode constructs a Node, loading currentTerm/votedFor from ps (already
// populated by NewPersistentState) and commitIndex from ms. It does not
// replay the log into a state machine — package rsm does that once, right
// after constructing its Node, using the same commitIndex this returns via
// CommitIndex().
func NewNode(
	ci *ClusterInfo,
	log Log,
	ps *PersistentState,
	ms MetadataStore,
	commitListener CommitIndexChangeListener,
	logger zerolog.Logger,
) (*Node, error) {
	commitIndex, err := LoadCommitIndex(ms)
	if err != nil {
		return nil, err
	}
	if commitIndex > log.Length() {
		// A stored commitIndex that outran the log is clamped back — the
		// log is the source of truth.
		commitIndex = log.Length()
	}
	return &Node{
		ci:             ci,
		log:            log,
		ps:             ps,
		ms:             ms,
		commitListener: commitListener,
		logger:         logger,
		role:           Follower,
		commitIndex:    commitIndex,
	}, nil
}

func (n *Node) Role() Role               { return n.role }
func (n *Node) CurrentTerm() TermNo       { return n.ps.GetCurrentTerm() }
func (n *Node) CommitIndex() LogIndex     { return n.commitIndex }
func (n *Node) ElectionResetEvent() time.Time { return n.electionResetEvent }

// Leader returns the ServerId of the last replica seen acting as leader
// (learned from AppendEntries), and whether one is known at all.
func (n *Node) Leader() (ServerId, bool) {
	return n.leader, n.hasLdr
}

// TouchElectionTimer resets the election timer reference point. Called by
// the owning replica whenever an event occurs that should prevent an
// election timeout (valid AppendEntries from the current leader, granting
// a vote, becoming a candidate).
func (n *Node) TouchElectionTimer(now time.Time) {
	n.electionResetEvent = now
}

// stepDown implements the rule from spec.md §4.4.3: "Any role, on receiving
// RPC with term > currentTerm: set currentTerm := term, votedFor := none,
// role := Follower, persist metadata."
func (n *Node) stepDown(term TermNo) error {
	n.ps.SetCurrentTermAndVotedFor(term, "", false)
	n.role = Follower
	n.votes = nil
	n.nextIndex = nil
	n.matchIndex = nil
	return n.ps.Flush()
}

// HandleRequestVote implements spec.md §4.4.4.
func (n *Node) HandleRequestVote(req *RequestVoteRequest, now time.Time) (*RequestVoteReply, error) {
	if req.Term > n.CurrentTerm() {
		if err := n.stepDown(req.Term); err != nil {
			return nil, err
		}
	}

	reply := &RequestVoteReply{Term: n.CurrentTerm(), VoteGranted: false}
	if req.Term < n.CurrentTerm() {
		return reply, nil
	}

	lastIndex, lastTerm, err := GetIndexAndTermOfLastEntry(n.log)
	if err != nil {
		return nil, err
	}

	candidateUpToDate := req.LastLogTerm > lastTerm ||
		(req.LastLogTerm == lastTerm && req.LastLogIndex >= lastIndex)

	votedFor, hasVoted := n.ps.GetVotedFor()
	canVote := !hasVoted || votedFor == req.Candidate

	if canVote && candidateUpToDate {
		n.ps.SetCurrentTermAndVotedFor(n.CurrentTerm(), req.Candidate, true)
		if err := n.ps.Flush(); err != nil {
			return nil, err
		}
		n.TouchElectionTimer(now)
		reply.VoteGranted = true
	}
	reply.Term = n.CurrentTerm()
	return reply, nil
}

// HandleAppendEntries implements spec.md §4.4.5.
func (n *Node) HandleAppendEntries(req *AppendEntriesRequest, now time.Time) (*AppendEntriesReply, error) {
	if req.Term > n.CurrentTerm() {
		if err := n.stepDown(req.Term); err != nil {
			return nil, err
		}
	}

	if req.Term < n.CurrentTerm() {
		return &AppendEntriesReply{Term: n.CurrentTerm(), Success: false}, nil
	}

	n.leader = req.Leader
	n.hasLdr = true
	if n.role != Follower {
		n.role = Follower
		n.votes = nil
		n.nextIndex = nil
		n.matchIndex = nil
	}
	n.TouchElectionTimer(now)

	logLen := n.log.Length()
	var prevTerm TermNo
	var err error
	if req.PrevLogIndex > 0 {
		if req.PrevLogIndex > logLen {
			return n.appendEntriesConflictReply(req.PrevLogIndex)
		}
		prevTerm, err = n.log.Term(req.PrevLogIndex)
		if err != nil {
			return nil, err
		}
	}
	if req.PrevLogIndex > 0 && prevTerm != req.PrevLogTerm {
		return n.appendEntriesConflictReply(req.PrevLogIndex)
	}

	if err := n.reconcileEntries(req.PrevLogIndex, req.Entries); err != nil {
		return nil, err
	}

	if req.LeaderCommitIndex > n.commitIndex {
		newCommit := req.LeaderCommitIndex
		if lastNew := n.log.Length(); newCommit > lastNew {
			newCommit = lastNew
		}
		if err := n.advanceCommitIndex(newCommit); err != nil {
			return nil, err
		}
	}

	return &AppendEntriesReply{Term: n.CurrentTerm(), Success: true}, nil
}

// reconcileEntries walks entries against the local log starting at
// prevLogIndex+1, skipping the prefix that already matches, then
// truncating and appending the remainder (spec.md §4.4.5 step 4).
func (n *Node) reconcileEntries(prevLogIndex LogIndex, entries []LogEntry) error {
	insertAt := prevLogIndex + 1
	i := 0
	for i < len(entries) {
		if insertAt > n.log.Length() {
			break
		}
		localTerm, err := n.log.Term(insertAt)
		if err != nil {
			return err
		}
		if localTerm != entries[i].TermNo {
			break
		}
		insertAt++
		i++
	}
	if i >= len(entries) {
		return nil
	}
	if n.log.Length() >= insertAt {
		if err := n.log.TruncateSuffix(insertAt); err != nil {
			return err
		}
	}
	return n.log.Append(entries[i:], insertAt-1)
}

// appendEntriesConflictReply implements the conflict hint of spec.md
// §4.4.5.
func (n *Node) appendEntriesConflictReply(prevLogIndex LogIndex) (*AppendEntriesReply, error) {
	reply := &AppendEntriesReply{Term: n.CurrentTerm(), Success: false}
	logLen := n.log.Length()
	if prevLogIndex > logLen {
		reply.ConflictTerm = 0
		reply.ConflictIndex = logLen + 1
		return reply, nil
	}
	conflictTerm, err := n.log.Term(prevLogIndex)
	if err != nil {
		return nil, err
	}
	reply.ConflictTerm = conflictTerm
	firstOfTerm := prevLogIndex
	for firstOfTerm > 1 {
		t, err := n.log.Term(firstOfTerm - 1)
		if err != nil {
			return nil, err
		}
		if t != conflictTerm {
			break
		}
		firstOfTerm--
	}
	reply.ConflictIndex = firstOfTerm
	return reply, nil
}

// advanceCommitIndex sets commitIndex to newCommitIndex (which must be >
// the current value), persists it via StoreCommitIndex on every advance,
// and then notifies the listener.
func (n *Node) advanceCommitIndex(newCommitIndex LogIndex) error {
	if newCommitIndex <= n.commitIndex {
		return nil
	}
	n.commitIndex = newCommitIndex
	if err := StoreCommitIndex(n.ms, n.commitIndex); err != nil {
		return err
	}
	if n.commitListener != nil {
		n.commitListener.CommitIndexChanged(n.commitIndex)
	}
	return nil
}

// BecomeCandidate implements spec.md §4.4.3's Follower/Candidate election
// start: bumps the term, votes for self, and returns the RequestVote
// arguments to broadcast. The caller (package rsm) is responsible for
// actually sending the RPCs and feeding replies back via
// RecordVoteResult.
func (n *Node) BecomeCandidate(now time.Time) (*RequestVoteRequest, error) {
	newTerm := n.CurrentTerm() + 1
	n.ps.SetCurrentTermAndVotedFor(newTerm, n.ci.ThisServerId(), true)
	if err := n.ps.Flush(); err != nil {
		return nil, err
	}
	n.role = Candidate
	n.votes = newCandidateVotes(n.ci)
	n.TouchElectionTimer(now)

	lastIndex, lastTerm, err := GetIndexAndTermOfLastEntry(n.log)
	if err != nil {
		return nil, err
	}
	n.logger.Info().Uint64("term", uint64(newTerm)).Msg("became candidate")
	return &RequestVoteRequest{
		Term:         newTerm,
		Candidate:    n.ci.ThisServerId(),
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	}, nil
}

// RecordVoteResult processes one RequestVote reply received while
// campaigning in term campaignTerm. It returns becameLeader=true exactly
// once, the call during which quorum was reached.
func (n *Node) RecordVoteResult(campaignTerm TermNo, from ServerId, reply *RequestVoteReply) (becameLeader bool, err error) {
	if reply.Term > n.CurrentTerm() {
		return false, n.stepDown(reply.Term)
	}
	if n.role != Candidate || n.CurrentTerm() != campaignTerm || reply.Term != campaignTerm {
		return false, nil
	}
	if !reply.VoteGranted {
		return false, nil
	}
	quorum, err := n.votes.addVoteFrom(from)
	if err != nil {
		return false, err
	}
	if !quorum {
		return false, nil
	}
	n.becomeLeader()
	return true, nil
}

func (n *Node) becomeLeader() {
	n.role = Leader
	n.hasLdr = true
	n.leader = n.ci.ThisServerId()
	n.votes = nil

	length := n.log.Length()
	n.nextIndex = make(map[ServerId]LogIndex)
	n.matchIndex = make(map[ServerId]LogIndex)
	for _, peer := range n.ci.Peers() {
		n.nextIndex[peer] = length + 1
		n.matchIndex[peer] = 0
	}
	n.logger.Info().Uint64("term", uint64(n.CurrentTerm())).Msg("became leader")
}

// BecomeFollowerOnHigherTerm lets the owning replica report a term learned
// outside of a direct RequestVote/AppendEntries reply (not currently used
// by package rsm, but kept symmetrical with stepDown's other callers for
// any future Transport that surfaces bare term info, e.g. a heartbeat
// acknowledgement channel).
func (n *Node) BecomeFollowerOnHigherTerm(term TermNo) error {
	if term <= n.CurrentTerm() {
		return nil
	}
	return n.stepDown(term)
}

// AppendCommand appends a new command at the current term, as the leader.
// It returns ErrNotLeader if this Node is not currently the leader.
func (n *Node) AppendCommand(cmd Command) (LogIndex, TermNo, error) {
	if n.role != Leader {
		return 0, 0, ErrNotLeader
	}
	term := n.CurrentTerm()
	index := n.log.Length() + 1
	if err := n.log.Append([]LogEntry{{TermNo: term, Command: cmd}}, index-1); err != nil {
		return 0, 0, err
	}
	return index, term, nil
}

// BuildAppendEntriesRequest snapshots the state needed to send (or resend)
// an AppendEntries RPC to peer: prevLogIndex/Term from next_index[peer],
// the entries from next_index[peer] onward, and the leader's commitIndex.
// Leader-only.
func (n *Node) BuildAppendEntriesRequest(peer ServerId) (*AppendEntriesRequest, error) {
	if n.role != Leader {
		return nil, ErrNotLeader
	}
	ni, ok := n.nextIndex[peer]
	if !ok {
		return nil, fmt.Errorf("raft: unknown peer: %v", peer)
	}
	prevLogIndex := ni - 1
	var prevLogTerm TermNo
	var err error
	if prevLogIndex > 0 {
		prevLogTerm, err = n.log.Term(prevLogIndex)
		if err != nil {
			return nil, err
		}
	}
	length := n.log.Length()
	entries := make([]LogEntry, 0, length-ni+1)
	for i := ni; i <= length; i++ {
		e, err := n.log.Read(i)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return &AppendEntriesRequest{
		Term:              n.CurrentTerm(),
		Leader:            n.ci.ThisServerId(),
		PrevLogIndex:      prevLogIndex,
		PrevLogTerm:       prevLogTerm,
		Entries:           entries,
		LeaderCommitIndex: n.commitIndex,
	}, nil
}

// HandleAppendEntriesReply processes the reply to an AppendEntries request
// previously built by BuildAppendEntriesRequest for the same peer, and
// advances commitIndex if a new quorum has formed (spec.md §4.4.6).
// Leader-only; a stale reply (wrong term, or this Node stepped down and
// back up since) is silently ignored, matching spec.md's "re-validate
// currentTerm and role before acting".
func (n *Node) HandleAppendEntriesReply(peer ServerId, req *AppendEntriesRequest, reply *AppendEntriesReply) error {
	if reply.Term > n.CurrentTerm() {
		return n.stepDown(reply.Term)
	}
	if n.role != Leader || n.CurrentTerm() != req.Term || reply.Term != req.Term {
		return nil
	}

	if reply.Success {
		newNext := req.PrevLogIndex + LogIndex(len(req.Entries)) + 1
		if newNext > n.nextIndex[peer] {
			n.nextIndex[peer] = newNext
		}
		if newMatch := n.nextIndex[peer] - 1; newMatch > n.matchIndex[peer] {
			n.matchIndex[peer] = newMatch
		}
		return n.tryAdvanceCommitIndex()
	}

	if reply.ConflictTerm > 0 {
		lastIndexOfTerm, err := n.lastIndexOfTerm(reply.ConflictTerm)
		if err != nil {
			return err
		}
		if lastIndexOfTerm > 0 {
			n.nextIndex[peer] = lastIndexOfTerm + 1
		} else {
			n.nextIndex[peer] = reply.ConflictIndex
		}
	} else {
		n.nextIndex[peer] = reply.ConflictIndex
	}
	if n.nextIndex[peer] < 1 {
		n.nextIndex[peer] = 1
	}
	return nil
}

func (n *Node) lastIndexOfTerm(term TermNo) (LogIndex, error) {
	for i := n.log.Length(); i > 0; i-- {
		t, err := n.log.Term(i)
		if err != nil {
			return 0, err
		}
		if t == term {
			return i, nil
		}
		if t < term {
			break
		}
	}
	return 0, nil
}

// tryAdvanceCommitIndex implements the commit-from-own-term rule of
// spec.md §4.4.6: the leader only ever commits an entry by counting
// replicas directly; entries from earlier terms commit indirectly, as a
// side effect of a later same-term entry committing.
func (n *Node) tryAdvanceCommitIndex() error {
	length := n.log.Length()
	newCommit := n.commitIndex
	for i := n.commitIndex + 1; i <= length; i++ {
		term, err := n.log.Term(i)
		if err != nil {
			return err
		}
		if term != n.CurrentTerm() {
			continue
		}
		matches := uint(1) // the leader itself
		for _, peer := range n.ci.Peers() {
			if n.matchIndex[peer] >= i {
				matches++
			}
		}
		if matches >= n.ci.QuorumSize() {
			newCommit = i
		}
	}
	return n.advanceCommitIndex(newCommit)
}

// ReplicationTargets returns the set of peers a leader must keep
// replicating to. Safe to call in any role (returns the full peer list
// regardless); callers should check Role() == Leader first.
func (n *Node) ReplicationTargets() []ServerId {
	return n.ci.Peers()
}

// NextIndex returns the current next_index for peer (leader-only,
// diagnostic/testing use).
func (n *Node) NextIndex(peer ServerId) LogIndex {
	return n.nextIndex[peer]
}

// MatchIndex returns the current match_index for peer (leader-only,
// diagnostic/testing use).
func (n *Node) MatchIndex(peer ServerId) LogIndex {
	return n.matchIndex[peer]
}
