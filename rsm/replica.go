package rsm

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dsyscourse/rsm/raft"
	"github.com/dsyscourse/rsm/statemachine"
)

// Config holds the replica's timing parameters: election timeout bounds,
// heartbeat interval, and internal tick interval.
type Config struct {
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
	TickInterval       time.Duration
}

// DefaultConfig returns timing parameters suited to the in-process
// deterministic simulation harness (package sim) and to small local
// clusters; production deployments should tune these against real network
// RTT (spec.md §6's net.rtt).
func DefaultConfig() Config {
	return Config{
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		HeartbeatInterval:  50 * time.Millisecond,
		TickInterval:       10 * time.Millisecond,
	}
}

const runnableChannelBufferSize = 256

// Replica is the active counterpart to raft.Node: it owns the single
// goroutine that drives consensus, applies committed entries to a
// statemachine.StateMachine exactly once, and answers client Execute
// calls (spec.md §4.4). It implements raft.CommitIndexChangeListener.
//
// Every exported method is safe to call from any goroutine: RPC-facing
// and client-facing calls marshal themselves onto the single processing
// goroutine (mirroring the teacher's runInProcessor/Async convention) and
// block for their result.
type Replica struct {
	ci        *raft.ClusterInfo
	log       raft.Log
	node      *raft.Node
	sm        statemachine.StateMachine
	transport raft.Transport
	cfg       Config
	logger    zerolog.Logger

	dedup   *dedupCache
	pending *pendingTable

	lastApplied raft.LogIndex

	electionTimeout   time.Duration
	lastHeartbeatSent time.Time
	rng               *rand.Rand

	runnableChannel chan func() error
	ticker          *time.Ticker
	stopSignal      chan struct{}
	stopped         int32
	stopErr         atomic.Value

	pauseMu  sync.Mutex
	pausedCh chan struct{} // non-nil while paused; closed by Resume
}

// NewReplica constructs a Replica, replays any already-committed log
// entries into sm (spec.md §4.4.8's startup/recovery), and starts its
// processing goroutine.
func NewReplica(
	ci *raft.ClusterInfo,
	log raft.Log,
	ps *raft.PersistentState,
	ms raft.MetadataStore,
	sm statemachine.StateMachine,
	transport raft.Transport,
	cfg Config,
	logger zerolog.Logger,
) (*Replica, error) {
	if err := log.Open(); err != nil {
		return nil, err
	}

	r := &Replica{
		ci:              ci,
		log:             log,
		sm:              sm,
		transport:       transport,
		cfg:             cfg,
		logger:          logger,
		dedup:           newDedupCache(),
		pending:         newPendingTable(),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano() + int64(len(ci.ThisServerId())))),
		runnableChannel: make(chan func() error, runnableChannelBufferSize),
		ticker:          time.NewTicker(cfg.TickInterval),
		stopSignal:      make(chan struct{}, 1),
	}

	node, err := raft.NewNode(ci, log, ps, ms, r, logger)
	if err != nil {
		return nil, err
	}
	r.node = node
	r.electionTimeout = r.randomElectionTimeout()

	sm.Reset()
	for idx := raft.LogIndex(1); idx <= node.CommitIndex(); idx++ {
		entry, err := log.Read(idx)
		if err != nil {
			return nil, err
		}
		cmd, err := decodeCommand(entry.Command)
		if err != nil {
			return nil, err
		}
		r.applyCommand(cmd)
	}
	r.lastApplied = node.CommitIndex()

	go r.processor()
	return r, nil
}

func (r *Replica) randomElectionTimeout() time.Duration {
	span := r.cfg.ElectionTimeoutMax - r.cfg.ElectionTimeoutMin
	if span <= 0 {
		return r.cfg.ElectionTimeoutMin
	}
	return r.cfg.ElectionTimeoutMin + time.Duration(r.rng.Int63n(int64(span)))
}

// IsStopped reports whether the processing goroutine has exited.
func (r *Replica) IsStopped() bool {
	return atomic.LoadInt32(&r.stopped) != 0
}

// StopErr returns the error that stopped the processor, or nil if it is
// still running or stopped cleanly.
func (r *Replica) StopErr() error {
	if v := r.stopErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Stop asynchronously shuts down the processing goroutine.
func (r *Replica) Stop() {
	select {
	case r.stopSignal <- struct{}{}:
	default:
	}
}

// Pause freezes the processing goroutine in place: it stops consuming
// RPCs, Execute calls and its own election/heartbeat timer until Resume
// is called, simulating a process frozen by a long GC pause or VM
// migration stall (spec.md §8's "pause" adversary) rather than a crash —
// unlike Cluster.Crash (a network partition), Pause touches no routing
// state, and every call queued on runnableChannel while paused is simply
// processed, in order, once Resume lifts the freeze. A no-op if already
// paused.
func (r *Replica) Pause() {
	r.pauseMu.Lock()
	defer r.pauseMu.Unlock()
	if r.pausedCh == nil {
		r.pausedCh = make(chan struct{})
	}
}

// Resume lifts a freeze started by Pause. A no-op if not currently
// paused.
func (r *Replica) Resume() {
	r.pauseMu.Lock()
	defer r.pauseMu.Unlock()
	if r.pausedCh != nil {
		close(r.pausedCh)
		r.pausedCh = nil
	}
}

// pauseGate returns the channel the processor goroutine should block on
// while paused, or nil if not currently paused.
func (r *Replica) pauseGate() chan struct{} {
	r.pauseMu.Lock()
	defer r.pauseMu.Unlock()
	return r.pausedCh
}

func (r *Replica) runInProcessor(f func() error) {
	select {
	case r.runnableChannel <- f:
	default:
		r.logger.Warn().Msg("runnableChannel full, dropping task")
	}
}

func (r *Replica) processor() {
	var stopErr error
loop:
	for {
		if gate := r.pauseGate(); gate != nil {
			select {
			case <-gate:
				continue loop
			case <-r.stopSignal:
				break loop
			}
		}
		select {
		case f, ok := <-r.runnableChannel:
			if !ok {
				stopErr = errors.New("rsm: runnableChannel closed")
				break loop
			}
			if err := f(); err != nil {
				stopErr = err
				break loop
			}
		case <-r.ticker.C:
			r.onTick(time.Now())
		case <-r.stopSignal:
			break loop
		}
	}
	if stopErr != nil {
		r.stopErr.Store(stopErr)
	}
	atomic.StoreInt32(&r.stopped, 1)
	r.ticker.Stop()
}

// onTick runs on the processor goroutine: it is the only place elections
// are started and heartbeats are paced.
func (r *Replica) onTick(now time.Time) {
	wasLeader := r.node.Role() == raft.Leader
	switch r.node.Role() {
	case raft.Follower, raft.Candidate:
		if now.Sub(r.node.ElectionResetEvent()) >= r.electionTimeout {
			r.beginElection(now)
		}
	case raft.Leader:
		if now.Sub(r.lastHeartbeatSent) >= r.cfg.HeartbeatInterval {
			r.broadcastAppendEntries()
			r.lastHeartbeatSent = now
		}
	}
	r.checkSteppedDown(wasLeader)
}

// checkSteppedDown must be called (on the processor goroutine) after any
// operation that could cause this replica to step down from leadership,
// so that in-flight client promises are failed instead of hanging
// forever.
func (r *Replica) checkSteppedDown(wasLeader bool) {
	if wasLeader && r.node.Role() != raft.Leader {
		r.pending.abandonAll()
	}
}

func (r *Replica) beginElection(now time.Time) {
	req, err := r.node.BecomeCandidate(now)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to start election")
		return
	}
	r.electionTimeout = r.randomElectionTimeout()
	for _, peer := range r.ci.Peers() {
		peer := peer
		go r.campaign(peer, req)
	}
}

func (r *Replica) campaign(peer raft.ServerId, req *raft.RequestVoteRequest) {
	reply, err := r.transport.SendRequestVote(peer, req)
	if err != nil {
		r.logger.Debug().Err(err).Str("peer", string(peer)).Msg("request vote rpc failed")
		return
	}
	r.runInProcessor(func() error {
		becameLeader, err := r.node.RecordVoteResult(req.Term, peer, reply)
		if err != nil {
			return err
		}
		if becameLeader {
			r.onBecameLeader()
		}
		return nil
	})
}

func (r *Replica) onBecameLeader() {
	r.logger.Info().Str("server", string(r.ci.ThisServerId())).Msg("became leader, sending initial heartbeat")
	r.broadcastAppendEntries()
	r.lastHeartbeatSent = time.Now()
}

func (r *Replica) broadcastAppendEntries() {
	for _, peer := range r.ci.Peers() {
		req, err := r.node.BuildAppendEntriesRequest(peer)
		if err != nil {
			// No longer leader partway through the loop; the rest of the
			// peers will simply not get this round's heartbeat.
			return
		}
		peer := peer
		req := req
		go r.sendAppendEntries(peer, req)
	}
}

func (r *Replica) sendAppendEntries(peer raft.ServerId, req *raft.AppendEntriesRequest) {
	reply, err := r.transport.SendAppendEntries(peer, req)
	if err != nil {
		r.logger.Debug().Err(err).Str("peer", string(peer)).Msg("append entries rpc failed")
		return
	}
	r.runInProcessor(func() error {
		wasLeader := r.node.Role() == raft.Leader
		err := r.node.HandleAppendEntriesReply(peer, req, reply)
		r.checkSteppedDown(wasLeader)
		return err
	})
}

// Role reports this replica's current Raft role. Safe to call from any
// goroutine; mainly useful to tests and to package sim's invariant
// checker.
func (r *Replica) Role() raft.Role {
	ch := make(chan raft.Role, 1)
	r.runInProcessor(func() error {
		ch <- r.node.Role()
		return nil
	})
	return <-ch
}

// CurrentTerm reports this replica's current Raft term. Safe to call from
// any goroutine.
func (r *Replica) CurrentTerm() raft.TermNo {
	ch := make(chan raft.TermNo, 1)
	r.runInProcessor(func() error {
		ch <- r.node.CurrentTerm()
		return nil
	})
	return <-ch
}

// LeaderHint reports who this replica currently believes is leader, and
// whether it has any idea at all.
func (r *Replica) LeaderHint() (raft.ServerId, bool) {
	type hint struct {
		id  raft.ServerId
		has bool
	}
	ch := make(chan hint, 1)
	r.runInProcessor(func() error {
		id, has := r.node.Leader()
		ch <- hint{id, has}
		return nil
	})
	h := <-ch
	return h.id, h.has
}

// HandleRequestVote answers an incoming RequestVote RPC. Safe to call
// from any goroutine (package transport's RPC server calls it directly).
func (r *Replica) HandleRequestVote(req *raft.RequestVoteRequest) (*raft.RequestVoteReply, error) {
	replyCh := make(chan *raft.RequestVoteReply, 1)
	errCh := make(chan error, 1)
	r.runInProcessor(func() error {
		wasLeader := r.node.Role() == raft.Leader
		reply, err := r.node.HandleRequestVote(req, time.Now())
		r.checkSteppedDown(wasLeader)
		if err != nil {
			errCh <- err
			return err
		}
		replyCh <- reply
		return nil
	})
	select {
	case reply := <-replyCh:
		return reply, nil
	case err := <-errCh:
		return nil, err
	}
}

// HandleAppendEntries answers an incoming AppendEntries RPC.
func (r *Replica) HandleAppendEntries(req *raft.AppendEntriesRequest) (*raft.AppendEntriesReply, error) {
	replyCh := make(chan *raft.AppendEntriesReply, 1)
	errCh := make(chan error, 1)
	r.runInProcessor(func() error {
		wasLeader := r.node.Role() == raft.Leader
		reply, err := r.node.HandleAppendEntries(req, time.Now())
		r.checkSteppedDown(wasLeader)
		if err != nil {
			errCh <- err
			return err
		}
		replyCh <- reply
		return nil
	})
	select {
	case reply := <-replyCh:
		return reply, nil
	case err := <-errCh:
		return nil, err
	}
}

// Execute submits cmd for replication and blocks until it has either been
// applied (Ack, possibly from the dedup cache on a retry), or this
// replica can say with confidence that it is not the one to ask
// (RedirectToLeader / NotALeader) — spec.md §4.4.2.
func (r *Replica) Execute(cmd Command) Response {
	type outcome struct {
		immediate *Response
		waitCh    <-chan Response
	}
	outcomeCh := make(chan outcome, 1)

	r.runInProcessor(func() error {
		if cached, found := r.dedup.lookup(cmd.RequestId); found {
			outcomeCh <- outcome{immediate: &cached}
			return nil
		}
		if r.node.Role() != raft.Leader {
			outcomeCh <- outcome{immediate: r.notLeaderResponse()}
			return nil
		}
		if r.pending.lookup(cmd.RequestId) {
			// A retry of a request this replica is already waiting to
			// commit (the dedup cache only remembers applied requests, not
			// in-flight ones) — attach to the existing registration rather
			// than appending cmd to the log a second time.
			outcomeCh <- outcome{waitCh: r.pending.attach(cmd.RequestId)}
			return nil
		}

		encoded, err := encodeCommand(cmd)
		if err != nil {
			return err
		}
		index, _, err := r.node.AppendCommand(raft.Command(encoded))
		if errors.Is(err, raft.ErrNotLeader) {
			outcomeCh <- outcome{immediate: r.notLeaderResponse()}
			return nil
		}
		if err != nil {
			return err
		}
		ch := r.pending.register(cmd.RequestId, index)
		outcomeCh <- outcome{waitCh: ch}
		r.broadcastAppendEntries()
		return nil
	})

	result := <-outcomeCh
	if result.immediate != nil {
		return *result.immediate
	}
	return <-result.waitCh
}

// notLeaderResponse must be called on the processor goroutine.
func (r *Replica) notLeaderResponse() *Response {
	if leader, has := r.node.Leader(); has {
		return &Response{Kind: RedirectToLeader, RedirectTo: string(leader)}
	}
	return &Response{Kind: NotALeader}
}

// CommitIndexChanged implements raft.CommitIndexChangeListener. It is
// called synchronously by Node, from the processor goroutine, and applies
// every newly committed entry to sm exactly once (spec.md §4.4.7).
func (r *Replica) CommitIndexChanged(newCommitIndex raft.LogIndex) {
	for idx := r.lastApplied + 1; idx <= newCommitIndex; idx++ {
		entry, err := r.log.Read(idx)
		if err != nil {
			r.logger.Error().Err(err).Uint64("index", uint64(idx)).Msg("failed to read committed entry")
			return
		}
		cmd, err := decodeCommand(entry.Command)
		if err != nil {
			r.logger.Error().Err(err).Uint64("index", uint64(idx)).Msg("failed to decode committed command")
			return
		}
		resp := r.applyCommand(cmd)
		r.lastApplied = idx
		r.pending.resolve(idx, resp)
	}
}

// applyCommand applies cmd to sm unless it is a duplicate already
// recorded in the dedup cache, and records the outcome either way.
func (r *Replica) applyCommand(cmd Command) Response {
	if cached, found := r.dedup.lookup(cmd.RequestId); found {
		return cached
	}
	result := r.sm.Apply(cmd.Type, cmd.Request)
	resp := Response{Kind: Ack, Result: result}
	r.dedup.record(cmd.RequestId, resp)
	return resp
}
