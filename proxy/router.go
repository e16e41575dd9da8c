// Package proxy implements the stateless request router (C6): a
// component, grounded on the original ProxyClient, that forwards a
// client's Execute call to a guessed replica, follows RedirectToLeader
// hints, and retries on NotALeader or a transport error, for a bounded
// number of rounds over the replica pool, until some replica accepts the
// command.
package proxy

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dsyscourse/rsm/rsm"
)

// notALeaderBackoff is the short sleep applied before retrying after a
// replica replies NotALeader (spec.md §4.5 step 6), so a proxy caught
// mid-election doesn't busy-loop every replica in the cluster.
const notALeaderBackoff = 20 * time.Millisecond

// Executor is the capability proxy.Router needs to reach one named
// replica; package transport's ExecuteClient implements it, addressed by
// replica address rather than by ServerId (package proxy does not know
// about cluster membership in the raft.ClusterInfo sense — only about a
// pool of addresses to try, per the original ProxyClient's
// rsm.pool.name-driven replica list).
type Executor interface {
	Execute(addr string, cmd rsm.Command) (rsm.Response, error)
}

// Router is stateless across calls except for its cached leader guess: a
// router lost and recreated loses nothing a client cannot recover from by
// simply retrying (spec.md §4.5).
type Router struct {
	replicas []string
	executor Executor
	logger   zerolog.Logger
	rng      *rand.Rand

	mu          sync.Mutex
	leaderGuess string
}

func NewRouter(replicas []string, executor Executor, logger zerolog.Logger) *Router {
	return &Router{
		replicas: replicas,
		executor: executor,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Execute forwards cmd until some replica returns Ack, retrying through
// every known replica in turn (after trying the cached leader guess
// first) and giving up after maxRounds (3) such passes over the pool
// without success — a client-visible error at that point almost always
// means the whole cluster is unreachable or mid-election, and is worth
// surfacing rather than retrying forever inside one call.
func (r *Router) Execute(cmd rsm.Command) (rsm.Response, error) {
	const maxRounds = 3
	var lastErr error

	for round := 0; round < maxRounds; round++ {
		for _, addr := range r.candidateOrder() {
			resp, err := r.executor.Execute(addr, cmd)
			if err != nil {
				r.logger.Debug().Err(err).Str("addr", addr).Msg("execute rpc failed")
				lastErr = err
				r.forgetLeaderIfCached(addr)
				continue
			}
			switch resp.Kind {
			case rsm.Ack:
				r.cacheLeader(addr)
				return resp, nil
			case rsm.RedirectToLeader:
				r.cacheLeader(resp.RedirectTo)
				continue
			case rsm.NotALeader:
				r.forgetLeaderIfCached(addr)
				time.Sleep(notALeaderBackoff)
				continue
			}
		}
	}
	if lastErr != nil {
		return rsm.Response{}, fmt.Errorf("proxy: no replica accepted command: %w", lastErr)
	}
	return rsm.Response{}, fmt.Errorf("proxy: no replica accepted command")
}

// candidateOrder returns the addresses to try, in order: the cached
// leader guess first (if any and if it is still a known replica address),
// then the rest in randomized order so repeated failures don't always
// hammer the same follower first.
func (r *Router) candidateOrder() []string {
	r.mu.Lock()
	guess := r.leaderGuess
	r.mu.Unlock()

	rest := make([]string, 0, len(r.replicas))
	for _, addr := range r.replicas {
		if addr != guess {
			rest = append(rest, addr)
		}
	}
	r.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })

	if guess == "" {
		return rest
	}
	return append([]string{guess}, rest...)
}

func (r *Router) cacheLeader(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaderGuess = addr
}

func (r *Router) forgetLeaderIfCached(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.leaderGuess == addr {
		r.leaderGuess = ""
	}
}
