package sim

import (
	"fmt"

	"github.com/dsyscourse/rsm/raft"
)

// CheckLogMatching verifies the Log Matching Property (spec.md §7): for
// every pair of replicas and every index both logs hold, if the term at
// that index matches on both, every entry up to and including that index
// must be identical on both. It does not require logs to be the same
// length, only that wherever they overlap they agree.
func (c *Cluster) CheckLogMatching() error {
	snapshots := make(map[raft.ServerId][]raft.LogEntry, len(c.ids))
	for _, id := range c.ids {
		snapshots[id] = c.logs[id].snapshotEntries()
	}

	for i, a := range c.ids {
		for _, b := range c.ids[i+1:] {
			logA, logB := snapshots[a], snapshots[b]
			limit := len(logA)
			if len(logB) < limit {
				limit = len(logB)
			}
			for idx := 0; idx < limit; idx++ {
				if logA[idx].TermNo != logB[idx].TermNo {
					continue // a later diverging term is fine if not both committed there
				}
				for j := 0; j <= idx; j++ {
					if logA[j].TermNo != logB[j].TermNo || string(logA[j].Command) != string(logB[j].Command) {
						return fmt.Errorf(
							"sim: log matching violated between %v and %v: same term %d at index %d, but entries differ at index %d",
							a, b, logA[idx].TermNo, idx+1, j+1,
						)
					}
				}
			}
		}
	}
	return nil
}

// CheckElectionSafety verifies at most one leader exists per term across
// the whole cluster (spec.md §7) by reading each replica's current term
// and role.
func (c *Cluster) CheckElectionSafety() error {
	leadersByTerm := make(map[raft.TermNo][]raft.ServerId)
	for _, id := range c.ids {
		r := c.Replicas[id]
		if r.Role() != raft.Leader {
			continue
		}
		term := r.CurrentTerm()
		leadersByTerm[term] = append(leadersByTerm[term], id)
	}
	for term, leaders := range leadersByTerm {
		if len(leaders) > 1 {
			return fmt.Errorf("sim: election safety violated: %d leaders in term %d: %v", len(leaders), term, leaders)
		}
	}
	return nil
}
