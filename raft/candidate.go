package raft

import "fmt"

// candidateVotes tracks votes received during one election campaign. It is
// only ever touched from the single goroutine running Node, so it needs no
// locking of its own.
type candidateVotes struct {
	ci            *ClusterInfo
	receivedVotes uint
	requiredVotes uint
	grantedBy     map[ServerId]bool
}

func newCandidateVotes(ci *ClusterInfo) *candidateVotes {
	return &candidateVotes{
		ci:            ci,
		receivedVotes: 1, // a candidate always votes for itself
		requiredVotes: ci.QuorumSize(),
		grantedBy:     map[ServerId]bool{ci.ThisServerId(): true},
	}
}

// addVoteFrom records a granted vote from peer and reports whether the
// campaign has now reached quorum. Duplicate votes from the same peer are
// harmless no-ops.
func (cv *candidateVotes) addVoteFrom(peer ServerId) (bool, error) {
	isPeer := peer == cv.ci.ThisServerId()
	if !isPeer {
		for _, p := range cv.ci.Peers() {
			if p == peer {
				isPeer = true
				break
			}
		}
	}
	if !isPeer {
		return false, fmt.Errorf("raft: vote from unknown peer: %v", peer)
	}

	if !cv.grantedBy[peer] {
		cv.grantedBy[peer] = true
		cv.receivedVotes++
	}
	return cv.receivedVotes >= cv.requiredVotes, nil
}
