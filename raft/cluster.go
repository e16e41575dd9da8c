package raft

import (
	"errors"
	"fmt"
)

// ClusterInfo holds the ServerIds of the servers in a Raft cluster and
// provides the quorum arithmetic used throughout package raft.
type ClusterInfo struct {
	thisServerId ServerId

	// Excludes thisServerId.
	peerServerIds []ServerId

	clusterSize uint
	quorumSize  uint
}

// NewClusterInfo allocates and validates a ClusterInfo.
//
//   - allServerIds must be distinct, non-empty strings, and must include
//     thisServerId.
//   - allServerIds must have at least 2 elements (a single-node "cluster"
//     has no meaningful quorum arithmetic and is not supported).
func NewClusterInfo(allServerIds []ServerId, thisServerId ServerId) (*ClusterInfo, error) {
	if len(allServerIds) < 2 {
		return nil, errors.New("raft: allServerIds must have at least 2 elements")
	}
	if len(thisServerId) == 0 {
		return nil, errors.New("raft: thisServerId is empty")
	}

	seen := make(map[ServerId]bool, len(allServerIds))
	peers := make([]ServerId, 0, len(allServerIds)-1)
	for _, id := range allServerIds {
		if len(id) == 0 {
			return nil, errors.New("raft: allServerIds contains an empty string")
		}
		if seen[id] {
			return nil, fmt.Errorf("raft: allServerIds contains duplicate value: %v", id)
		}
		seen[id] = true
		if id != thisServerId {
			peers = append(peers, id)
		}
	}
	if !seen[thisServerId] {
		return nil, fmt.Errorf("raft: allServerIds does not contain thisServerId: %v", thisServerId)
	}

	clusterSize := uint(len(allServerIds))
	return &ClusterInfo{
		thisServerId:  thisServerId,
		peerServerIds: peers,
		clusterSize:   clusterSize,
		quorumSize:    QuorumSizeForClusterSize(clusterSize),
	}, nil
}

// ThisServerId returns the ServerId of "this" server.
func (ci *ClusterInfo) ThisServerId() ServerId {
	return ci.thisServerId
}

// Peers returns all servers in the cluster except "this" server. The
// returned slice must not be modified by the caller.
func (ci *ClusterInfo) Peers() []ServerId {
	return ci.peerServerIds
}

// ForEachPeer calls f once per peer server, in cluster order, stopping and
// returning the first error encountered.
func (ci *ClusterInfo) ForEachPeer(f func(ServerId) error) error {
	for _, id := range ci.peerServerIds {
		if err := f(id); err != nil {
			return err
		}
	}
	return nil
}

// ClusterSize returns the total number of servers in the cluster,
// including "this" server.
func (ci *ClusterInfo) ClusterSize() uint {
	return ci.clusterSize
}

// QuorumSize returns the number of votes/acks (including this server's own)
// that constitute a strict majority of the cluster.
func (ci *ClusterInfo) QuorumSize() uint {
	return ci.quorumSize
}

// QuorumSizeForClusterSize returns the strict-majority quorum size for a
// cluster of the given size.
func QuorumSizeForClusterSize(clusterSize uint) uint {
	return (clusterSize / 2) + 1
}
