package sim

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsyscourse/rsm/kv"
	"github.com/dsyscourse/rsm/raft"
	"github.com/dsyscourse/rsm/rsm"
	"github.com/dsyscourse/rsm/statemachine"
)

func testConfig() rsm.Config {
	return rsm.Config{
		ElectionTimeoutMin: 40 * time.Millisecond,
		ElectionTimeoutMax: 80 * time.Millisecond,
		HeartbeatInterval:  10 * time.Millisecond,
		TickInterval:       5 * time.Millisecond,
	}
}

func kvFactory() StateMachineFactory {
	return func() statemachine.StateMachine { return kv.NewStateMachine("") }
}

func awaitLeader(t *testing.T, c *Cluster) raft.ServerId {
	t.Helper()
	var leaderId raft.ServerId
	require.Eventually(t, func() bool {
		id, _, ok := c.Leader()
		if ok {
			leaderId = id
		}
		return ok
	}, 3*time.Second, 5*time.Millisecond)
	return leaderId
}

func TestClusterElectsLeaderAndReplicatesCommand(t *testing.T) {
	ids := []raft.ServerId{"n1", "n2", "n3"}
	c, err := NewCluster(ids, testConfig(), kvFactory(), zerolog.Nop())
	require.NoError(t, err)
	defer c.Stop()

	leaderId := awaitLeader(t, c)
	leader := c.Replicas[leaderId]

	resp := leader.Execute(rsm.Command{
		Type:      kv.OpSet,
		Request:   kv.EncodeSetRequest("k", "v"),
		RequestId: rsm.RequestId{ClientId: "c1", Index: 1},
	})
	require.Equal(t, rsm.Ack, resp.Kind)

	require.Eventually(t, func() bool {
		return c.CheckLogMatching() == nil
	}, time.Second, 5*time.Millisecond)
	assert.NoError(t, c.CheckElectionSafety())
}

func TestClusterSurvivesLeaderCrashAndElectsNewLeader(t *testing.T) {
	ids := []raft.ServerId{"n1", "n2", "n3"}
	c, err := NewCluster(ids, testConfig(), kvFactory(), zerolog.Nop())
	require.NoError(t, err)
	defer c.Stop()

	firstLeader := awaitLeader(t, c)
	c.Crash(firstLeader)

	require.Eventually(t, func() bool {
		id, _, ok := c.Leader()
		return ok && id != firstLeader
	}, 3*time.Second, 5*time.Millisecond)

	assert.NoError(t, c.CheckElectionSafety())
}
