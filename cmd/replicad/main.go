// Command replicad runs one replica of the replicated state machine: a
// raft.Node driven by an rsm.Replica, applying committed commands to a
// kv.StateMachine, durable via package store, reachable via package
// transport. Modeled on cuemby-warren/cmd/warren's single root command
// with cobra subcommands and flags, scaled down to this module's one job.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dsyscourse/rsm/config"
	"github.com/dsyscourse/rsm/kv"
	"github.com/dsyscourse/rsm/loggingcfg"
	"github.com/dsyscourse/rsm/raft"
	"github.com/dsyscourse/rsm/rsm"
	"github.com/dsyscourse/rsm/store"
	"github.com/dsyscourse/rsm/transport"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "replicad: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "replicad",
	Short: "Run one replica of a raft-replicated key/value store",
	RunE:  runReplica,
}

func init() {
	config.BindFlags(rootCmd)
	rootCmd.Flags().Duration("election-timeout-min", 0, "override the minimum election timeout (defaults to a multiple of net-rtt)")
	rootCmd.Flags().Duration("election-timeout-max", 0, "override the maximum election timeout (defaults to a multiple of net-rtt)")
	rootCmd.Flags().Duration("heartbeat-interval", 0, "override the leader heartbeat interval (defaults to a fraction of net-rtt)")
	rootCmd.Flags().String("default-value", "", "default value returned for keys never Set")
}

func runReplica(cmd *cobra.Command, args []string) error {
	n, err := config.FromFlags(cmd)
	if err != nil {
		return err
	}
	pool, err := config.LoadPool(n.PoolFile)
	if err != nil {
		return err
	}
	if _, ok := pool.AddrOf(n.NodeID); !ok {
		return fmt.Errorf("replicad: node id %q is not listed in pool file %s", n.NodeID, n.PoolFile)
	}

	logger := loggingcfg.New(n.LogLevel, n.LogJSON).With().Str("node", n.NodeID).Logger()

	ci, err := raft.NewClusterInfo(toServerIds(pool.IDs()), raft.ServerId(n.NodeID))
	if err != nil {
		return err
	}

	if err := os.MkdirAll(n.StoreDir, 0o755); err != nil {
		return fmt.Errorf("replicad: creating store dir: %w", err)
	}
	bolt, err := store.Open(n.StoreDir)
	if err != nil {
		return err
	}
	defer bolt.Close()

	ps, err := raft.NewPersistentState(bolt.MetadataStore())
	if err != nil {
		return err
	}

	defaultValue, _ := cmd.Flags().GetString("default-value")
	sm := kv.NewStateMachine(defaultValue)

	addrs := make(map[raft.ServerId]string, len(pool.Replicas))
	for _, r := range pool.Replicas {
		if r.ID != n.NodeID {
			addrs[raft.ServerId(r.ID)] = r.Addr
		}
	}
	raftTransport := transport.NewRaftClient(addrs)

	cfg := cfgFromFlags(cmd, n)

	replica, err := rsm.NewReplica(ci, bolt.Log(), ps, bolt.MetadataStore(), sm, raftTransport, cfg, logger)
	if err != nil {
		return err
	}
	defer replica.Stop()

	selfAddr, _ := pool.AddrOf(n.NodeID)
	server := transport.NewServer(replica)
	return transport.ListenAndServe(selfAddr, server, logger)
}

// cfgFromFlags derives rsm.Config from net.rtt unless overridden, scaling
// election and heartbeat timing off the nominal round-trip estimate the
// way spec.md §6's net.rtt is meant to be used.
func cfgFromFlags(cmd *cobra.Command, n config.Node) rsm.Config {
	cfg := rsm.DefaultConfig()
	if n.NetRTT > 0 {
		cfg.ElectionTimeoutMin = 10 * n.NetRTT
		cfg.ElectionTimeoutMax = 20 * n.NetRTT
		cfg.HeartbeatInterval = 3 * n.NetRTT
		cfg.TickInterval = n.NetRTT
	}
	if v, _ := cmd.Flags().GetDuration("election-timeout-min"); v > 0 {
		cfg.ElectionTimeoutMin = v
	}
	if v, _ := cmd.Flags().GetDuration("election-timeout-max"); v > 0 {
		cfg.ElectionTimeoutMax = v
	}
	if v, _ := cmd.Flags().GetDuration("heartbeat-interval"); v > 0 {
		cfg.HeartbeatInterval = v
	}
	return cfg
}

func toServerIds(ids []string) []raft.ServerId {
	out := make([]raft.ServerId, len(ids))
	for i, id := range ids {
		out[i] = raft.ServerId(id)
	}
	return out
}
