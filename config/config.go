// Package config resolves the replica's configuration: cobra flags for the
// values that change per-invocation (node id, data directory, port), and a
// YAML replica-pool file for the values that are shared cluster-wide (every
// member's address), the same split cuemby-warren uses between its
// cobra-flag-driven commands and its YAML resource files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Replica is one member's stable identity and dialable address, as listed in
// a pool file under rsm.pool.name.
type Replica struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// Pool is the membership list the proxy and every replica load to find each
// other, named by the rsm.pool.name configuration key.
type Pool struct {
	Name     string    `yaml:"name"`
	Replicas []Replica `yaml:"replicas"`
}

// LoadPool reads and parses a pool file from path.
func LoadPool(path string) (Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pool{}, fmt.Errorf("config: read pool file: %w", err)
	}
	var p Pool
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Pool{}, fmt.Errorf("config: parse pool file %s: %w", path, err)
	}
	if len(p.Replicas) == 0 {
		return Pool{}, fmt.Errorf("config: pool file %s lists no replicas", path)
	}
	return p, nil
}

// AddrOf looks up a replica's dialable address by id.
func (p Pool) AddrOf(id string) (string, bool) {
	for _, r := range p.Replicas {
		if r.ID == id {
			return r.Addr, true
		}
	}
	return "", false
}

// IDs returns every replica id in the pool, in file order.
func (p Pool) IDs() []string {
	ids := make([]string, len(p.Replicas))
	for i, r := range p.Replicas {
		ids[i] = r.ID
	}
	return ids
}

// Node holds the resolved per-process configuration named in spec.md §6:
// node.id, rsm.store.dir, db.path, rsm.pool.name, rpc.port, and net.rtt.
type Node struct {
	NodeID   string
	StoreDir string
	DBPath   string
	PoolName string
	PoolFile string
	RPCPort  int
	NetRTT   time.Duration
	LogLevel string
	LogJSON  bool
}

// BindFlags registers the flags runnable commands share, as local Flags()
// of cmd (no persistent flags are registered).
func BindFlags(cmd *cobra.Command) {
	cmd.Flags().String("node-id", "", "stable identity for this replica (required)")
	cmd.Flags().String("store-dir", "./data/log", "directory for durable log storage")
	cmd.Flags().String("db-path", "./data/kv.db", "path for a state-machine key/value store (parsed but not used by replicad; metadata and log live under store-dir)")
	cmd.Flags().String("pool-name", "default", "name of the replica pool this node belongs to")
	cmd.Flags().String("pool-file", "", "YAML file listing every replica's id and address (required)")
	cmd.Flags().Int("rpc-port", 7000, "TCP port for this replica (parsed but not used by replicad, which listens on its pool-file address)")
	cmd.Flags().Duration("net-rtt", 10*time.Millisecond, "nominal round-trip estimate used to scale the election timeout")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().Bool("log-json", false, "emit logs as JSON")

	_ = cmd.MarkFlagRequired("node-id")
	_ = cmd.MarkFlagRequired("pool-file")
}

// FromFlags reads back the flags BindFlags registered.
func FromFlags(cmd *cobra.Command) (Node, error) {
	flags := cmd.Flags()
	var n Node
	var err error
	if n.NodeID, err = flags.GetString("node-id"); err != nil {
		return Node{}, err
	}
	if n.StoreDir, err = flags.GetString("store-dir"); err != nil {
		return Node{}, err
	}
	if n.DBPath, err = flags.GetString("db-path"); err != nil {
		return Node{}, err
	}
	if n.PoolName, err = flags.GetString("pool-name"); err != nil {
		return Node{}, err
	}
	if n.PoolFile, err = flags.GetString("pool-file"); err != nil {
		return Node{}, err
	}
	if n.RPCPort, err = flags.GetInt("rpc-port"); err != nil {
		return Node{}, err
	}
	if n.NetRTT, err = flags.GetDuration("net-rtt"); err != nil {
		return Node{}, err
	}
	if n.LogLevel, err = flags.GetString("log-level"); err != nil {
		return Node{}, err
	}
	if n.LogJSON, err = flags.GetBool("log-json"); err != nil {
		return Node{}, err
	}
	return n, nil
}
