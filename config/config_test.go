package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestLoadPoolParsesReplicasAndLooksUpAddr(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")
	contents := `
name: default
replicas:
  - id: n1
    addr: 127.0.0.1:7001
  - id: n2
    addr: 127.0.0.1:7002
  - id: n3
    addr: 127.0.0.1:7003
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	pool, err := LoadPool(path)
	require.NoError(t, err)
	require.Equal(t, "default", pool.Name)
	require.ElementsMatch(t, []string{"n1", "n2", "n3"}, pool.IDs())

	addr, ok := pool.AddrOf("n2")
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:7002", addr)

	_, ok = pool.AddrOf("missing")
	require.False(t, ok)
}

func TestLoadPoolRejectsEmptyReplicaList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: empty\nreplicas: []\n"), 0o644))

	_, err := LoadPool(path)
	require.Error(t, err)
}

func TestBindFlagsAndFromFlagsRoundTrip(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	BindFlags(cmd)

	require.NoError(t, cmd.Flags().Set("node-id", "n1"))
	require.NoError(t, cmd.Flags().Set("store-dir", "/tmp/log"))
	require.NoError(t, cmd.Flags().Set("db-path", "/tmp/kv.db"))
	require.NoError(t, cmd.Flags().Set("pool-name", "mypool"))
	require.NoError(t, cmd.Flags().Set("pool-file", "/tmp/pool.yaml"))
	require.NoError(t, cmd.Flags().Set("rpc-port", "9001"))
	require.NoError(t, cmd.Flags().Set("net-rtt", "25ms"))

	n, err := FromFlags(cmd)
	require.NoError(t, err)
	require.Equal(t, "n1", n.NodeID)
	require.Equal(t, "/tmp/log", n.StoreDir)
	require.Equal(t, "/tmp/kv.db", n.DBPath)
	require.Equal(t, "mypool", n.PoolName)
	require.Equal(t, "/tmp/pool.yaml", n.PoolFile)
	require.Equal(t, 9001, n.RPCPort)
	require.Equal(t, 25*time.Millisecond, n.NetRTT)
	require.Equal(t, "info", n.LogLevel)
	require.False(t, n.LogJSON)
}
