// Command proxyd runs the stateless RSM-Proxy.Execute RPC forwarder
// (C6): it reads a replica pool file, builds a proxy.Router over
// package transport's ExecuteClient, and serves RSM-Proxy.Execute to
// clients outside the replica cluster's process group.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dsyscourse/rsm/config"
	"github.com/dsyscourse/rsm/loggingcfg"
	"github.com/dsyscourse/rsm/proxy"
	"github.com/dsyscourse/rsm/transport"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "proxyd: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "proxyd",
	Short: "Run the stateless RSM proxy forwarder in front of a replica pool",
	RunE:  runProxy,
}

func init() {
	rootCmd.Flags().String("pool-file", "", "YAML file listing every replica's id and address (required)")
	rootCmd.Flags().String("listen-addr", "127.0.0.1:7100", "address proxyd listens on for RSM-Proxy.Execute")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "emit logs as JSON")
	_ = rootCmd.MarkFlagRequired("pool-file")
}

func runProxy(cmd *cobra.Command, args []string) error {
	poolFile, _ := cmd.Flags().GetString("pool-file")
	listenAddr, _ := cmd.Flags().GetString("listen-addr")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	pool, err := config.LoadPool(poolFile)
	if err != nil {
		return err
	}

	logger := loggingcfg.New(logLevel, logJSON).With().Str("component", "proxyd").Logger()

	addrs := make([]string, 0, len(pool.Replicas))
	for _, r := range pool.Replicas {
		addrs = append(addrs, r.Addr)
	}

	router := proxy.NewRouter(addrs, transport.NewExecuteClient(), logger)
	server := transport.NewProxyServer(router)
	return transport.ListenAndServeProxy(listenAddr, server, logger)
}
