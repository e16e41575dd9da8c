// Command kvcli is an interactive command-line client for the replicated
// key/value store: set, get, and cas subcommands dial a running proxyd
// and print its response, the same thin-RunE-per-subcommand shape
// cuemby-warren's cluster/manager/worker commands use.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	rsmclient "github.com/dsyscourse/rsm/client"
	"github.com/dsyscourse/rsm/kv"
	"github.com/dsyscourse/rsm/transport"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kvcli: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kvcli",
	Short: "Command-line client for the replicated key/value store",
}

func init() {
	rootCmd.PersistentFlags().String("proxy", "127.0.0.1:7100", "address of a running proxyd")

	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(casCmd)
}

func newKVClient(cmd *cobra.Command) *kv.Client {
	proxyAddr, _ := cmd.Flags().GetString("proxy")
	router := transport.NewProxyClient(proxyAddr)
	return kv.NewClient(rsmclient.New(router))
}

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a key to a value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newKVClient(cmd)
		if err := c.Set(args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a key's current value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newKVClient(cmd)
		value, err := c.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	},
}

var casCmd = &cobra.Command{
	Use:   "cas <key> <expected> <desired>",
	Short: "Compare-and-swap a key, printing its value before the swap",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newKVClient(cmd)
		old, err := c.Cas(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Println(old)
		return nil
	},
}
