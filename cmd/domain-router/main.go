// Package main is the entry point for the domain-router binary. It serves the
// admin API and provides one-off commands for working with routing records.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// rootOptions are the flags shared by every command
type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for domain-router
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "domain-router",
		Short: "Per-domain routing for a shared HAProxy load balancer",
		Long: `domain-router keeps one routing record per public domain, edits its
backend pools and path rules, compiles every enabled domain into a single
HAProxy configuration and applies it with a check and reload.

Example:
  domain-router serve --config /etc/domain-router/config.yaml
  domain-router normalize legacy/example.com.json --write`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to configuration file (YAML); defaults to $DR_CONFIG_FILE")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newValidateCmd(),
		newNormalizeCmd(),
		newCompileCmd(opts),
		newApplyCmd(opts),
		newResolveAddressCmd(),
		newTokenCmd(opts),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "domain-router %s\n", version)
		},
	}
}
