// Package main provides the thoughtgraph CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orneryd/thoughtgraph/pkg/config"
	"github.com/orneryd/thoughtgraph/pkg/mcp"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "thoughtgraph",
		Short: "thoughtgraph - Stage-gated research reasoning over a knowledge graph",
		Long: `thoughtgraph guides a research question through eight stages on a
typed, confidence-weighted knowledge graph:

  initialize -> decompose -> hypotheses -> evidence -> prune/merge
    -> extract -> compose -> audit

Run it as an MCP server for LLM clients, or drive a scenario file from the
command line.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (YAML)")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "thoughtgraph v%s (%s)\n", version, commit)
		},
	})

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long:  "Start the MCP JSON-RPC server hosting one reasoning engine per session",
		RunE:  runServe,
	}
	serveCmd.Flags().String("address", "", "Bind address (overrides config)")
	serveCmd.Flags().Int("port", 0, "Port (overrides config)")
	serveCmd.Flags().String("data-dir", "", "Snapshot directory (overrides config)")
	serveCmd.Flags().Bool("in-memory", false, "Keep snapshots in memory only")
	serveCmd.Flags().Bool("no-auth", false, "Disable API key authentication")
	rootCmd.AddCommand(serveCmd)

	// Run command
	runCmd := &cobra.Command{
		Use:   "run [scenario.yaml]",
		Short: "Run a scenario file through the reasoning stages",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}
	runCmd.Flags().StringP("format", "f", "text", "Report format: text, json or yaml")
	runCmd.Flags().String("export", "", "Write the final graph to this file (format from extension)")
	runCmd.Flags().String("save", "", "Save the final graph to the snapshot store under this id")
	rootCmd.AddCommand(runCmd)

	// Export command
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Convert a stored or exported snapshot to another format",
		RunE:  runExport,
	}
	exportCmd.Flags().String("session", "", "Read the snapshot stored under this session id")
	exportCmd.Flags().String("input", "", "Read a JSON or YAML export file")
	exportCmd.Flags().StringP("format", "f", "json", "Output format: json, yaml or graphml")
	exportCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")
	rootCmd.AddCommand(exportCmd)

	// Snapshots command
	snapshotsCmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Manage stored snapshots",
	}
	snapshotsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored snapshots",
		RunE:  runSnapshotsList,
	})
	snapshotsCmd.AddCommand(&cobra.Command{
		Use:   "delete [session-id]",
		Short: "Delete a stored snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotsDelete,
	})
	rootCmd.AddCommand(snapshotsCmd)

	// Keygen command
	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an API key and its config entry",
		RunE:  runKeygen,
	}
	keygenCmd.Flags().String("name", "client", "Key name")
	keygenCmd.Flags().String("role", string(mcp.RoleResearcher), "Role: admin, researcher or viewer")
	keygenCmd.Flags().Int("cost", mcp.DefaultBcryptCost, "bcrypt cost")
	rootCmd.AddCommand(keygenCmd)

	// Config command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})

	return rootCmd
}

// loadConfig reads the --config file and environment overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
