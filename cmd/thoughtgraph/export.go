package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/thoughtgraph/pkg/export"
	"github.com/orneryd/thoughtgraph/pkg/mcp"
	"github.com/orneryd/thoughtgraph/pkg/reasoning"
	"github.com/orneryd/thoughtgraph/pkg/store"
)

func runExport(cmd *cobra.Command, args []string) error {
	sessionID, _ := cmd.Flags().GetString("session")
	input, _ := cmd.Flags().GetString("input")
	formatName, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")

	if (sessionID == "") == (input == "") {
		return fmt.Errorf("exactly one of --session or --input is required")
	}
	format, err := export.ParseFormat(formatName)
	if err != nil {
		return err
	}

	var snap *reasoning.Snapshot
	if input != "" {
		snap, err = readSnapshot(input)
	} else {
		snap, err = loadStored(cmd, sessionID)
	}
	if err != nil {
		return err
	}
	// Restoring checks the graph before it is written anywhere.
	if _, err := reasoning.Restore(snap, nil); err != nil {
		return err
	}

	data, err := export.Export(snap, format)
	if err != nil {
		return err
	}
	if output == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := export.ToFile(data, output); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%s, %d bytes)\n", output, format, len(data))
	return nil
}

func loadStored(cmd *cobra.Command, sessionID string) (*reasoning.Snapshot, error) {
	st, err := storeFromConfig(cmd)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.Load(cmd.Context(), sessionID)
}

// storeFromConfig opens the configured on-disk store. An in-memory store
// would always be empty here, so it is rejected.
func storeFromConfig(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if !cfg.Store.Enabled || cfg.Store.InMemory {
		return nil, fmt.Errorf("no persistent snapshot store configured")
	}
	return openStore(cfg)
}

func runSnapshotsList(cmd *cobra.Command, args []string) error {
	st, err := storeFromConfig(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.List(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSAVED\tSIZE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\n", e.SessionID, e.SavedAt.Format(time.RFC3339), e.Size)
	}
	return w.Flush()
}

func runSnapshotsDelete(cmd *cobra.Command, args []string) error {
	st, err := storeFromConfig(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}

func runKeygen(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	roleName, _ := cmd.Flags().GetString("role")
	cost, _ := cmd.Flags().GetInt("cost")

	role, err := mcp.RoleFromString(roleName)
	if err != nil {
		return err
	}
	token, prefix, err := mcp.GenerateToken()
	if err != nil {
		return err
	}
	hash, err := mcp.HashToken(token, cost)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "API key (shown once): %s\n\n", token)
	fmt.Fprintln(out, "Add to the auth.keys section of your config:")
	fmt.Fprintf(out, "  - name: %s\n", name)
	fmt.Fprintf(out, "    prefix: %s\n", prefix)
	fmt.Fprintf(out, "    hash: %q\n", hash)
	fmt.Fprintf(out, "    role: %s\n", role)
	return nil
}
