package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/thoughtgraph/pkg/export"
	"github.com/orneryd/thoughtgraph/pkg/reasoning"
	"github.com/orneryd/thoughtgraph/pkg/scenario"
)

func runScenario(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	exportPath, _ := cmd.Flags().GetString("export")
	saveID, _ := cmd.Flags().GetString("save")

	switch format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown report format %q", format)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := cfg.Logging.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	sc, err := scenario.Load(args[0])
	if err != nil {
		return err
	}

	engine := reasoning.New(cfg.Engine.Reasoning(), reasoning.WithLogger(logger))
	report, runErr := scenario.Run(cmd.Context(), engine, sc)
	if report != nil {
		if err := writeReport(cmd, report, format); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}

	if exportPath == "" && saveID == "" {
		return nil
	}
	snap, err := engine.Snapshot()
	if err != nil {
		return err
	}

	if exportPath != "" {
		f, err := export.ParseFormat(strings.TrimPrefix(filepath.Ext(exportPath), "."))
		if err != nil {
			return err
		}
		data, err := export.Export(snap, f)
		if err != nil {
			return err
		}
		if err := export.ToFile(data, exportPath); err != nil {
			return err
		}
		logger.Info("graph exported", slog.String("path", exportPath), slog.String("format", string(f)))
	}

	if saveID != "" {
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Save(cmd.Context(), saveID, snap); err != nil {
			return err
		}
		logger.Info("graph saved", slog.String("session", saveID))
	}
	return nil
}

func writeReport(cmd *cobra.Command, report *scenario.Report, format string) error {
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	}
	return report.WriteText(out)
}

// readSnapshot decodes a JSON or YAML export file, chosen by extension.
func readSnapshot(path string) (*reasoning.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return export.ImportYAML(data)
	}
	return export.ImportJSON(data)
}
