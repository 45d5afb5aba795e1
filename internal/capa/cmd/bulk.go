package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/wisdark/capa/internal/capa/log"
	"github.com/wisdark/capa/internal/logging"
	"github.com/wisdark/capa/internal/runner"
)

var bulkCmd = &cobra.Command{
	Use:   "bulk [dir]",
	Short: "Analyze every file under a directory",
	Long: `Bulk walks a directory tree and analyzes every regular file, writing one
JSON report keyed by path. Files that cannot be analyzed are recorded in
the report with an error kind instead of failing the run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log.Setup(cfg.Debug)

		lg := logging.NewLogger()
		defer lg.Close()

		workers := cfg.Workers
		if workers < 1 {
			workers = runtime.NumCPU()
		}

		start := time.Now()
		lg.Info("starting bulk run", "root", args[0], "workers", workers)

		doc, err := runner.Run(cmd.Context(), args[0], workers)
		if err != nil {
			return err
		}

		ok, failed := 0, 0
		for _, r := range doc.Files {
			if r.Status == "ok" {
				ok++
			} else {
				failed++
			}
		}
		lg.Info("bulk run complete",
			"run", doc.RunID,
			"ok", ok,
			"failed", failed,
			"elapsed", time.Since(start).Round(time.Millisecond))

		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		if cfg.Output != "" {
			return os.WriteFile(cfg.Output, out, 0o644)
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	bulkCmd.Flags().IntP("workers", "w", 0, "Number of parallel workers (default: CPU count)")
	bulkCmd.Flags().StringP("output", "o", "", "Write the report to a file instead of stdout")
}
