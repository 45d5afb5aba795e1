// Package cmd wires the capa command line: single-file analysis at the
// root, batch processing under "bulk", and a hidden schema generator.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/wisdark/capa/internal/capa/log"
	"github.com/wisdark/capa/internal/runner"
)

var rootCmd = &cobra.Command{
	Use:   "capa [file]",
	Short: "Extract capability features from PE and ELF binaries",
	Long: `Capa statically disassembles a PE or ELF binary, recovers its functions
and control flow, and extracts the capability features a rule engine
matches against: API calls, constants, strings, structure offsets,
mnemonics and control-flow characteristics.`,
	Example: `
# Analyze one binary, features as JSON on stdout
capa /path/to/binary

# Analyze with debug logging
capa -d /path/to/binary

# Analyze a whole directory with 8 workers
capa bulk -w 8 /path/to/samples
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log.Setup(cfg.Debug)

		cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
		if cpuprofile != "" {
			f, err := os.Create(cpuprofile)
			if err != nil {
				return fmt.Errorf("could not create CPU profile: %v", err)
			}
			defer f.Close()
			if err := pprof.StartCPUProfile(f); err != nil {
				return fmt.Errorf("could not start CPU profile: %v", err)
			}
			defer pprof.StopCPUProfile()
		}

		result := runner.AnalyzePath(args[0])
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		fmt.Println(string(out))

		if result.Status != "ok" {
			return fmt.Errorf("%s: %s", result.Error.Kind, result.Error.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to TOML configuration file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
	rootCmd.Flags().String("cpuprofile", "", "Write CPU profile to file")

	rootCmd.AddCommand(bulkCmd)
}

func Execute() {
	// Bypass fang's markdown rendering when output is being piped, so
	// JSON on stdout stays machine readable.
	if !term.IsTerminal(os.Stdout.Fd()) {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
