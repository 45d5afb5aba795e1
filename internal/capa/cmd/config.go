package cmd

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// CapaConfig is the file-backed configuration. Flags override it.
type CapaConfig struct {
	Debug   bool   `toml:"debug" json:"debug" jsonschema:"title=Debug,description=Enable debug logging"`
	Workers int    `toml:"workers" json:"workers" jsonschema:"title=Workers,description=Number of parallel analysis workers for bulk runs"`
	Output  string `toml:"output" json:"output" jsonschema:"title=Output,description=Path for the bulk report,default stdout"`
}

// loadConfig reads the TOML file named by --config, if any, then applies
// flag overrides.
func loadConfig(cmd *cobra.Command) (CapaConfig, error) {
	var cfg CapaConfig

	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Debug = true
	}
	if f := cmd.Flags().Lookup("workers"); f != nil && f.Changed {
		cfg.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if f := cmd.Flags().Lookup("output"); f != nil && f.Changed {
		cfg.Output, _ = cmd.Flags().GetString("output")
	}
	return cfg, nil
}
