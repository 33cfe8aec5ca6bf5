package main

import (
	"strings"

	"github.com/danmuck/vectord/internal/config"
	"github.com/danmuck/vectord/internal/logging"
	"github.com/spf13/cobra"
)

type serveFlags struct {
	configPath string
	dataDir    string
	socketPath string
}

func (f *serveFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "path to a TOML config file")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "", "index catalog directory")
	cmd.Flags().StringVar(&f.socketPath, "socket", "", "unix socket path")
}

// resolveConfig loads the config file when given, then applies the flags
// the user actually set.
func resolveConfig(cmd *cobra.Command, flags serveFlags) (config.Config, error) {
	cfg := config.Default()
	if path := strings.TrimSpace(flags.configPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.Service.DataDir = strings.TrimSpace(flags.dataDir)
	}
	if cmd.Flags().Changed("socket") {
		cfg.Service.SocketPath = strings.TrimSpace(flags.socketPath)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// applyLogLevel lets the config file override the level picked by the
// logging profile and environment. It is a no-op when the file sets none.
func applyLogLevel(cfg config.Config) {
	if cfg.LogLevel != "" {
		logging.SetLevel(cfg.LogLevel)
	}
}
