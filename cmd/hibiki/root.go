package main

import (
	"fmt"
	"os"

	"github.com/harunnryd/hibiki/internal/config"
	"github.com/harunnryd/hibiki/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "hibiki",
	Short: "Hibiki streaming assistant",
	Long:  `Hibiki streams chat completions and dispatches the tool calls the model asks for.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		level := cfg.Server.LogLevel
		if debug {
			level = "debug"
		}
		logger.Setup(level)
		return nil
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadedConfig returns the config loaded by the root pre-run, loading it when a command runs standalone.
func loadedConfig(cmd *cobra.Command) (*config.Config, error) {
	if cfg != nil {
		return cfg, nil
	}
	loaded, err := config.Load(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return loaded, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.hibiki/config.yaml)")
	rootCmd.PersistentFlags().String("server.log_level", config.DefaultServerLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringP("workspace", "w", "", "Target workspace ID")
}
