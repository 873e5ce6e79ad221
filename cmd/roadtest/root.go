// roadtest drives UI tests on Android Automotive head units: it plans
// actions from natural-language steps, executes them over adb, verifies
// screens against references, and learns coordinates for deterministic
// replays.
package main

import (
	"github.com/spf13/cobra"

	"roadtest/internal/config"
	"roadtest/internal/logging"
)

var (
	flagConfig  string
	flagDataDir string
	flagSerial  string
	flagDebug   bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "roadtest",
	Short: "UI test automation for Android Automotive head units",
	Long: `roadtest executes natural-language UI test cases against a head unit
connected over adb. Steps are planned from the live screen, verified
against reference images, and successful runs are learned for replay.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagDataDir != "" {
			cfg.DataDir = flagDataDir
		}
		if flagSerial != "" {
			cfg.Device.Serial = flagSerial
		}
		if flagDebug {
			cfg.Logging.Debug = true
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return logging.Initialize(cfg.DataDir, logging.Options{
			Debug:   cfg.Logging.Debug,
			Console: cfg.Logging.Console,
		})
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		logging.Sync()
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "roadtest.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "override the data directory")
	rootCmd.PersistentFlags().StringVar(&flagSerial, "serial", "", "adb device serial")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "verbose logging")
}
