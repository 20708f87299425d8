package main

import (
	"fmt"
	"os"

	"github.com/drewcsillag/notecove/pkg/config"
	"github.com/drewcsillag/notecove/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	flagProfileDir string
	flagSettings   string
	flagLogLevel   string
	flagJSONLogs   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "notecove-store",
	Short: "NoteCove storage engine - offline-first note sync over shared directories",
	Long: `notecove-store manages the local storage and synchronization engine of
NoteCove: CRDT update files, packs, and snapshots exchanged through shared
storage directories, with no server and no network protocol.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(log.Config{
			Level:      log.Level(flagLogLevel),
			JSONOutput: flagJSONLogs,
		})
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProfileDir, "profile-dir", defaultProfileDir(), "Profile directory (lock, database, settings)")
	rootCmd.PersistentFlags().StringVar(&flagSettings, "settings", "", "Path to YAML settings file (default <profile-dir>/settings.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "Emit JSON log lines")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(timelineCmd)
	rootCmd.AddCommand(reconstructCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("notecove-store %s (commit %s, built %s)\n", Version, Commit, BuildTime)
	},
}

func defaultProfileDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".notecove"
	}
	return home + "/.notecove/default"
}

func loadConfig() (config.Config, error) {
	path := flagSettings
	if path == "" {
		path = flagProfileDir + "/settings.yaml"
	}
	cfg, err := config.Load(path, nil)
	if err != nil {
		return config.Config{}, err
	}
	cfg.AppVersion = Version
	return cfg, nil
}
