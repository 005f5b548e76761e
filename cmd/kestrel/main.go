// Command kestrel is the operator CLI over a driver database (spec §6.5):
// inspecting requests, responses, results, and errors; requeueing work;
// running the read-only integrity doctor; and managing compression
// dictionaries. Grounded on the teacher's cmd/webstalk/main.go root-command
// and subcommand-builder-function shape.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/waylight/kestrel/internal/config"
)

var (
	dbPath     string
	format     string
	verbose    bool
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kestrel",
		Short: "kestrel — operator CLI for a kestrel driver database",
		Long: `kestrel inspects and manages the durable state left behind by a run of
the kestrel scraping driver: queued and completed requests, stored
responses, extracted results, classified errors, and compression
dictionaries.`,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", config.DefaultConfig().Store.Path, "path to the driver's SQLite database")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "output format: table, json, jsonl")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a kestrel config file (see internal/config); only consulted by commands that need full config, e.g. doctor health's metrics server")

	rootCmd.AddCommand(requestsCmd())
	rootCmd.AddCommand(responsesCmd())
	rootCmd.AddCommand(errorsCmd())
	rootCmd.AddCommand(resultsCmd())
	rootCmd.AddCommand(requeueCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(compressionCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kestrel version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(config.Version)
			return nil
		},
	}
}
