// Package main provides the brigade command line: run the strategy pipeline, serve
// the HTTP API, and inspect stored sessions.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonathan/brigade/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	verbose     bool
	storeKind   string
	dataDir     string
	databaseURL string

	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "brigade",
	Short: "Multi-agent strategy pipeline",
	Long: `Brigade turns a free-form business idea into a strategy dossier: an Extractor maps the evidence,
a parallel brigade of specialists builds on it, and a Judge scores the result.

Configuration can be loaded from a JSON or YAML file using --config. Command-line flags override
config file values, which override environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		logCloser = logger.Init(logger.Config{Verbose: verbose, Output: cmd.ErrOrStderr()})
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to a JSON or YAML config file (values can be overridden by other flags)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Print detailed progress and debug logs")
	flags.StringVar(&storeKind, "store", "", "Session store: file, sqlite, postgres or memory (default file)")
	flags.StringVar(&dataDir, "data-dir", "", "Directory for the file and sqlite stores (default .brigade)")
	flags.StringVar(&databaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
