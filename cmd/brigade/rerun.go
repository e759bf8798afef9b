package main

import (
	"fmt"

	"github.com/jonathan/brigade/internal/config"
	"github.com/jonathan/brigade/internal/observability"
	"github.com/jonathan/brigade/internal/pipeline"
	"github.com/spf13/cobra"
)

var rerunJSON bool

var rerunCmd = &cobra.Command{
	Use:   "rerun <session-id>",
	Short: "Run a stored session again from the start",
	Long: `Starts a new generation of an existing session with the same input and offer details.
Artifacts, score and error of the previous generation are discarded.`,
	Args: cobra.ExactArgs(1),
	RunE: runRerun,
}

func init() {
	rerunCmd.Flags().BoolVar(&rerunJSON, "json", false, "Print the session as JSON")
	addPipelineFlags(rerunCmd)
	rootCmd.AddCommand(rerunCmd)
}

func runRerun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd, func(c *config.Config) { pipelineOverrides(cmd, c) })
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printer := observability.NewPrinter(out)
	var opts []pipeline.Option
	if cfg.Verbose && !rerunJSON {
		opts = append(opts, pipeline.WithProgress(printer.PrintProgress))
	}

	a, err := newApp(ctx, cfg, false, opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	s, runErr := a.orch.RerunSync(ctx, args[0])
	if s.ID == "" {
		return fmt.Errorf("failed to rerun session %s: %w", args[0], runErr)
	}
	if err := printResult(out, printer, &s, rerunJSON, cfg.Verbose); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("session %s did not complete: %w", s.ID, runErr)
	}
	return nil
}
