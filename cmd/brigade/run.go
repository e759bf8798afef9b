package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jonathan/brigade/internal/config"
	"github.com/jonathan/brigade/internal/export"
	"github.com/jonathan/brigade/internal/observability"
	"github.com/jonathan/brigade/internal/pipeline"
	"github.com/jonathan/brigade/internal/types"
	"github.com/spf13/cobra"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run the full strategy pipeline end-to-end",
	Long: `Runs one session: Extractor -> (Profiler, Copywriter, Architect in parallel) -> Judge.

The session is stored and can be inspected later with 'brigade sessions show'.`,
	RunE: runPipelineCmd,
}

var (
	runInput      string
	runInputFile  string
	runOffer      string
	runOfferFile  string
	runJSON       bool
	runExportPath string
)

// Backend and topology flags shared by run, rerun and serve
var (
	flagAPIKey        string
	flagProvider      string
	flagRegistry      string
	flagCompetitor    bool
	flagParallelLimit int
)

func init() {
	runCommand.Flags().StringVarP(&runInput, "input", "i", "", "Business idea, notes or transcript to analyze")
	runCommand.Flags().StringVarP(&runInputFile, "input-file", "f", "", "Read the input from a file ('-' for stdin)")
	runCommand.Flags().StringVarP(&runOffer, "offer", "o", "", "Offer details: price, format, guarantees")
	runCommand.Flags().StringVar(&runOfferFile, "offer-file", "", "Read the offer details from a file")
	runCommand.Flags().BoolVar(&runJSON, "json", false, "Print the session as JSON")
	runCommand.Flags().StringVar(&runExportPath, "export", "", "Write the markdown dossier to this path when the run completes")
	addPipelineFlags(runCommand)

	rootCmd.AddCommand(runCommand)
}

func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&flagCompetitor, "competitor", false, "Add the CompetitorAnalyzer to the parallel stage")
	cmd.Flags().StringVar(&flagRegistry, "registry", "", "Path to a YAML role registry")
	cmd.Flags().IntVar(&flagParallelLimit, "parallel-limit", 0, "Maximum concurrent parallel-stage calls (0 = unbounded)")

	// API key can be passed as a flag, or read from GEMINI_API_KEY / OPENAI_API_KEY
	cmd.Flags().StringVar(&flagAPIKey, "api-key", "", "Backend API key (optional, defaults to the provider's env var)")
	cmd.Flags().StringVar(&flagProvider, "provider", "", "Model provider: gemini or openai")
}

// pipelineOverrides applies the backend and topology flags shared by run, rerun and serve
func pipelineOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("api-key") {
		cfg.APIKey = flagAPIKey
	}
	if flags.Changed("provider") {
		cfg.Provider = flagProvider
	}
	if flags.Changed("registry") {
		cfg.RegistryPath = flagRegistry
	}
	if flags.Changed("competitor") {
		cfg.CompetitorAnalysis = flagCompetitor
	}
	if flags.Changed("parallel-limit") {
		cfg.ParallelLimit = flagParallelLimit
	}
}

func runPipelineCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	raw, err := readText(cmd, runInput, runInputFile, "input")
	if err != nil {
		return err
	}
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("either --input or --input-file must be provided")
	}
	offer, err := readText(cmd, runOffer, runOfferFile, "offer")
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd, func(c *config.Config) { pipelineOverrides(cmd, c) })
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printer := observability.NewPrinter(out)
	var opts []pipeline.Option
	if cfg.Verbose && !runJSON {
		opts = append(opts, pipeline.WithProgress(printer.PrintProgress))
	}

	a, err := newApp(ctx, cfg, false, opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	s, runErr := a.orch.RunSync(ctx, raw, offer)
	if s.ID == "" {
		return runErr
	}

	if err := printResult(out, printer, &s, runJSON, cfg.Verbose); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("session %s did not complete: %w", s.ID, runErr)
	}

	if runExportPath != "" {
		if err := writeDossier(s, runExportPath); err != nil {
			return err
		}
		fmt.Fprintf(out, "Dossier written to %s\n", runExportPath)
	}
	return nil
}

// printResult prints s as indented JSON, or as boxed summaries
func printResult(out io.Writer, printer *observability.Printer, s *types.Session, asJSON, withLogs bool) error {
	if asJSON {
		return writeJSON(out, s)
	}
	printer.PrintSession(s)
	if withLogs {
		printer.PrintLogs(s)
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readText returns the flag value, or the contents of path when set. Setting both is
// an error.
func readText(cmd *cobra.Command, value, path, name string) (string, error) {
	if path == "" {
		return value, nil
	}
	if value != "" {
		return "", fmt.Errorf("--%s and --%s-file are mutually exclusive; provide only one", name, name)
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(data), nil
}

func writeDossier(s types.Session, path string) error {
	doc, err := export.Markdown(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		return fmt.Errorf("failed to write dossier: %w", err)
	}
	return nil
}
