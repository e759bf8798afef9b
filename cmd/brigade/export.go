package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonathan/brigade/internal/export"
	"github.com/spf13/cobra"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a completed session as a markdown dossier",
	Long: `Renders the dossier of a completed session. Without --out the markdown is printed;
with --out it is written to that path, or to a generated file name when --out is a directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output file or directory")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	st, mgr, err := openSessions(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	s, err := mgr.Get(args[0])
	if err != nil {
		return fmt.Errorf("%w: %s", err, args[0])
	}

	if exportOut == "" {
		doc, err := export.Markdown(s)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), doc)
		return err
	}

	path := exportOut
	if isDir(path) {
		path = filepath.Join(path, export.Filename(s))
	}
	if err := writeDossier(s, path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Dossier written to %s\n", path)
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
