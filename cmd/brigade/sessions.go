package main

import (
	"fmt"

	"github.com/jonathan/brigade/internal/observability"
	"github.com/jonathan/brigade/internal/types"
	"github.com/spf13/cobra"
)

var (
	sessionsJSON   bool
	sessionsStatus string
	sessionsLogs   bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session with its artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsListCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Print sessions as JSON")
	sessionsListCmd.Flags().StringVar(&sessionsStatus, "status", "", "Only list sessions with this status (running, completed)")
	sessionsShowCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Print the session as JSON")
	sessionsShowCmd.Flags().BoolVar(&sessionsLogs, "logs", false, "Include the run log")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	st, mgr, err := openSessions(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var list []types.Session
	for _, s := range mgr.List() {
		if sessionsStatus == "" || string(s.Status) == sessionsStatus {
			list = append(list, s)
		}
	}

	if sessionsJSON {
		if list == nil {
			list = []types.Session{}
		}
		return writeJSON(cmd.OutOrStdout(), list)
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintSessionList(list)
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
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
	out := cmd.OutOrStdout()
	return printResult(out, observability.NewPrinter(out), &s, sessionsJSON, sessionsLogs)
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	st, mgr, err := openSessions(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := mgr.Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}
