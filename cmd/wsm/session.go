package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/FireKid846/whatsapp-web/internal/models"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and create session records",
	}
	cmd.AddCommand(newSessionAddCmd())
	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionLogsCmd())
	return cmd
}

func newSessionAddCmd() *cobra.Command {
	var (
		configPath string
		phone      string
		id         string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a waiting session record",
		Long:  "Creates a session record in the waiting state, the same way the pairing front end does. The monitor picks it up on its next poll.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionAdd(cmd, configPath, id, phone)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", configFlagHelp)
	cmd.Flags().StringVar(&phone, "phone", "", "phone number in international format (required)")
	cmd.Flags().StringVar(&id, "id", "", "session ID (default: random UUID)")
	cmd.MarkFlagRequired("phone")
	return cmd
}

func runSessionAdd(cmd *cobra.Command, configPath, id, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return fmt.Errorf("phone is required")
	}
	if id == "" {
		id = uuid.NewString()
	}

	_, st, done, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer done()

	sess := &models.Session{ID: id, PhoneNumber: phone, Status: models.StatusWaiting}
	if err := st.Create(cmd.Context(), sess); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created session %s for %s\n", sess.ID, sess.PhoneNumber)
	return nil
}

func newSessionListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List session records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionList(cmd, configPath, status, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", configFlagHelp)
	cmd.Flags().StringVar(&status, "status", "", "filter by status (waiting, connected, disconnected)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of records")
	return cmd
}

func runSessionList(cmd *cobra.Command, configPath, status string, limit int) error {
	switch status {
	case "", models.StatusWaiting, models.StatusConnected, models.StatusDisconnected:
	default:
		return fmt.Errorf("unknown status %q", status)
	}

	_, st, done, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer done()

	sessions, err := st.List(cmd.Context(), status, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPHONE\tSTATUS\tCREATED\tCONNECTED\tARCHIVE")
	for _, s := range sessions {
		archive := "-"
		if s.GithubURL != nil && s.SavedToGithub {
			archive = *s.GithubURL
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.PhoneNumber, s.Status, formatTime(&s.CreatedAt), formatTime(s.ConnectedAt), archive)
	}
	return w.Flush()
}

func newSessionLogsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "logs <session-id>",
		Short: "Show the event log of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionLogs(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", configFlagHelp)
	return cmd
}

func runSessionLogs(cmd *cobra.Command, configPath, id string) error {
	_, st, done, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer done()

	if _, err := st.Get(cmd.Context(), id); err != nil {
		return err
	}
	logs, err := st.Logs(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(logs) == 0 {
		fmt.Fprintf(out, "No log entries for %s.\n", id)
		return nil
	}
	for _, l := range logs {
		fmt.Fprintf(out, "%s  %-5s  %s\n", l.CreatedAt.Local().Format(time.DateTime), strings.ToUpper(l.LogLevel), l.Message)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
