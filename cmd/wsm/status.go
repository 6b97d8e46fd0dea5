package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/FireKid846/whatsapp-web/internal/models"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show session counts by status",
		Long:  "Reads the record store and prints how many sessions are waiting, connected and disconnected.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", configFlagHelp)
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string) error {
	_, st, done, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer done()

	counts, err := st.CountByStatus(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tSESSIONS")
	var total int64
	for _, status := range []string{models.StatusWaiting, models.StatusConnected, models.StatusDisconnected} {
		fmt.Fprintf(w, "%s\t%d\n", status, counts[status])
		total += counts[status]
		delete(counts, status)
	}
	for status, n := range counts {
		fmt.Fprintf(w, "%s\t%d\n", status, n)
		total += n
	}
	fmt.Fprintf(w, "total\t%d\n", total)
	return w.Flush()
}
