package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const (
	groupService = "service"
	groupRecords = "records"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wsm",
		Short: "wsm - WhatsApp session monitor",
		Long:  "wsm picks up waiting pairing sessions from the record store, connects them and keeps their lifecycle in sync.",
	}
	root.AddGroup(
		&cobra.Group{ID: groupService, Title: "Service:"},
		&cobra.Group{ID: groupRecords, Title: "Records:"},
	)

	for _, c := range []*cobra.Command{newRunCmd(), newStatusCmd()} {
		c.GroupID = groupService
		root.AddCommand(c)
	}
	for _, c := range []*cobra.Command{newDBCmd(), newSessionCmd()} {
		c.GroupID = groupRecords
		root.AddCommand(c)
	}
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wsm %s (commit: %s, built: %s, %s %s/%s)\n",
				Version, Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
