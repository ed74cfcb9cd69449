package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	worker "permitcheck.dev/worker"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var (
		limit  int
		dbPath string
	)
	c := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = a.cfg.Database.Path
			}
			conn, err := openHistory(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			runs, err := worker.NewRunStore(conn).RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tPARK\tLODGES\tTEAM\tFROM\tTO\tSTATUS\tWINDOWS")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%d\n",
					r.CreatedAt, r.Park, strings.Join(r.Lodges, "→"), r.TeamSize, r.DateFrom, r.DateTo, r.Status, r.WindowsFound)
			}
			return w.Flush()
		},
	}
	c.Flags().IntVar(&limit, "limit", worker.DefaultHistoryLimit, "number of runs")
	c.Flags().StringVar(&dbPath, "db", "", "run history database (default from config)")
	return c
}
