package main

import (
	"context"

	"github.com/spf13/cobra"

	worker "permitcheck.dev/worker"
	"permitcheck.dev/worker/srv"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr    string
		dbPath  string
		noCheck bool
	)
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run history and on-demand checks over HTTP",
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

			var check srv.CheckFunc
			if !noCheck {
				check = func(ctx context.Context, req srv.CheckRequest) (*worker.Report, error) {
					return a.check(ctx, conn, checkParams{
						park:     req.Park,
						lodges:   req.Lodges,
						start:    req.Start,
						end:      req.End,
						teamSize: req.TeamSize,
						retain:   req.CheckRetained,
					})
				}
			}
			return srv.New(worker.NewRunStore(conn), a.registry, check).Serve(cmd.Context(), addr)
		},
	}
	c.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	c.Flags().StringVar(&dbPath, "db", "", "run history database (default from config)")
	c.Flags().BoolVar(&noCheck, "no-check", false, "disable POST /api/check")
	return c
}
