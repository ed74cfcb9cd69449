package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	worker "permitcheck.dev/worker"
	"permitcheck.dev/worker/db"
	"permitcheck.dev/worker/export"
	"permitcheck.dev/worker/notifier"
)

type checkParams struct {
	park     string
	lodges   []string
	start    string
	end      string
	teamSize int
	retain   bool
}

type checkOptions struct {
	checkParams
	exportTo  string
	dbPath    string
	noHistory bool
	notify    bool
}

func newCheckCmd(root *rootOptions) *cobra.Command {
	opts := &checkOptions{}
	c := &cobra.Command{
		Use:   "check",
		Short: "Check bed availability of an itinerary and list the start dates a team can apply for",
		Example: `  worker check -p 玉山 -l 排雲山莊 -l 圓峰山屋 -s 2019-06-14 -e 2019-06-20 -n 3
  worker check -p 雪霸 -l 三六九山莊 -s 2019-06-14
  worker check -p 玉山 -l 排雲山莊 -n 2 --retain`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), cmd.OutOrStdout(), root, opts)
		},
	}
	f := c.Flags()
	f.StringVarP(&opts.park, "park", "p", "", "national park (玉山, 雪霸, 太魯閣, 嘉明湖)")
	f.StringArrayVarP(&opts.lodges, "lodge", "l", nil, "lodge or campsite, once per night in itinerary order")
	f.StringVarP(&opts.start, "start", "s", "", "first night, YYYY-MM-DD or ROC YYY-MM-DD")
	f.StringVarP(&opts.end, "end", "e", "", "checkout day, YYYY-MM-DD or ROC YYY-MM-DD")
	f.IntVarP(&opts.teamSize, "team", "n", 0, "team size; without it only the page fields are shown")
	f.BoolVar(&opts.retain, "retain", false, "check the retained foreign quota")
	f.StringVarP(&opts.exportTo, "export", "o", "", "write the cells to a .csv or .xlsx file")
	f.StringVar(&opts.dbPath, "db", "", "run history database (default from config)")
	f.BoolVar(&opts.noHistory, "no-history", false, "do not record the run")
	f.BoolVar(&opts.notify, "notify", false, "send the windows found to the configured channels")
	c.MarkFlagRequired("park")
	c.MarkFlagRequired("lodge")
	return c
}

func runCheck(ctx context.Context, out io.Writer, root *rootOptions, opts *checkOptions) error {
	a, err := newApp(root)
	if err != nil {
		return err
	}

	var conn *sql.DB
	if !opts.noHistory {
		path := opts.dbPath
		if path == "" {
			path = a.cfg.Database.Path
		}
		if conn, err = openHistory(ctx, path); err != nil {
			return err
		}
		defer conn.Close()
	}

	report, err := a.check(ctx, conn, opts.checkParams)
	if err != nil {
		return err
	}
	summary := printReport(out, report)

	if opts.exportTo != "" {
		if err := writeExport(opts.exportTo, report, summary); err != nil {
			return err
		}
		fmt.Fprintf(out, "已匯出 %s\n", opts.exportTo)
	}
	if opts.notify {
		sender := notifier.NewSender(conn)
		if len(sender.Manager.Channels()) == 0 {
			slog.Warn("no notification channel configured")
		}
		sent, failed := sender.Dispatch(context.WithoutCancel(ctx), notifier.FromReport(report))
		slog.Info("notifications processed", "sent", sent, "failed", failed)
	}
	return ctx.Err()
}

// check resolves the park, dates and lodges of p and runs them. The run is
// recorded when conn is set.
func (a *app) check(ctx context.Context, conn *sql.DB, p checkParams) (*worker.Report, error) {
	if p.teamSize < 0 {
		return nil, fmt.Errorf("%w: team size must not be negative", worker.ErrMalformedDateRange)
	}
	v, err := a.registry.Lookup(p.park)
	if err != nil {
		return nil, err
	}
	checker, err := a.checker(v)
	if err != nil {
		return nil, err
	}

	rr := worker.RangeRequest{Lodges: len(p.lodges), TeamSize: p.teamSize, CheckRetained: p.retain}
	if p.start != "" {
		if rr.Start, err = worker.ParseDate(p.start); err != nil {
			return nil, err
		}
	}
	if p.end != "" {
		if rr.End, err = worker.ParseDate(p.end); err != nil {
			return nil, err
		}
	}
	dates, err := worker.BuildRange(rr, worker.Today())
	if err != nil {
		return nil, err
	}
	if dates.Defaulted {
		slog.Info("no dates given, using the default range",
			"from", dates.Start.Format(time.DateOnly), "to", dates.End.Format(time.DateOnly))
	}

	if err := checker.Ping(ctx, v); err != nil {
		return nil, err
	}
	plan, err := checker.Prepare(ctx, v, p.lodges)
	if err != nil {
		return nil, err
	}

	req := worker.Request{Range: dates, TeamSize: p.teamSize, CheckRetained: p.retain}
	if conn == nil {
		return checker.Run(ctx, plan, req)
	}
	return worker.NewRunStore(conn).Process(ctx, checker, plan, req)
}

// printReport prints one line per cell, then the windows and the summary
// when a team size was given. It returns the summary line.
func printReport(out io.Writer, r *worker.Report) string {
	for _, row := range r.Matrix.Rows {
		for _, res := range row.Results {
			fmt.Fprintln(out, res.Line())
		}
	}
	if r.TeamSize == 0 {
		return ""
	}
	for _, w := range r.Windows {
		fmt.Fprintln(out, w.Line())
	}
	summary := worker.Summary(r.TeamSize, r.Windows)
	fmt.Fprintln(out, summary)
	return summary
}

func openHistory(ctx context.Context, path string) (*sql.DB, error) {
	conn, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if err := db.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return conn, nil
}

func writeExport(path string, r *worker.Report, summary string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	sink, err := export.ForPath(path, f)
	if err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := sink.Write(export.Records(r), summary); err != nil {
		f.Close()
		return fmt.Errorf("export %s: %w", path, err)
	}
	return f.Close()
}
