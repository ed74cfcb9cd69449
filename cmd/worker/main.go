package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	worker "permitcheck.dev/worker"
	"permitcheck.dev/worker/config"
	"permitcheck.dev/worker/park"
	"permitcheck.dev/worker/session"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "worker",
		Short:         "Check Taiwan mountain lodge and campsite permit availability",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default "+config.DefaultPath+" if present)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newLodgesCmd(opts))
	root.AddCommand(newLoginCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "worker %s (commit=%s, built=%s)\n", Version, CommitSHA, BuildDate)
		},
	}
}

// app wires the configured sites for one command.
type app struct {
	cfg      *config.Config
	registry *park.Registry
	public   *session.Cache
	forest   *session.Cache // nil without forestry credentials
}

func newApp(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		registry: park.NewRegistry(cfg.NPM.BaseURL, cfg.Forest.BaseURL),
	}
	if a.public, err = session.New(cfg.PublicSession(), nil); err != nil {
		return nil, err
	}
	if cfg.HasForestCredentials() {
		hashKey, blockKey, err := cfg.Keys()
		if err != nil {
			return nil, err
		}
		store := session.NewFileStore(cfg.Session.Dir, hashKey, blockKey)
		if a.forest, err = session.New(cfg.ForestSession(), store); err != nil {
			return nil, err
		}
	}
	return a, nil
}

var errNoForestCredentials = errors.New("FOREST_USERNAME and FOREST_PASSWORD are required for the forestry member site")

// checker returns a Checker that fetches through the session of v's site.
func (a *app) checker(v park.Variant) (*worker.Checker, error) {
	if !v.RequiresLogin() {
		return worker.NewChecker(a.public, nil, a.cfg.Fetch.Workers), nil
	}
	if a.forest == nil {
		return nil, errNoForestCredentials
	}
	return worker.NewChecker(a.forest, a.forest, a.cfg.Fetch.Workers), nil
}
