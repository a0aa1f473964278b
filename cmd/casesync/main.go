package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/casesync/internal/config"
	"github.com/gotrs-io/casesync/internal/database"
	"github.com/gotrs-io/casesync/internal/runner"
	"github.com/gotrs-io/casesync/internal/runner/tasks"
	"github.com/gotrs-io/casesync/internal/version"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "casesync",
	Short: "Sync support mail with the case workspace",
	Long: `casesync files mail arriving at the support aliases into support cases and
sends the replies agents write in the workspace back out by email.`,
	Version:       version.GetInfo().String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the inbound and outbound loops until interrupted",
	Long: `Run polls the mailbox and the reply database on their intervals. The first
SIGINT or SIGTERM lets each loop finish the item in hand; a second one aborts.`,
	RunE: runBoth,
}

var inboundCmd = &cobra.Command{
	Use:   "inbound",
	Short: "Poll the mailbox into the workspace",
	RunE:  runInbound,
}

var outboundCmd = &cobra.Command{
	Use:   "outbound",
	Short: "Send reply pages flagged for sending",
	RunE:  runOutbound,
}

var renderCmd = &cobra.Command{
	Use:   "render <reply-page-id>",
	Short: "Write the email for one reply page to the render directory without sending",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the store tables",
	RunE:  runMigrate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.GetInfo().Full())
	},
}

var (
	inboundOnce  bool
	outboundOnce bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: casesync.yaml in . or /etc/casesync)")

	inboundCmd.Flags().BoolVar(&inboundOnce, "once", false, "Run a single pass and exit")
	outboundCmd.Flags().BoolVar(&outboundOnce, "once", false, "Run a single pass and exit")

	rootCmd.AddCommand(runCmd, inboundCmd, outboundCmd, renderCmd, migrateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runBoth(cmd *cobra.Command, args []string) error {
	return runLoops(cmd.Context(), config.Validate, true, true)
}

func runInbound(cmd *cobra.Command, args []string) error {
	if inboundOnce {
		return once(cmd.Context(), config.ValidateInbound, func(ctx context.Context, a *app) (int, error) {
			return a.inboundPoller().PollOnce(ctx)
		})
	}
	return runLoops(cmd.Context(), config.ValidateInbound, true, false)
}

func runOutbound(cmd *cobra.Command, args []string) error {
	if outboundOnce {
		return once(cmd.Context(), config.ValidateOutbound, func(ctx context.Context, a *app) (int, error) {
			return a.outboundWatcher().PollOnce(ctx)
		})
	}
	return runLoops(cmd.Context(), config.ValidateOutbound, false, true)
}

// runLoops drives the selected loops on the runner until shutdown.
func runLoops(ctx context.Context, validate func(*config.Config) error, withInbound, withOutbound bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := validate(cfg); err != nil {
		return err
	}
	logger := newLogger(cfg)

	registry := runner.NewTaskRegistry()
	r := runner.NewRunner(registry, runner.WithLogger(logger))

	a, err := newApp(ctx, cfg, logger, r.Draining)
	if err != nil {
		return err
	}
	defer a.Close()

	if withInbound {
		if err := registry.Register(tasks.NewInboundTask(a.inboundPoller(), cfg.Inbound.PollInterval, logger)); err != nil {
			return err
		}
	}
	if withOutbound {
		if err := registry.Register(tasks.NewOutboundTask(a.outboundWatcher(), cfg.Outbound.PollInterval, logger)); err != nil {
			return err
		}
	}

	if configFile != "" {
		config.WatchConfig(configFile, logger)
	}

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	a.serveMetrics(serveCtx)

	logger.Printf("casesync %s starting: %v", version.GetInfo(), registry.Names())
	return r.Start(ctx)
}

// once runs a single pass. An interrupt cancels it.
func once(parent context.Context, validate func(*config.Config) error, pass func(context.Context, *app) (int, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := validate(cfg); err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := pass(ctx, a)
	logger.Printf("pass handled %d item(s)", n)
	return err
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Outbound.RenderDir == "" {
		return fmt.Errorf("outbound.render_dir is not set")
	}
	logger := newLogger(cfg)

	a, err := newApp(cmd.Context(), cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	path, err := a.replyProcessor().Render(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if database.NormalizeDriver(cfg.Store.Driver) == "memory" {
		return fmt.Errorf("store.driver is memory; nothing to migrate")
	}
	db, err := database.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := database.Migrate(cmd.Context(), db)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "applied %d statement(s)\n", applied)
	return nil
}
