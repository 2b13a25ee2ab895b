package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/newsroomate/rundown/internal/health"
	"github.com/newsroomate/rundown/internal/printer"
	"github.com/newsroomate/rundown/internal/reconcile"
	"github.com/newsroomate/rundown/internal/watch"
)

var (
	watchOutputFormat string
	watchMetricsAddr  string
)

var watchCmd = &cobra.Command{
	Use:   "watch RUNDOWN_ID",
	Short: "Follow a rundown's changes in real time",
	Long: `Follow a rundown's changes as other editors make them.

Each notification is printed with what reconciliation did with it: applied,
suppressed as this client's own echo, dropped as stale, and so on.

If the realtime connection is lost it is retried; once retries run out the
command reports that updates are degraded and exits.

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  rundown watch 3f2a9c1e-...
  rundown watch 3f2a9c1e-... --output=json > changes.jsonl
  rundown watch 3f2a9c1e-... --metrics-addr :9090`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve /healthz and /metrics on this address (overrides metrics.addr)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	outputFormat, err := watch.ParseOutputFormat(watchOutputFormat)
	if err != nil {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	feed := watch.NewFeed(256, nil)
	rd, err := a.session.Open(ctx, args[0], reconcile.OnNotification(feed.Observe))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	addr := watchMetricsAddr
	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}
	if addr != "" {
		srv := health.NewServer(a.session.Client(), a.metrics, rd.Degraded, a.logger)
		if err := srv.Start(addr); err != nil {
			return printer.Error("cannot serve metrics", err.Error(), []string{"Pick another --metrics-addr"})
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
		if outputFormat == watch.OutputFormatDefault {
			printer.Info("Serving /healthz and /metrics on %s\n", srv.Addr())
		}
	}

	if outputFormat == watch.OutputFormatDefault {
		printer.Info("Watching rundown '%s' (Ctrl+C to stop)\n", rd.Meta.Name)
	}

	streamCtx, stopStream := context.WithCancel(ctx)
	streamDone := make(chan error, 1)
	go func() { streamDone <- watch.Stream(streamCtx, feed.Events(), outputFormat, printer.Out) }()

	rd.Start(ctx)
	runErr := rd.Wait()
	stopStream()
	if err := <-streamDone; err != nil {
		return fmt.Errorf("failed to write events: %w", err)
	}

	if dropped := feed.Dropped(); dropped > 0 {
		printer.Warning("%d events were not printed because output fell behind\n", dropped)
	}

	if errors.Is(runErr, reconcile.ErrDegraded) {
		return printer.Error(
			"realtime updates degraded",
			runErr.Error(),
			[]string{
				"Check Redis, then watch again",
				fmt.Sprintf("Refresh manually meanwhile:\n  rundown show %s", rd.Meta.ID),
			},
		)
	}
	return runErr
}
