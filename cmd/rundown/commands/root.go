package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newsroomate/rundown/internal/config"
	"github.com/newsroomate/rundown/internal/logging"
	"github.com/newsroomate/rundown/internal/metrics"
	"github.com/newsroomate/rundown/internal/printer"
	"github.com/newsroomate/rundown/internal/resolver"
	"github.com/newsroomate/rundown/internal/session"
	"github.com/newsroomate/rundown/pkg/rundown"
)

var (
	version string
	commit  string
	date    string

	configPath string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rundown",
	Short: "rundown - Collaborative newsroom rundown editor",
	Long: `rundown edits broadcast rundowns (ordered blocks of news items) that
several people change at once.

Every edit shows up locally right away and is reconciled with the changes
other editors make, streamed from Redis. Items and whole blocks can be copied
between rundowns through a clipboard shared by every process of a scope.`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the configuration file (defaults apply when missing)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
}

// app is what every command that talks to the backend needs.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	session *session.Session
}

func connect(ctx context.Context) (*app, error) {
	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{fmt.Sprintf("Fix %s, or regenerate it:\n  rundown init --force", configPath)},
		)
	}

	logCfg := cfg.Log
	if verbose {
		logCfg.Level = "debug"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	m := metrics.New()
	s, err := session.Connect(ctx, cfg, session.WithLogger(logger), session.WithMetrics(m))
	if err != nil {
		logger.Sync()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			err.Error(),
			map[string]string{"URL": cfg.Redis.URL},
			[]string{
				fmt.Sprintf("Set redis.url in %s", configPath),
				fmt.Sprintf("Or export %s=redis://host:port/db", config.EnvRedisURL),
			},
		)
	}

	return &app{cfg: cfg, logger: logger, metrics: m, session: s}, nil
}

func (a *app) Close() {
	a.session.Close()
	a.logger.Sync()
}

// open loads a rundown by its full id.
func (a *app) open(ctx context.Context, rundownID string) (*session.Rundown, error) {
	rd, err := a.session.Open(ctx, rundownID)
	if err != nil {
		if rundown.IsNotFound(err) {
			return nil, a.rundownNotFound(rundownID)
		}
		return nil, err
	}
	return rd, nil
}

func (a *app) rundownNotFound(rundownID string) error {
	return printer.Error(
		"rundown not found",
		fmt.Sprintf("No rundown with id '%s' in namespace '%s'.", rundownID, a.cfg.Namespace),
		[]string{"Create one:\n  rundown create \"Jornal da Tarde\""},
	)
}

// openItem resolves an item id (or unique prefix) and opens its rundown.
func (a *app) openItem(ctx context.Context, ref string) (*session.Rundown, rundown.Item, error) {
	id, err := resolver.ResolveItemID(ctx, a.session.Client(), ref)
	if err != nil {
		return nil, rundown.Item{}, resolveError(ref, err)
	}
	it, err := a.session.Client().GetItem(ctx, id)
	if err != nil {
		return nil, rundown.Item{}, err
	}
	rd, err := a.open(ctx, it.RundownID)
	if err != nil {
		return nil, rundown.Item{}, err
	}
	return rd, it, nil
}

// block resolves a block id, id prefix or name within rd.
func block(rd *session.Rundown, ref string) (string, error) {
	id, err := resolver.ResolveBlockID(rd.Snapshot(), ref)
	if err != nil {
		return "", resolveError(ref, err)
	}
	return id, nil
}

func resolveError(ref string, err error) error {
	var amb *resolver.AmbiguousError
	if errors.As(err, &amb) {
		return printer.Error(fmt.Sprintf("ambiguous %s '%s'", amb.Kind, ref), resolver.FormatAmbiguousError(amb), nil)
	}
	var nf *resolver.NotFoundError
	if errors.As(err, &nf) {
		return printer.Error(
			fmt.Sprintf("%s not found", nf.Kind),
			err.Error(),
			[]string{"List the rundown to find ids:\n  rundown show <RUNDOWN_ID>"},
		)
	}
	return printer.Error("invalid id", err.Error(), nil)
}

// mutationError prints engine errors by kind.
func mutationError(action string, err error) error {
	switch {
	case rundown.IsValidation(err):
		return printer.Error(fmt.Sprintf("cannot %s", action), err.Error(), nil)
	case rundown.IsNotFound(err):
		return printer.Error(fmt.Sprintf("cannot %s", action), err.Error(),
			[]string{"Someone may have deleted it, refresh with:\n  rundown show <RUNDOWN_ID>"})
	default:
		return printer.ErrorWithContext(fmt.Sprintf("failed to %s", action), err.Error(), nil,
			[]string{"The local change was rolled back; retry once Redis is reachable"})
	}
}

// parseDuration reads "90", "1:30" or "1m30s" as seconds.
func parseDuration(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if m, sec, ok := strings.Cut(s, ":"); ok {
		mins, err1 := strconv.Atoi(m)
		secs, err2 := strconv.Atoi(sec)
		if err1 != nil || err2 != nil || mins < 0 || secs < 0 || secs >= 60 {
			return 0, fmt.Errorf("invalid duration %q (expected mm:ss)", s)
		}
		return mins*60 + secs, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("duration must be >= 0, got %d", n)
		}
		return n, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return int(d.Round(time.Second) / time.Second), nil
}
