package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/schreiberstein/trunktap/pkg/config"
	"github.com/schreiberstein/trunktap/pkg/discovery"
	"github.com/schreiberstein/trunktap/pkg/network"
	"github.com/schreiberstein/trunktap/pkg/network/driver"
	"github.com/schreiberstein/trunktap/pkg/state"
	"github.com/schreiberstein/trunktap/pkg/topology"
	"github.com/schreiberstein/trunktap/pkg/vlan"
)

var version = "dev"

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1 // discovery failed or start aborted
	ExitUsage   = 2 // bad flags or configuration
)

// usageError marks errors in how the command was invoked.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// newExecutor picks the backend for a run. Tests replace it.
var newExecutor = func(cfg config.Config, opts *Options, log *zap.SugaredLogger) (network.Executor, error) {
	switch {
	case opts.DryRun:
		return driver.NewDryRun(log), nil
	case cfg.Backend == config.BackendIPRoute2:
		return driver.NewIPRoute2(opts.IPBinary, nil, log), nil
	default:
		return driver.NewLinux(log), nil
	}
}

// Main runs trunktap with args and returns the process exit code.
func Main(args []string, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := Command()
	cmd.SetArgs(normalizeArgs(args))
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(stderr, "trunktap: %v\n", err)

	var ue *usageError
	if errors.As(err, &ue) || config.IsConfigError(err) {
		return ExitUsage
	}
	return ExitFailure
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return &usageError{err: err}
	}
	return nil
}

// normalizeArgs accepts the single-dash -start and -stop spellings, which
// pflag would otherwise read as a bundle of shorthand flags.
func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i, a := range args {
		if a == "--" {
			return append(out, args[i:]...)
		}
		switch a {
		case "-start", "-stop", "-plan":
			a = "-" + a
		}
		out = append(out, a)
	}
	return out
}

// Command returns the root trunktap command.
func Command() *cobra.Command {
	var (
		opts    Options
		actions ActionOptions
	)

	cmd := &cobra.Command{
		Use:           "trunktap -start|-stop -i <trunk> -t <tap> -b <bridge> [-v ./vlans/]",
		Short:         "Bridge a VLAN trunk into per-VLAN bridges and a tap interface",
		Version:       version,
		Args:          noArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, &opts, actions)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	opts.AddFlags(cmd.PersistentFlags())
	actions.AddFlags(cmd.Flags())

	cmd.AddCommand(statusCommand(&opts), watchCommand(&opts))
	return cmd
}

func statusCommand(opts *Options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Compare the host with the topology start would build",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text or json.")
	return cmd
}

func watchCommand(opts *Options) *cobra.Command {
	var (
		interval time.Duration
		listen   string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the topology converged, re-running start whenever the host drifts",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, interval, listen)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "How often to check for drift.")
	cmd.Flags().StringVar(&listen, "listen", "", "Serve /healthz and /api/v1/status on this address, e.g. :9180.")
	return cmd
}

// ─── Runs ────────────────────────────────────────────────────────────────────

// session is everything a subcommand needs once flags are parsed.
type session struct {
	cfg  config.Config
	log  *zap.SugaredLogger
	orch *topology.Orchestrator
	src  discovery.Source
}

func newSession(cmd *cobra.Command, opts *Options) (*session, error) {
	cfg, err := opts.Config(cmd.Flags())
	if err != nil {
		return nil, err
	}

	log := newLogger(opts.Debug, cmd.ErrOrStderr())
	log.Infow("starting trunktap", "version", version, "backend", cfg.Backend, "dry_run", opts.DryRun)

	exec, err := newExecutor(cfg, opts, log)
	if err != nil {
		return nil, err
	}
	return &session{
		cfg:  cfg,
		log:  log,
		orch: topology.New(exec, log),
		src:  newSource(cfg, log),
	}, nil
}

func newSource(cfg config.Config, log *zap.SugaredLogger) discovery.Source {
	if len(cfg.VLANs) > 0 {
		return discovery.StaticSource{IDs: cfg.VLANs}
	}
	src := discovery.NewDirSource(cfg.VLANDir, log)
	src.Strict = cfg.Strict
	return src
}

func runAction(cmd *cobra.Command, opts *Options, actions ActionOptions) error {
	action, err := config.ActionFrom(actions.Start, actions.Stop)
	if err != nil {
		return err
	}
	s, err := newSession(cmd, opts)
	if err != nil {
		return err
	}
	defer func() { _ = s.log.Sync() }()

	ctx := cmd.Context()
	set, err := s.src.Discover(ctx)
	if err != nil {
		return err
	}

	store := state.NewStore(opts.StateFile)
	if action == config.ActionStop {
		set = s.withRecorded(store, set)
	}

	if actions.Plan {
		if err := topology.Validate(s.cfg, set); err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), topology.BuildPlan(s.cfg, set, action))
		return nil
	}

	if action == config.ActionStart {
		rep, err := s.orch.Start(ctx, s.cfg, set)
		s.record(store, rep, set)
		return err
	}

	rep, err := s.orch.Stop(ctx, s.cfg, set)
	var serr *topology.StopError
	if errors.As(err, &serr) {
		// Teardown leftovers are reported but do not fail the run.
		fmt.Fprintf(cmd.ErrOrStderr(), "trunktap: stop finished with %d failed step(s):\n", len(serr.Failures))
		for _, f := range serr.Failures {
			fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", f)
		}
		s.record(store, rep, set)
		return nil
	}
	if err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		s.log.Warnw("failed to clear run record", "error", err)
	}
	return nil
}

// withRecorded adds the VLANs of the last recorded run of this topology to
// set, so that VLANs removed from discovery since start are still torn down.
func (s *session) withRecorded(store *state.Store, set vlan.Set) vlan.Set {
	rec, ok, err := store.Load()
	if err != nil {
		s.log.Warnw("ignoring unreadable run record", "error", err)
		return set
	}
	if !ok || !rec.Matches(s.cfg) {
		return set
	}
	merged := state.Union(set, rec.Set())
	if merged.Len() != set.Len() {
		s.log.Infow("including VLANs from the last recorded run", "recorded", rec.Set().String(), "discovered", set.String())
	}
	return merged
}

func (s *session) record(store *state.Store, rep *topology.Report, set vlan.Set) {
	if rep == nil || !store.Enabled() {
		return
	}
	rec := state.NewRecord(rep.RunID, rep.Action, rep.Phase.String(), s.cfg, set)
	if err := store.Save(rec); err != nil {
		s.log.Warnw("failed to save run record", "error", err)
	}
}

func runStatus(cmd *cobra.Command, opts *Options, output string) error {
	if output != "text" && output != "json" {
		return &usageError{err: fmt.Errorf("unknown output format %q", output)}
	}
	s, err := newSession(cmd, opts)
	if err != nil {
		return err
	}
	defer func() { _ = s.log.Sync() }()

	ctx := cmd.Context()
	set, err := s.src.Discover(ctx)
	if err != nil {
		return err
	}
	statuses, err := s.orch.Inspect(ctx, s.cfg, set)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(statuses); err != nil {
			return err
		}
	} else {
		for _, st := range statuses {
			fmt.Fprintln(w, st)
		}
	}

	var drifted []string
	for _, st := range statuses {
		if !st.OK() {
			drifted = append(drifted, st.Name)
		}
	}
	if len(drifted) > 0 {
		return fmt.Errorf("topology incomplete: %s", strings.Join(drifted, ", "))
	}
	return nil
}

func runWatch(cmd *cobra.Command, opts *Options, interval time.Duration, listen string) error {
	s, err := newSession(cmd, opts)
	if err != nil {
		return err
	}
	defer func() { _ = s.log.Sync() }()

	status := &topology.WatchStatus{}
	g, ctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error {
		err := s.orch.Watch(ctx, s.cfg, s.src, topology.WatchOpts{Interval: interval, OnPass: status.Observe})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if listen != "" {
		mux := http.NewServeMux()
		status.RegisterRoutes(mux)
		srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			s.log.Infow("serving watch status", "addr", listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving watch status on %s: %w", listen, err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// newLogger returns a production JSON logger, or a console debug logger.
func newLogger(debug bool, w io.Writer) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)
	level := zapcore.InfoLevel
	if debug {
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		level = zapcore.DebugLevel
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(w), level)
	return zap.New(core).Sugar()
}
