// Command statectl inspects and manipulates shared states.
//
// Names are either hex identifiers as printed by "create" or well-known
// labels written as wk:<label>. Connection settings come from NOTIFY_*
// environment variables (see internal/config) and can be overridden with
// flags.
//
//	statectl create --lifetime temporary
//	statectl set wk:build.status '{"phase":"running"}'
//	statectl until wk:build.status 'json.phase == "done"' --timeout 5m
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/codewandler/notify-go/adapters/prometheus"
	"github.com/codewandler/notify-go/core/notify"
	"github.com/codewandler/notify-go/core/process"
	"github.com/codewandler/notify-go/core/state"
	"github.com/codewandler/notify-go/internal/config"
)

var (
	flagBackend string
	flagNatsURL string
	flagBucket  string
	flagVerbose bool

	rootCmd = &cobra.Command{
		Use:           "statectl",
		Short:         "Read, write and watch versioned shared states",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagBackend, "backend", "", "channel backend: memory or nats (default from NOTIFY_BACKEND)")
	pf.StringVar(&flagNatsURL, "nats-url", "", "NATS server URL (default from NOTIFY_NATS_URL)")
	pf.StringVar(&flagBucket, "bucket", "", "key/value bucket (default from NOTIFY_NATS_BUCKET)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(
		createCmd(),
		getCmd(),
		setCmd(),
		updateCmd(),
		infoCmd(),
		deleteCmd(),
		watchCmd(),
		waitCmd(),
		untilCmd(),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, notify.ErrTimedOut) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// env is what every subcommand works with.
type env struct {
	log  *slog.Logger
	proc *process.Process
	stop func()
}

func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagBackend != "" {
		cfg.Backend = flagBackend
	}
	if flagNatsURL != "" {
		cfg.NATS.URL = flagNatsURL
	}
	if flagBucket != "" {
		cfg.NATS.Bucket = flagBucket
	}
	if flagVerbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger(cmd.ErrOrStderr())
	ch, err := cfg.OpenChannel(log)
	if err != nil {
		return nil, err
	}

	var (
		regOpts []notify.RegistryOption
		srv     *http.Server
	)
	if cfg.Metrics.Addr != "" {
		reg := prom.NewRegistry()
		regOpts = append(regOpts, notify.WithMetrics(prometheus.NewNotifyMetrics(reg)))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", slog.Any("error", err))
			}
		}()
	}

	proc, err := process.New(process.Config{Channel: ch, Log: log, Registry: regOpts})
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	return &env{
		log:  log,
		proc: proc,
		stop: func() {
			_ = proc.Close()
			_ = ch.Close()
			if srv != nil {
				_ = srv.Close()
			}
		},
	}, nil
}

// run wraps a subcommand body with setup and teardown.
func run(fn func(cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.stop()
		return fn(cmd, e, args)
	}
}

// resolve turns a CLI argument into a handle. Owned handles are only
// produced for names this tool can have allocated.
func resolve(arg string) (state.Handle, error) {
	if label, ok := strings.CutPrefix(arg, "wk:"); ok {
		if label == "" {
			return state.Handle{}, fmt.Errorf("%w: empty well-known label", state.ErrInvalidName)
		}
		return state.WellKnown(state.WellKnownName(label)), nil
	}
	name, err := state.ParseName(arg)
	if err != nil {
		return state.Handle{}, err
	}
	d, err := name.Descriptor()
	if err != nil {
		return state.Handle{}, err
	}
	switch {
	case d.Lifetime == state.LifetimeWellKnown:
		return state.WellKnown(name), nil
	case d.Permanent || d.Lifetime == state.LifetimePermanent || d.Lifetime == state.LifetimePersistent:
		return state.Handle{Name: name, Ownership: state.OwnershipPermanent}, nil
	default:
		return state.Handle{Name: name, Ownership: state.OwnershipTemporary}, nil
	}
}
