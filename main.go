// Command storefront is a terminal client for the storefront REST API.
//
// Usage:
//
//	storefront [--config file] [--log-level level] [--ephemeral] <command> [flags]
//
// The session token is persisted between invocations (SQLite by default,
// Postgres or memory by configuration), so `storefront login` followed by
// `storefront cart` behaves like the mobile app across restarts. The
// devserver command serves an in-memory backend for local use.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"storefront/api"
	"storefront/config"
	"storefront/devserver"
	"storefront/logging"
	"storefront/service"
	"storefront/store"
	"storefront/tagging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		configPath string
		logLevel   string
		ephemeral  bool
	)

	flagSet := pflag.NewFlagSet("storefront", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&configPath, "config", "", "YAML config file (default $STOREFRONT_CONFIG)")
	flagSet.StringVar(&logLevel, "log-level", "", "override the configured log level")
	flagSet.BoolVar(&ephemeral, "ephemeral", false, "keep the session in memory for this invocation only")
	flagSet.Usage = func() { printUsage(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(stderr, flagSet)
		return errors.New("no command given")
	}
	cmd, ok := lookupCommand(rest[0])
	if !ok {
		return fmt.Errorf("unknown command %q (run with --help for the list)", rest[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if ephemeral {
		cfg.Storage.Driver = config.DriverMemory
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, stderr)
	if err != nil {
		return err
	}

	if cmd.standalone != nil {
		return cmd.standalone(ctx, cfg, log, rest[1:])
	}

	a, err := newApp(ctx, cfg, log, stdout)
	if err != nil {
		return err
	}
	defer a.close()

	return cmd.run(ctx, a, rest[1:])
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: storefront [flags] <command> [command flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-16s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "\nFlags:\n")
	flagSet.PrintDefaults()
}

// app is the wired client used by every command except devserver.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	tokens  store.Store
	svc     *service.Service
	metrics *prometheus.Registry
	out     io.Writer
}

func newApp(ctx context.Context, cfg *config.Config, log *logrus.Logger, out io.Writer) (*app, error) {
	tokens, err := openStore(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.API.Timeout}
	client, err := api.NewClient(api.Config{
		BaseURL:    cfg.API.BaseURL,
		HTTPClient: httpClient,
		Tokens:     store.TokenSource{Store: tokens},
		Logger:     log.WithField("component", "api"),
	})
	if err != nil {
		_ = tokens.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	opts := []service.Option{
		service.WithLogger(log.WithField("component", "service")),
		service.WithMetrics(service.NewMetrics(reg)),
	}
	if cfg.Tagging.Enabled() {
		tagger, err := tagging.NewClient(tagging.Config{
			BaseURL:       cfg.Tagging.BaseURL,
			APIKey:        cfg.Tagging.APIKey,
			APISecret:     cfg.Tagging.APISecret,
			MinConfidence: cfg.Tagging.MinConfidence,
			MaxTags:       cfg.Tagging.MaxTags,
			HTTPClient:    httpClient,
			Logger:        log.WithField("component", "tagging"),
		})
		if err != nil {
			_ = tokens.Close()
			return nil, err
		}
		opts = append(opts, service.WithTagger(tagger))
	}

	svc := service.NewService(client, tokens, opts...)
	if _, err := svc.RestoreSession(ctx); err != nil {
		log.WithError(err).Warn("could not restore session")
	}

	return &app{cfg: cfg, log: log, tokens: tokens, svc: svc, metrics: reg, out: out}, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig, log logrus.FieldLogger) (store.Store, error) {
	if cfg.Driver == config.DriverMemory {
		log.Debug("session kept in memory")
		return store.NewMemoryStore(), nil
	}
	s, err := store.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	log.WithField("driver", s.Driver()).Debug("session store opened")
	return s, nil
}

func (a *app) close() {
	logMetrics(a.log, a.metrics)
	if err := a.tokens.Close(); err != nil {
		a.log.WithError(err).Warn("closing session store")
	}
}

// logMetrics dumps the operation counters at debug level.
func logMetrics(log logrus.FieldLogger, reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		log.WithError(err).Debug("gather metrics")
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			fields := logrus.Fields{"metric": mf.GetName()}
			for _, lp := range m.GetLabel() {
				fields[lp.GetName()] = lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				fields["value"] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				fields["value"] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				fields["count"] = m.GetHistogram().GetSampleCount()
				fields["sum"] = m.GetHistogram().GetSampleSum()
			}
			log.WithFields(fields).Debug("metric")
		}
	}
}

func runDevServer(ctx context.Context, cfg *config.Config, log *logrus.Logger, args []string) error {
	dc := cfg.DevServer
	flagSet := pflag.NewFlagSet("devserver", pflag.ContinueOnError)
	flagSet.StringVar(&dc.Addr, "addr", dc.Addr, "listen address")
	flagSet.StringVar(&dc.OTP, "otp", dc.OTP, "fixed OTP issued on registration (random when empty)")
	flagSet.StringVar(&dc.SeedFile, "seed", dc.SeedFile, "YAML seed file with products and accounts")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	srv, err := devserver.New(dc, log.WithField("component", "devserver"))
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
