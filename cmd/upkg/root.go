package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/meigma/upkg"
	"github.com/meigma/upkg/internal/config"
)

// version is set via -ldflags.
var version = "dev"

// app carries the state shared by every subcommand.
type app struct {
	cfgFile string
	flags   config.Config

	cfg     *config.Config
	logger  *slog.Logger
	metrics *prometheus.Registry
	server  *http.Server
}

func execute(ctx context.Context) error {
	return fang.Execute(ctx, newRootCmd(&app{}),
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt))
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upkg",
		Short: "Inspect the packages of a game directory",
		Long: titleStyle.Render("upkg") + subtitleStyle.Render(" - package archive inspector") + `

upkg indexes the package files under a game root, decrypts its mapper
tables, and parses package headers, imports and exports.

` + subtitleStyle.Render("Examples:") + `
  upkg index Engine          List packages whose name starts with Engine
  upkg mappers S1Game        Look up S1Game in the mapper tables
  upkg dump Engine           Print the tables of the Engine package
  upkg classes               Load the class packages
  upkg resolve S1Game        Resolve the imports of S1Game`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (yaml, toml or json)")
	pf.StringVar(&a.flags.Root, "root", "", "game directory (env UPKG_ROOT)")
	pf.StringVar(&a.flags.TempDir, "temp-dir", "", "directory for decompressed packages")
	pf.IntVar(&a.flags.Workers, "workers", 0, "parallel workers, 0 uses GOMAXPROCS")
	pf.StringVar(&a.flags.LogLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&a.flags.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	cmd.AddCommand(
		newIndexCmd(a),
		newMappersCmd(a),
		newDumpCmd(a),
		newClassesCmd(a),
		newResolveCmd(a),
	)
	return cmd
}

// setup loads the configuration, applies flags set on the command line and
// builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("root") {
		cfg.Root = a.flags.Root
	}
	if f.Changed("temp-dir") {
		cfg.TempDir = a.flags.TempDir
	}
	if f.Changed("workers") {
		cfg.Workers = a.flags.Workers
	}
	if f.Changed("log-level") {
		cfg.LogLevel = a.flags.LogLevel
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = a.flags.MetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = slog.New(log.NewWithOptions(cmd.ErrOrStderr(), log.Options{
		Prefix:          "upkg",
		Level:           log.Level(level),
		ReportTimestamp: true,
	}))
	a.metrics = prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		return a.serveMetrics(cfg.MetricsAddr)
	}
	return nil
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return a.server.Shutdown(ctx)
}

// registry returns a registry configured from the settings. Callers must
// shut it down.
func (a *app) registry() *upkg.Registry {
	opts := []upkg.Option{
		upkg.WithLogger(a.logger),
		upkg.WithWorkers(a.cfg.Workers),
		upkg.WithMetrics(a.metrics),
	}
	if a.cfg.TempDir != "" {
		opts = append(opts, upkg.WithTempDir(a.cfg.TempDir))
	}
	if len(a.cfg.ClassPackages) > 0 {
		opts = append(opts, upkg.WithClassPackages(a.cfg.ClassPackages...))
	}
	return upkg.New(a.cfg.Root, opts...)
}

// open opens and loads the package named by arg. An existing file is opened
// by path, anything else is resolved as a package name.
func (a *app) open(ctx context.Context, r *upkg.Registry, arg, guid string) (*upkg.Package, error) {
	id := uuid.Nil
	if guid != "" {
		var err error
		if id, err = uuid.Parse(guid); err != nil {
			return nil, fmt.Errorf("guid: %w", err)
		}
	}

	var (
		p   *upkg.Package
		err error
	)
	if info, statErr := os.Stat(arg); statErr == nil && !info.IsDir() {
		p, err = r.Open(ctx, arg)
	} else {
		if err := r.LoadMappers(ctx); err != nil {
			a.logger.Warn("mapper tables unavailable", "error", err)
		}
		p, err = r.OpenNamed(ctx, arg, id)
	}
	if err != nil {
		return nil, err
	}
	if err := p.Load(ctx); err != nil {
		r.Close(p)
		return nil, err
	}
	return p, nil
}
