// ldpd is an LDP (RFC 5036) label distribution daemon. It self-re-execs
// into three privilege-separated roles -- parent (kernel driver), ldpe
// (discovery + sessions), and lde (label decision engine) -- connected by
// the framed bus protocol in internal/bus (spec §2, SPEC_FULL.md §2
// EXPANSION "Process & Binary Layout").
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ldp-project/ldpd/internal/bus"
	"github.com/ldp-project/ldpd/internal/config"
	ldpmetrics "github.com/ldp-project/ldpd/internal/metrics"
	appversion "github.com/ldp-project/ldpd/internal/version"
)

// Role identifies which of the three privilege-separated processes this
// invocation of the binary should run as.
type Role string

const (
	RoleParent Role = "parent"
	RoleLDPE   Role = "ldpe"
	RoleLDE    Role = "lde"
)

// shutdownTimeout bounds how long graceful shutdown waits for subprocesses
// and servers to drain.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("f", "/etc/ldpd/ldpd.yaml", "path to configuration file (YAML)")
	role := flag.String("role", "", "internal: process role (parent|ldpe|lde); unset means top-level launch")
	devInProcess := flag.Bool("dev-inprocess", false, "run all three roles as goroutines connected by net.Pipe, for development and tests")
	debugFlag := flag.String("D", "", "macro definition, name=value (accepted for compatibility; currently ignored)")
	verbose := flag.Bool("v", false, "enable verbose (debug) logging")
	flag.Parse()
	_ = debugFlag

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration", slog.String("error", err.Error()))
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	if *verbose {
		logLevel.Set(slog.LevelDebug)
	}
	logger := newLogger(cfg.Log, logLevel)

	if *devInProcess {
		return runDevInProcess(cfg, logger, logLevel)
	}

	if *role != "" {
		return runRole(Role(*role), cfg, logger, *configPath, logLevel)
	}

	return runTopLevel(cfg, logger, *configPath)
}

func newLogger(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

// runTopLevel is the entrypoint for the binary launched by systemd/init: it
// spawns the three role subprocesses via self-re-exec (spec §2, like
// OpenSSH's privilege-separated re-exec), wires their stdio pipes, and
// supervises them with an errgroup under a signal-aware context.
func runTopLevel(cfg *config.Config, logger *slog.Logger, configPath string) int {
	logger.Info("ldpd starting", slog.String("version", appversion.Version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exe, err := os.Executable()
	if err != nil {
		logger.Error("resolve executable path", slog.String("error", err.Error()))
		return 1
	}

	ldpeToLDE, ldeToLDPE, err := socketpairPipe()
	if err != nil {
		logger.Error("create ldpe<->lde pipe", slog.String("error", err.Error()))
		return 1
	}
	parentToLDPE, ldpeToParent, err := socketpairPipe()
	if err != nil {
		logger.Error("create parent<->ldpe pipe", slog.String("error", err.Error()))
		return 1
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return spawnRole(gCtx, exe, RoleLDE, configPath, ldeToLDPE) })
	g.Go(func() error { return spawnRole(gCtx, exe, RoleLDPE, configPath, ldpeToLDE, ldpeToParent) })
	g.Go(func() error { return spawnRole(gCtx, exe, RoleParent, configPath, parentToLDPE) })

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Debug("sd_notify ready failed (not running under systemd?)", slog.String("error", err.Error()))
	}

	g.Go(func() error { return serveMetrics(gCtx, cfg.Metrics) })

	if err := g.Wait(); err != nil && gCtx.Err() == nil {
		logger.Error("ldpd exited with error", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("ldpd stopped")
	return 0
}

// spawnRole re-execs the binary with -role=<role>, handing it extraFiles as
// its bus connections (fd 3, 4, ...), and waits for it to exit or ctx to be
// canceled.
func spawnRole(ctx context.Context, exe string, role Role, configPath string, extraFiles ...*os.File) error {
	cmd := exec.CommandContext(ctx, exe, "-role", string(role), "-f", configPath)
	cmd.ExtraFiles = extraFiles
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn role %s: %w", role, err)
	}
	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("role %s exited: %w", role, err)
	}
	return nil
}

// runRole is what a re-exec'd child actually runs: it adopts fd 3+ as its
// bus connections and drives the role-specific loop.
func runRole(role Role, cfg *config.Config, logger *slog.Logger, configPath string, logLevel *slog.LevelVar) int {
	logger = logger.With(slog.String("role", string(role)))
	conns := adoptExtraFiles()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch role {
	case RoleParent:
		err = RunParent(ctx, cfg, conns, logger, configPath, logLevel)
	case RoleLDPE:
		err = RunLDPE(ctx, cfg, conns, logger)
	case RoleLDE:
		err = RunLDE(ctx, cfg, conns, logger)
	default:
		logger.Error("unknown role", slog.String("role", string(role)))
		return 1
	}
	if err != nil {
		logger.Error("role exited with error", slog.String("error", err.Error()))
		return 1
	}
	return 0
}

// adoptExtraFiles wraps the inherited file descriptors (starting at fd 3,
// the first one after stdin/stdout/stderr) as bus.Conns.
func adoptExtraFiles() []*bus.Conn {
	const firstExtraFD = 3
	var conns []*bus.Conn
	for i := firstExtraFD; ; i++ {
		f := os.NewFile(uintptr(i), fmt.Sprintf("bus-fd-%d", i))
		if f == nil {
			break
		}
		if _, err := f.Stat(); err != nil {
			break
		}
		conns = append(conns, bus.NewConn(f))
	}
	return conns
}

// socketpairPipe returns two connected *os.File halves of a Unix domain
// socketpair, used as the inter-process bus transport (full duplex, unlike
// os.Pipe's two unidirectional halves).
func socketpairPipe() (*os.File, *os.File, error) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	return os.NewFile(uintptr(fds[0]), "bus-a"), os.NewFile(uintptr(fds[1]), "bus-b"), nil
}

// runDevInProcess wires the three roles as goroutines connected by
// net.Pipe, for development and for tests that want full cross-role
// behavior without forking (spec §2 EXPANSION: "-dev-inprocess").
func runDevInProcess(cfg *config.Config, logger *slog.Logger, logLevel *slog.LevelVar) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ldpeSideA, ldeSideA := net.Pipe()
	ldpeSideB, parentSideB := net.Pipe()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return RunLDE(gCtx, cfg, []*bus.Conn{bus.NewConn(ldeSideA)}, logger.With(slog.String("role", "lde")))
	})
	g.Go(func() error {
		return RunLDPE(gCtx, cfg, []*bus.Conn{bus.NewConn(ldpeSideA), bus.NewConn(ldpeSideB)}, logger.With(slog.String("role", "ldpe")))
	})
	g.Go(func() error {
		return RunParent(gCtx, cfg, []*bus.Conn{bus.NewConn(parentSideB)}, logger.With(slog.String("role", "parent")), "", logLevel)
	})

	if err := g.Wait(); err != nil && gCtx.Err() == nil {
		logger.Error("dev-inprocess exited with error", slog.String("error", err.Error()))
		return 1
	}
	return 0
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig) error {
	reg := prometheus.NewRegistry()
	ldpmetrics.NewCollector(reg)

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}
}
