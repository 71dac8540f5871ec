// Command docanalyzer is the single binary that runs as either the
// Master or a Worker, selected by -mode, the way the teacher's daemon
// commands are flag-driven single binaries (e.g. cmd/noisefs-webui).
// The Master re-execs this same binary with -mode=worker to spawn each
// Worker as a real OS process (SPEC_FULL.md §10.5).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/TheEntropyCollective/docanalyzer/internal/commandsurface"
	"github.com/TheEntropyCollective/docanalyzer/internal/config"
	"github.com/TheEntropyCollective/docanalyzer/internal/dbview"
	"github.com/TheEntropyCollective/docanalyzer/internal/facade"
	"github.com/TheEntropyCollective/docanalyzer/internal/ipc"
	"github.com/TheEntropyCollective/docanalyzer/internal/master"
	"github.com/TheEntropyCollective/docanalyzer/internal/model"
	"github.com/TheEntropyCollective/docanalyzer/internal/telemetry/logging"
	"github.com/TheEntropyCollective/docanalyzer/internal/worker"
)

func main() {
	mode := flag.String("mode", "master", "process role: master or worker")
	configPath := flag.String("config", "", "path to a JSON configuration file")
	dir := flag.String("dir", "", "directory to process (worker mode only)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}

	log := logging.New(logging.Config{Level: logging.ParseLevel(cfg.Logging.Level), Format: logFormat(cfg.Logging.Format)})

	switch *mode {
	case "master":
		runMaster(cfg, *configPath, log)
	case "worker":
		if *dir == "" {
			fmt.Fprintln(os.Stderr, "worker mode requires -dir")
			os.Exit(2)
		}
		os.Exit(runWorker(cfg, *dir, log))
	default:
		fmt.Fprintf(os.Stderr, "unknown -mode %q (want master or worker)\n", *mode)
		os.Exit(2)
	}
}

func logFormat(s string) logging.Format {
	if s == "json" {
		return logging.JSONFormat
	}
	return logging.TextFormat
}

// runMaster builds the long-running parent process: the upstream
// Facade, the IPC hub Workers dial into, the Master itself, the outward command surface, and the two
// background sweep loops, then blocks until SIGINT/SIGTERM triggers a
// graceful drain — grounded on pkg/fuse/mount.go's
// signal.Notify-then-select shutdown shape.
func runMaster(cfg *config.Config, configPath string, log *logging.Logger) {
	fac := facade.New(cfg.Upstream)

	var m *master.Master
	hub := ipc.NewHub(func(dir string, frame ipc.Frame) {
		m.HandleFrame(dir, frame)
	}, log)

	m = master.New(master.Deps{
		Config: cfg,
		Hub:    hub,
		Spawn:  master.DefaultSpawner(configPath),
		Facade: fac,
		Log:    log,
	})

	for _, d := range sortedCopy(cfg.Watch.Directories) {
		if err := m.StartWatching(d); err != nil {
			log.Errorf("start watching %s: %v", d, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.MonitorHeartbeats(ctx)
	go m.SweepOrphanLocks(ctx)

	ipcServer := &http.Server{Addr: cfg.IPC.ListenAddr, Handler: hub}
	go func() {
		if err := ipcServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("ipc server: %v", err)
		}
	}()

	surface := commandsurface.New(m, log)
	cmdServer := &http.Server{Addr: cfg.CommandSurface.ListenAddr, Handler: surface}
	go func() {
		if err := cmdServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("command surface: %v", err)
		}
	}()

	log.Infof("master listening: command surface %s, ipc %s", cfg.CommandSurface.ListenAddr, cfg.IPC.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received, draining")

	cancel()
	drainGrace := time.Duration(cfg.Fleet.DrainGraceSeconds) * time.Second
	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainGrace)
	defer drainCancel()
	m.Drain(drainCtx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = cmdServer.Shutdown(shutdownCtx)
	_ = ipcServer.Shutdown(shutdownCtx)
}

func sortedCopy(dirs []string) []string {
	out := make([]string, len(dirs))
	copy(out, dirs)
	sort.Strings(out)
	return out
}

// runWorker runs exactly one directory to completion and returns the
// OS exit code SPEC_FULL.md §6 assigns to the Worker's final state:
// 0 Exited, 1 LockDenied, 2 Failed, 3 Cancelled.
func runWorker(cfg *config.Config, dir string, log *logging.Logger) int {
	fac := facade.New(cfg.Upstream)

	var view *dbview.View
	if cfg.Database.DSN != "" {
		v, err := dbview.Open(context.Background(), cfg.Database.DSN, cfg.Database.MigrationsPath, fac, log)
		if err != nil {
			log.Errorf("database view unavailable, continuing without a mirror: %v", err)
		} else {
			view = v
			defer view.Close()
		}
	}

	var ipcClient *ipc.Client
	if cfg.IPC.ListenAddr != "" {
		c, err := ipc.Dial(cfg.IPC.ListenAddr, dir, log)
		if err != nil {
			log.Errorf("dial master ipc, continuing without supervision: %v", err)
		} else {
			ipcClient = c
			defer ipcClient.Close()
		}
	}

	w := worker.New(dir, cfg, fac, view, ipcClient, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	report := w.Run(ctx)
	log.Infof("worker for %s finished: %s (%d files)", dir, report.FinalState, len(report.Files))
	return exitCodeForState(report.FinalState)
}

func exitCodeForState(s model.WorkerState) int {
	switch s {
	case model.WorkerExited:
		return 0
	case model.WorkerLockDenied:
		return 1
	case model.WorkerCancelled:
		return 3
	default:
		return 2
	}
}
