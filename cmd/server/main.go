// tileworld-server runs the persistent world. The default command is the
// supervisor: it spawns a worker child (this same binary with the hidden
// worker subcommand), serves SSH and WebSocket clients, and can replace
// the worker live without dropping connections. SIGHUP or POST /reload
// triggers the handoff.
//
// Build:
//
//	go build -o tileworld-server ./cmd/server
//
// Usage:
//
//	./tileworld-server [--config tileworld.yaml]
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tileworld/internal/config"
	"tileworld/internal/metrics"
	"tileworld/internal/supervisor"
	"tileworld/internal/transport"
	"tileworld/internal/worker"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:          "tileworld-server",
		Short:        "Persistent multiplayer tile world over SSH and WebSocket",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervisor(cfgPath)
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")

	workerCmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run the worker runtime (spawned by the supervisor)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cfgPath)
		},
	}
	root.AddCommand(workerCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSupervisor(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	m := metrics.NewCollector()
	sup := supervisor.New(supervisor.Config{
		WorldSeed:       cfg.WorldSeed,
		TickRate:        cfg.TickRate,
		ChunkCacheSize:  cfg.ChunkCacheSize,
		RequestTimeout:  cfg.RequestTimeout.Std(),
		SnapshotTimeout: cfg.SnapshotTimeout.Std(),
		StartupTimeout:  cfg.StartupTimeout.Std(),
		RestartBackoff:  cfg.RestartBackoff.Std(),
		SettleDelay:     cfg.SettleDelay.Std(),
		HighWaterBytes:  cfg.HighWaterBytes,
	}, supervisor.ExecSpawner(workerArgs(cfgPath)...), logger.Named("supervisor"), m)

	if err := sup.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer sup.Stop()

	errCh := make(chan error, 3)

	sshSrv, err := transport.NewSSHServer(sup, logger.Named("ssh"), m,
		cfg.SSHAddr, cfg.HostKeyPath, cfg.MaxQueuedBytes)
	if err != nil {
		return err
	}
	go func() { errCh <- sshSrv.ListenAndServe() }()

	wsSrv := transport.NewWSServer(sup, logger.Named("ws"), m, cfg.MaxQueuedBytes)
	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", wsSrv)
	go func() {
		logger.Info("websocket server listening", zap.String("addr", cfg.WSAddr))
		errCh <- http.ListenAndServe(cfg.WSAddr, wsMux)
	}()

	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", m.Handler())
	adminMux.HandleFunc("/reload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if err := sup.Reload(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		fmt.Fprintln(w, "reloaded")
	})
	go func() {
		logger.Info("admin server listening", zap.String("addr", cfg.MetricsAddr))
		errCh <- http.ListenAndServe(cfg.MetricsAddr, adminMux)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("reload requested", zap.String("signal", sig.String()))
				go func() {
					if err := sup.Reload(); err != nil {
						logger.Error("reload failed", zap.Error(err))
					}
				}()
				continue
			}
			logger.Info("shutting down", zap.String("signal", sig.String()))
			return nil
		}
	}
}

// workerArgs forwards the config path to spawned workers so they share
// the supervisor's log level.
func workerArgs(cfgPath string) []string {
	if cfgPath == "" {
		return nil
	}
	return []string{"--config", cfgPath}
}

// runWorker is the child side: stdin/stdout carry the supervisor
// protocol, so logs must go to stderr and nowhere else.
func runWorker(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	rt := worker.New(stdio{}, worker.Options{
		Logger:   logger.Named("worker"),
		NPCCount: cfg.NPCCount,
	})
	return rt.Run()
}

// newLogger builds a production zap logger on stderr. Stderr always: in
// the worker, stdout belongs to the IPC pipe.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("bad log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// stdio is the worker's end of the supervisor pipe.
type stdio struct{}

func (stdio) Read(b []byte) (int, error)  { return os.Stdin.Read(b) }
func (stdio) Write(b []byte) (int, error) { return os.Stdout.Write(b) }

func (stdio) Close() error {
	_ = os.Stdin.Close()
	return os.Stdout.Close()
}
