// Package main is the entry point for the bmc node. It loads the ledger from
// its SQLite store, serves it to Tendermint as an ABCI application and runs
// the HTTP API and dashboard.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"coffee.mini/bmc/internal/abci"
	"coffee.mini/bmc/internal/config"
	"coffee.mini/bmc/internal/identity"
	"coffee.mini/bmc/internal/logger"
	"coffee.mini/bmc/internal/store"
	"coffee.mini/bmc/internal/tendermint"
	"coffee.mini/bmc/internal/types"
	"coffee.mini/bmc/internal/web"
)

func main() {
	cfg, err := config.LoadConfig(config.Path())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	feed := logger.NewFeed(200)
	zl, err := logger.NewZap(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Tee(zl, feed)
	defer log.Sync()

	if err := run(cfg, log, feed); err != nil {
		log.Fatal("bmc exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger, feed *logger.Feed) error {
	log.Info("bmc starting", zap.String("version", types.Version), zap.String("build", types.BuildTime))

	id, err := identity.LoadOrCreateIdentity(cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("load node key: %w", err)
	}
	log.Info("node identity loaded", zap.String("address", id.Address().Hex()), zap.String("key_file", cfg.KeyFile))

	st, err := store.NewStore(cfg.DBFile)
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer st.Close()
	log.Info("ledger store opened", zap.String("path", st.Path()))

	app, err := abci.NewApplication(abci.Options{
		Store:   st,
		Logger:  log,
		Feed:    feed,
		Genesis: cfg.Genesis,
	})
	if err != nil {
		return err
	}

	abciServer, err := tendermint.NewABCIServer(app, &tendermint.Config{
		TendermintHome: cfg.TendermintHome,
		SocketAddress:  cfg.ABCISocket,
	}, log)
	if err != nil {
		return err
	}
	if err := abciServer.Start(); err != nil {
		return err
	}
	defer abciServer.Stop()

	var node *exec.Cmd
	if cfg.RunTendermint {
		if err := tendermint.InitTendermint(cfg.TendermintHome); err != nil {
			return err
		}
		node = tendermint.NodeCommand(cfg.TendermintHome, cfg.ABCISocket)
		if err := node.Start(); err != nil {
			return fmt.Errorf("start tendermint: %w", err)
		}
		log.Info("tendermint node started", zap.Int("pid", node.Process.Pid))
		defer stopProcess(node, log)
	}

	if err := ensurePortAvailable(cfg.Port); err != nil {
		return fmt.Errorf("port %d unavailable: %w", cfg.Port, err)
	}

	server, err := web.NewServer(web.Options{
		Ledger:     app,
		Store:      st,
		Chain:      tendermint.NewRPCClient(cfg.TendermintRPC),
		Feed:       feed,
		Logger:     log,
		DocsDir:    cfg.DocsDir,
		Port:       cfg.Port,
		MaxBackups: cfg.MaxBackups,
	})
	if err != nil {
		return fmt.Errorf("initialize web server: %w", err)
	}
	serverErrors := server.Start()
	log.Info("web dashboard available", zap.String("url", fmt.Sprintf("http://localhost:%d", cfg.Port)))

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErrors:
		return fmt.Errorf("web server exited: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("web server shutdown", zap.Error(err))
	}
	return nil
}

// stopProcess asks the Tendermint child to exit and waits up to ten seconds
// before killing it.
func stopProcess(cmd *exec.Cmd, log *zap.Logger) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			log.Info("tendermint node exited", zap.Error(err))
		}
	case <-time.After(10 * time.Second):
		log.Warn("tendermint node did not stop, killing it")
		_ = cmd.Process.Kill()
	}
}

func ensurePortAvailable(port int) error {
	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return listener.Close()
}
