// Package tendermint connects the ledger application to a Tendermint node.
//
// bmc runs an ABCI server on a socket and Tendermint runs as a separate
// process that connects to it. Clients reach the chain through the
// Tendermint JSON-RPC endpoint (see RPCClient).
package tendermint

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	abciserver "github.com/tendermint/tendermint/abci/server"
	abci "github.com/tendermint/tendermint/abci/types"
	"github.com/tendermint/tendermint/libs/service"
	"go.uber.org/zap"
)

// Config holds configuration for the ABCI server and Tendermint connection.
type Config struct {
	// TendermintHome is the directory for Tendermint data and config
	TendermintHome string

	// SocketAddress is the ABCI listen address (e.g. "unix://bmc.sock" or
	// "tcp://127.0.0.1:26658")
	SocketAddress string
}

// ABCIServer wraps an ABCI socket server.
type ABCIServer struct {
	server service.Service
	socket string
	log    *zap.Logger
}

// NewABCIServer creates a socket-based ABCI server. Call Start to listen.
func NewABCIServer(app abci.Application, config *Config, log *zap.Logger) (*ABCIServer, error) {
	if app == nil {
		return nil, errors.New("ABCI application cannot be nil")
	}
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if config.SocketAddress == "" {
		return nil, errors.New("socket address cannot be empty")
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &ABCIServer{
		server: abciserver.NewSocketServer(config.SocketAddress, app),
		socket: config.SocketAddress,
		log:    log.Named("abci-server"),
	}, nil
}

// Start begins listening for Tendermint connections. A stale unix socket
// left by an unclean shutdown is removed first.
func (s *ABCIServer) Start() error {
	if path, ok := unixSocketPath(s.socket); ok {
		if _, err := os.Stat(path); err == nil {
			s.log.Warn("removing stale socket", zap.String("path", path))
			os.Remove(path)
		}
	}
	if err := s.server.Start(); err != nil {
		return errors.Wrap(err, "failed to start ABCI server")
	}
	s.log.Info("listening", zap.String("addr", s.socket))
	return nil
}

// Stop shuts down the server and cleans up the socket file.
func (s *ABCIServer) Stop() error {
	if s.server.IsRunning() {
		if err := s.server.Stop(); err != nil {
			return errors.Wrap(err, "failed to stop ABCI server")
		}
	}

	if path, ok := unixSocketPath(s.socket); ok {
		if _, err := os.Stat(path); err == nil {
			os.Remove(path)
		}
	}
	return nil
}

// IsRunning returns true if the ABCI server is currently running.
func (s *ABCIServer) IsRunning() bool {
	return s.server.IsRunning()
}

// SocketPath returns the socket address the server is listening on.
func (s *ABCIServer) SocketPath() string {
	return s.socket
}

func unixSocketPath(addr string) (string, bool) {
	if strings.HasPrefix(addr, "unix://") {
		return strings.TrimPrefix(addr, "unix://"), true
	}
	return "", false
}
