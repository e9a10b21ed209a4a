// Package api implements the JSON HTTP API of a bmc node: ledger reads,
// account balances, transaction submission and database backups. Every
// handler carries @Title/@Route/@Description/@Response annotations that
// cmd/docgen turns into the API reference.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"coffee.mini/bmc/internal/ledger"
	"coffee.mini/bmc/internal/logger"
	"coffee.mini/bmc/internal/store"
	"coffee.mini/bmc/internal/tendermint"
	"coffee.mini/bmc/internal/types"
)

// LedgerReader is the read side of the ledger application.
type LedgerReader interface {
	State() *ledger.State
	AccountBalance(addr common.Address) *uint256.Int
	Height() int64
}

// Broadcaster submits signed transactions to the chain.
type Broadcaster interface {
	BroadcastSignedTransaction(ctx context.Context, stx *types.SignedTransaction, commit bool) (*tendermint.TxResult, error)
}

// BackupStore manages database backups.
type BackupStore interface {
	ListBackups() ([]store.Backup, error)
	BackupCurrent(maxBackups int) (string, error)
	ExportSnapshot() ([]byte, error)
}

// Service handles API requests
type Service struct {
	ledger     LedgerReader
	chain      Broadcaster
	backups    BackupStore
	feed       *logger.Feed
	log        *zap.Logger
	maxBackups int
}

// NewService creates a new API service. log may be nil.
func NewService(ledger LedgerReader, chain Broadcaster, backups BackupStore, feed *logger.Feed, log *zap.Logger, maxBackups int) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		ledger:     ledger,
		chain:      chain,
		backups:    backups,
		feed:       feed,
		log:        log.Named("api"),
		maxBackups: maxBackups,
	}
}

// writeJSON writes a JSON response
func (s *Service) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
