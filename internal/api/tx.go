package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"coffee.mini/bmc/internal/tendermint"
	"coffee.mini/bmc/internal/types"
)

const maxTxBytes = 64 << 10

// @Title: Submit Transaction
// @Route: POST /api/tx?commit=true
// @Description: Broadcast a signed transaction; with commit=true wait for the block. Rejections carry the ABCI code and the ledger error kind and reason
// @Response: {"hash": "...", "height": 12} or {"error": "...", "code": 4, "log": "InvalidInput: message cannot be empty"}
func (s *Service) HandleSubmitTx(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.chain == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no chain connection")
		return
	}

	var stx types.SignedTransaction
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTxBytes)).Decode(&stx); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !stx.Verify() {
		s.writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}
	tx, err := stx.GetTransaction()
	if err != nil || !tx.Type.Valid() {
		s.writeError(w, http.StatusBadRequest, "invalid transaction")
		return
	}

	commit := r.URL.Query().Get("commit") == "true"
	res, err := s.chain.BroadcastSignedTransaction(r.Context(), &stx, commit)
	if err != nil {
		var txErr *tendermint.TxError
		if errors.As(err, &txErr) {
			s.log.Info("transaction rejected",
				zap.String("tx", tx.ID), zap.Uint32("code", txErr.Code), zap.String("reason", txErr.Log))
			s.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"error": txErr.Error(),
				"stage": txErr.Stage,
				"code":  txErr.Code,
				"log":   txErr.Log,
				"hash":  txErr.Hash,
			})
			return
		}
		s.log.Error("broadcast failed", zap.String("tx", tx.ID), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("broadcast failed: %v", err))
		return
	}

	s.feed.Info(fmt.Sprintf("API: submitted %s tx %s", tx.Type, res.Hash))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     tx.ID,
		"hash":   res.Hash,
		"height": res.Height,
	})
}
