package api

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"coffee.mini/bmc/internal/ledger"
	"coffee.mini/bmc/internal/types"
)

// LedgerView is the full ledger read model served by the API.
type LedgerView struct {
	ledger.Snapshot
	Initialized    bool   `json:"initialized"`
	Height         int64  `json:"height"`
	MinimumPayment string `json:"minimum_payment"`
}

// NewLedgerView reads the ledger at its last committed height.
func NewLedgerView(r LedgerReader) LedgerView {
	state := r.State()
	return LedgerView{
		Snapshot:       state.Snapshot(),
		Initialized:    state.Initialized(),
		Height:         r.Height(),
		MinimumPayment: ledger.FormatAmount(ledger.MinimumPayment),
	}
}

// @Title: Get Ledger
// @Route: GET /api/ledger
// @Description: Returns owner, payment count, value received and balance at the last committed height
// @Response: {"owner": "0x...", "total_payment_count": "3", "total_value_received": "4500000000000000", "balance": "4500000000000000", "initialized": true, "height": 12, "minimum_payment": "1000000000000000"}
func (s *Service) HandleLedger(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewLedgerView(s.ledger))
}

// @Title: Get Owner
// @Route: GET /api/ledger/owner
// @Description: Returns the ledger owner (also served as /api/owner)
// @Response: {"owner": "0x..."}
func (s *Service) HandleOwner(w http.ResponseWriter, r *http.Request) {
	state := s.ledger.State()
	if !state.Initialized() {
		s.writeError(w, http.StatusConflict, "ledger not initialized")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"owner": state.Owner().Hex()})
}

// @Title: Get Total Payment Count
// @Route: GET /api/ledger/total_payment_count
// @Description: Returns the number of accepted payments (also served as /api/totalCoffees)
// @Response: {"total_payment_count": "3"}
func (s *Service) HandleTotalPaymentCount(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"total_payment_count": ledger.FormatAmount(s.ledger.State().TotalPaymentCount()),
	})
}

// @Title: Get Total Value Received
// @Route: GET /api/ledger/total_value_received
// @Description: Returns the sum of accepted payments in minimal units (also served as /api/totalDonations)
// @Response: {"total_value_received": "4500000000000000"}
func (s *Service) HandleTotalValueReceived(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"total_value_received": ledger.FormatAmount(s.ledger.State().TotalValueReceived()),
	})
}

// @Title: Get Balance
// @Route: GET /api/ledger/balance
// @Description: Returns the withdrawable balance, equal to the value received (also served as /api/getBalance)
// @Response: {"balance": "4500000000000000", "balance_native": "0.0045"}
func (s *Service) HandleBalance(w http.ResponseWriter, r *http.Request) {
	balance := s.ledger.State().Balance()
	s.writeJSON(w, http.StatusOK, map[string]string{
		"balance":        ledger.FormatAmount(balance),
		"balance_native": ledger.FormatNative(balance),
	})
}

// @Title: Get Account
// @Route: GET /api/accounts/{address}
// @Description: Returns the bank balance of an account
// @Response: {"address": "0x...", "balance": "..."}
func (s *Service) HandleAccount(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("address")
	if addr == "" {
		addr = r.URL.Query().Get("address")
	}
	if !common.IsHexAddress(addr) {
		s.writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	a := common.HexToAddress(addr)
	s.writeJSON(w, http.StatusOK, types.AccountInfo{
		Address: a.Hex(),
		Balance: ledger.FormatAmount(s.ledger.AccountBalance(a)),
	})
}
