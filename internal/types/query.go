package types

// ABCI query paths served by the ledger application.
const (
	QueryOwner              = "/owner"
	QueryTotalPaymentCount  = "/total_payment_count"
	QueryTotalValueReceived = "/total_value_received"
	QueryBalance            = "/balance"
	QueryState              = "/state"
	QueryAccountPrefix      = "/account/"
)

// AccountInfo is the answer to an account query.
type AccountInfo struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}
