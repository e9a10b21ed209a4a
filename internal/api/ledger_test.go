package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffee.mini/bmc/internal/ledger"
	"coffee.mini/bmc/internal/types"
)

func getJSON(t *testing.T, h http.HandlerFunc, req *http.Request, out interface{}) int {
	t.Helper()
	w := httptest.NewRecorder()
	h(w, req)
	resp := w.Result()
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHandleLedger(t *testing.T) {
	svc, _, _, _ := setupTest(t)

	var view LedgerView
	code := getJSON(t, svc.HandleLedger, httptest.NewRequest(http.MethodGet, "/api/ledger", nil), &view)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, testOwner.Hex(), view.Owner)
	assert.Equal(t, "3", view.TotalPaymentCount)
	assert.Equal(t, "4500000000000000", view.TotalValueReceived)
	assert.Equal(t, "4500000000000000", view.Balance)
	assert.True(t, view.Initialized)
	assert.Equal(t, int64(12), view.Height)
	assert.Equal(t, "1000000000000000", view.MinimumPayment)
}

func TestAccessorHandlers(t *testing.T) {
	svc, _, _, _ := setupTest(t)

	cases := []struct {
		handler http.HandlerFunc
		key     string
		want    string
	}{
		{svc.HandleOwner, "owner", testOwner.Hex()},
		{svc.HandleTotalPaymentCount, "total_payment_count", "3"},
		{svc.HandleTotalValueReceived, "total_value_received", "4500000000000000"},
		{svc.HandleBalance, "balance", "4500000000000000"},
		{svc.HandleBalance, "balance_native", "0.0045"},
	}
	for _, tc := range cases {
		var body map[string]string
		code := getJSON(t, tc.handler, httptest.NewRequest(http.MethodGet, "/", nil), &body)
		assert.Equal(t, http.StatusOK, code, tc.key)
		assert.Equal(t, tc.want, body[tc.key], tc.key)
	}
}

func TestHandleOwnerUninitialized(t *testing.T) {
	svc, led, _, _ := setupTest(t)
	led.state = ledger.NewState()

	var body map[string]string
	code := getJSON(t, svc.HandleOwner, httptest.NewRequest(http.MethodGet, "/api/owner", nil), &body)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ledger not initialized", body["error"])
}

func TestHandleAccount(t *testing.T) {
	svc, _, _, _ := setupTest(t)

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/"+testPayer.Hex(), nil)
	req.SetPathValue("address", testPayer.Hex())
	var info types.AccountInfo
	code := getJSON(t, svc.HandleAccount, req, &info)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "7000000000000000", info.Balance)

	req = httptest.NewRequest(http.MethodGet, "/api/accounts?address="+testOwner.Hex(), nil)
	code = getJSON(t, svc.HandleAccount, req, &info)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0", info.Balance)

	var body map[string]string
	req = httptest.NewRequest(http.MethodGet, "/api/accounts/nope", nil)
	req.SetPathValue("address", "nope")
	code = getJSON(t, svc.HandleAccount, req, &body)
	assert.Equal(t, http.StatusBadRequest, code)
}
