package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffee.mini/bmc/internal/types"
)

func TestHandleHealth(t *testing.T) {
	svc, _, _, _ := setupTest(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()

	svc.HandleHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
}

func TestHandleVersion(t *testing.T) {
	svc, _, _, _ := setupTest(t)

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	w := httptest.NewRecorder()

	svc.HandleVersion(w, req)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&body))
	assert.Equal(t, types.Version, body["version"])
	assert.Equal(t, "12", body["height"])
}
