package common_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pricing-service/internal/common"
)

func TestWriteErrorAppError(t *testing.T) {
	rr := httptest.NewRecorder()
	common.WriteError(rr, common.ValidationError("Validation failed", []string{"Product at index 0 missing quantity"}))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "error", body["status"])
	require.Equal(t, "Validation failed", body["message"])
	require.Len(t, body["errors"], 1)
}

func TestWriteErrorPlainErrorBecomesInternal(t *testing.T) {
	rr := httptest.NewRecorder()
	common.WriteError(rr, errors.New("boom"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "boom", body["message"])
	require.NotContains(t, body, "errors")
}

func TestAsAppErrorUnwraps(t *testing.T) {
	inner := common.NewAppError(common.CodeNotFound, "missing", http.StatusNotFound, nil)
	wrapped := errors.Join(errors.New("ctx"), inner)
	got := common.AsAppError(wrapped)
	require.Same(t, inner, got)
	require.True(t, common.IsAppError(wrapped))
	require.Nil(t, common.AsAppError(nil))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	require.Equal(t, "10.0.0.7", common.ClientIP(req))

	req.RemoteAddr = "10.0.0.8"
	require.Equal(t, "10.0.0.8", common.ClientIP(req))
	require.Equal(t, "", common.ClientIP(nil))
}
