package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	nativecommon "lendmarket/native/common"
	"lendmarket/native/lending"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   uint32
	}{
		{"validation", lending.ErrZeroAmount, http.StatusBadRequest, 101},
		{"authorization", lending.ErrNotGovernance, http.StatusForbidden, 50000},
		{"risk", lending.ErrMaxLTV, http.StatusConflict, 20002},
		{"oracle", lending.ErrStalePrice, http.StatusServiceUnavailable, 80002},
		{"not found", lending.ErrUnstakeNotFound, http.StatusNotFound, 60003},
		{"internal", lending.ErrInterestNotInitialized, http.StatusInternalServerError, 70002},
		{"wrapped", fmt.Errorf("borrow: %w", lending.ErrDebtCapExceeded), http.StatusConflict, 120003},
		{"bad request", badRequest("nope"), http.StatusBadRequest, 0},
		{"paused", nativecommon.ErrModulePaused, http.StatusServiceUnavailable, 0},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code := statusFor(tc.err)
			require.Equal(t, tc.status, status)
			require.Equal(t, tc.code, code)
		})
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}
	writeError(sw, errors.New("leveldb: corrupted block"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "internal error", body.Error)

	rec = httptest.NewRecorder()
	sw = &statusWriter{ResponseWriter: rec}
	writeError(sw, lending.ErrSlippage)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.EqualValues(t, 30007, sw.code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, lending.ErrSlippage.Message(), body.Error)
}
