package server

import (
	"encoding/json"
	"errors"
	"net/http"

	nativecommon "lendmarket/native/common"
	"lendmarket/native/lending"
)

type errorBody struct {
	Code  uint32 `json:"code"`
	Error string `json:"error"`
}

// statusFor maps an engine failure onto an HTTP status and its stable code.
func statusFor(err error) (int, uint32) {
	var lerr *lending.Error
	if errors.As(err, &lerr) {
		switch lerr.Category() {
		case lending.CategoryValidation:
			return http.StatusBadRequest, lerr.Code
		case lending.CategoryAuthorization:
			return http.StatusForbidden, lerr.Code
		case lending.CategoryRisk:
			return http.StatusConflict, lerr.Code
		case lending.CategoryOracle:
			return http.StatusServiceUnavailable, lerr.Code
		case lending.CategoryNotFound:
			return http.StatusNotFound, lerr.Code
		default:
			return http.StatusInternalServerError, lerr.Code
		}
	}
	var bad *badRequestError
	if errors.As(err, &bad) {
		return http.StatusBadRequest, 0
	}
	if errors.Is(err, nativecommon.ErrModulePaused) {
		return http.StatusServiceUnavailable, 0
	}
	return http.StatusInternalServerError, 0
}

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	var lerr *lending.Error
	if errors.As(err, &lerr) {
		msg = lerr.Message()
	}
	if status == http.StatusInternalServerError && lerr == nil {
		msg = "internal error"
	}
	if sw, ok := w.(*statusWriter); ok {
		sw.code = code
	}
	writeJSON(w, status, errorBody{Code: code, Error: msg})
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
