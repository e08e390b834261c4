package api

import (
	"encoding/json"
	"errors"
	"net/http"

	errorsmod "cosmossdk.io/errors"

	"github.com/michaelpento.lv/pricelab/types"
)

// ErrorResponse is the body of every failed request. Codespace and Code
// identify registered errors; Kind names them.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Codespace string `json:"codespace,omitempty"`
	Code      uint32 `json:"code,omitempty"`
}

func errorBody(err error) ErrorResponse {
	codespace, code, _ := errorsmod.ABCIInfo(err, false)
	body := ErrorResponse{Error: err.Error(), Kind: types.Kind(err)}
	if codespace == types.Codespace {
		body.Codespace, body.Code = codespace, code
	}
	return body
}

// statusOf maps an error kind onto an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidAmount), errors.Is(err, types.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, types.ErrRateLimited):
		return http.StatusTooManyRequests
	case types.Kind(err) != "internal":
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), errorBody(err))
}
