package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cuemby/actyx/pkg/types"
)

// ErrorEnvelope is the JSON body written for every non-2xx response,
// the same { code, message } shape the CLI surfaces on exit.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError classifies err against the taxonomy in pkg/types/errors.go
// and writes the matching status code and ErrorEnvelope.
func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorEnvelope{Code: code, Message: err.Error()})
}

func classify(err error) (int, string) {
	var inputErr *types.InputError
	var authErr *types.AuthError
	var storageErr *types.StorageError
	var networkErr *types.NetworkError
	var timeoutErr *types.TimeoutError
	var consistencyErr *types.ConsistencyError
	var fatalErr *types.FatalError

	switch {
	case errors.As(err, &inputErr):
		return http.StatusBadRequest, "ERR_INVALID_INPUT"
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, "ERR_USER_UNAUTHENTICATED"
	case errors.As(err, &networkErr):
		return http.StatusServiceUnavailable, "ERR_NODE_UNREACHABLE"
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout, "ERR_INTERNAL_ERROR"
	case errors.As(err, &consistencyErr):
		return http.StatusConflict, "ERR_INTERNAL_ERROR"
	case errors.As(err, &storageErr):
		return http.StatusInternalServerError, "ERR_INTERNAL_ERROR"
	case errors.As(err, &fatalErr):
		return http.StatusInternalServerError, "ERR_INTERNAL_ERROR"
	case errors.Is(err, types.ErrBoundBelowHorizon):
		return http.StatusBadRequest, "ERR_INVALID_INPUT"
	default:
		return http.StatusBadRequest, "ERR_INVALID_INPUT"
	}
}
