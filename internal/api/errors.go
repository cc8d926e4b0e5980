package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/mqtt-gateway/internal/gateway"
	"github.com/nerrad567/mqtt-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-gateway/internal/node"
	"github.com/nerrad567/mqtt-gateway/internal/nodes"
)

var (
	errBody      = errors.New("body must be a JSON device list")
	errNoDevices = errors.New(`body has no "devices" list`)
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnavailable  = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="mqttgateway"`)
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps a gateway or node error to a response.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, nodes.ErrNodeNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, node.ErrUnsupportedCommand):
		writeBadRequest(w, err.Error())
	case errors.Is(err, node.ErrInvalidParameter):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	case errors.Is(err, gateway.ErrNoDeviceSource):
		writeError(w, http.StatusConflict, ErrCodeUnavailable, err.Error())
	case errors.Is(err, mqtt.ErrNotConnected), errors.Is(err, gateway.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
