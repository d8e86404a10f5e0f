package httpapi

import (
	"encoding/json"
	"net/http"

	"llamabridge/internal/bridge"
	"llamabridge/pkg/types"
)

// statusForKind maps a bridge error kind to an HTTP status code.
func statusForKind(k bridge.Kind) int {
	switch k {
	case bridge.KindFileNotFound, bridge.KindInvalidHandle:
		return http.StatusNotFound
	case bridge.KindNotInitialized, bridge.KindNoModel, bridge.KindClosed:
		return http.StatusConflict
	case bridge.KindMalformedModel:
		return http.StatusUnprocessableEntity
	case bridge.KindOutOfMemory:
		return http.StatusInsufficientStorage
	case bridge.KindTooBusy:
		return http.StatusTooManyRequests
	case bridge.KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	case bridge.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeBridgeError writes err with the status derived from its kind and
// returns that status.
func writeBridgeError(w http.ResponseWriter, err error) int {
	k := bridge.KindOf(err)
	status := statusForKind(k)
	if k == bridge.KindTooBusy {
		IncrementBackpressure("queue")
	}
	writeJSONError(w, status, k.String(), err.Error())
	return status
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Kind: kind, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger().Error().Err(err).Msg("encode response")
	}
}
