package server

import (
	"encoding/json"
	"net/http"

	"github.com/quantgate/signalgate/internal/admin"
	"github.com/quantgate/signalgate/internal/faults"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFaultOrError maps a pipeline/admin/repo error to the status codes
// named in the external-interfaces surface and writes the response. It
// returns true if it wrote a response (err != nil).
func writeFaultOrError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	if f, ok := faults.As(err); ok {
		switch f.Kind {
		case faults.KindInputInvalid:
			writeError(w, http.StatusBadRequest, f.Message)
		case faults.KindIdempotencyKeyInvalid:
			writeError(w, http.StatusConflict, f.Message)
		case faults.KindNotFound:
			writeError(w, http.StatusNotFound, f.Message)
		case faults.KindTenantForbidden:
			writeError(w, http.StatusForbidden, f.Message)
		case faults.KindPoolFull, faults.KindBrokerRefused, faults.KindInternal:
			writeError(w, http.StatusServiceUnavailable, f.Message)
		default:
			writeError(w, http.StatusInternalServerError, f.Message)
		}
		return true
	}
	var forbidden *admin.Forbidden
	if ok := asForbidden(err, &forbidden); ok {
		writeError(w, http.StatusForbidden, forbidden.Error())
		return true
	}
	writeError(w, http.StatusInternalServerError, err.Error())
	return true
}

func asForbidden(err error, target **admin.Forbidden) bool {
	f, ok := err.(*admin.Forbidden)
	if ok {
		*target = f
	}
	return ok
}
