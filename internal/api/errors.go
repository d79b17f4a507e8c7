package api

import (
	"encoding/json"
	"net/http"

	"github.com/ocx/gateway/internal/ocxerr"
)

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps an ocxerr.Kind to the HTTP status agents should
// see, the single point where domain errors become response codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch ocxerr.KindOf(err) {
	case ocxerr.KindNotFound:
		writeJSONError(w, http.StatusNotFound, err.Error())
	case ocxerr.KindDisabled, ocxerr.KindNotAllowed:
		writeJSONError(w, http.StatusForbidden, err.Error())
	case ocxerr.KindAlreadyExists:
		writeJSONError(w, http.StatusConflict, err.Error())
	case ocxerr.KindAuthentication:
		writeJSONError(w, http.StatusUnauthorized, err.Error())
	case ocxerr.KindSignatureInvalid:
		writeJSONError(w, http.StatusUnauthorized, err.Error())
	case ocxerr.KindValidation:
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case ocxerr.KindOAuth2, ocxerr.KindOAuth1:
		writeJSONError(w, http.StatusBadGateway, err.Error())
	case ocxerr.KindRateLimited:
		writeJSONError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}
