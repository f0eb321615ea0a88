package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/kamikazebr/ovpn-sync/internal/server/openvpn"
	"github.com/kamikazebr/ovpn-sync/internal/server/services"
	"github.com/kamikazebr/ovpn-sync/pkg/models"
)

func writeJSON(w http.ResponseWriter, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(data)
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, data)
}

func respondErrorJSON(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, models.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}

// decodeJSON decodes the request body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// respondServiceError maps service and gateway errors to status codes.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case services.IsValidationError(err):
		respondErrorJSON(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrSelfRemoval):
		respondErrorJSON(w, http.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrSyncInProgress):
		respondErrorJSON(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrUserNotFound):
		respondErrorJSON(w, http.StatusNotFound, err.Error())
	case openvpn.IsGatewayError(err):
		respondErrorJSON(w, http.StatusBadGateway, err.Error())
	default:
		respondErrorJSON(w, http.StatusInternalServerError, err.Error())
	}
}
