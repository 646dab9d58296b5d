package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Nzyazin/ledger/internal/core/logger"
	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error     string           `json:"error"`
	Code      string           `json:"code"`
	Retryable bool             `json:"retryable,omitempty"`
	Requested *decimal.Decimal `json:"requested_amount,omitempty"`
	Available *decimal.Decimal `json:"available_balance,omitempty"`
}

// errorStatus maps the ledger error taxonomy onto HTTP.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, models.ErrAlreadyRefunded):
		return http.StatusConflict, "already_refunded"
	case errors.Is(err, models.ErrDuplicateWallet):
		return http.StatusConflict, "duplicate_wallet"
	case errors.Is(err, models.ErrConcurrencyConflict):
		return http.StatusConflict, "concurrency_conflict"
	}
	return http.StatusInternalServerError, "internal_error"
}

func respondWithError(w http.ResponseWriter, log logger.Logger, r *http.Request, err error) {
	status, code := errorStatus(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}

	switch status {
	case http.StatusInternalServerError:
		log.Error("Request failed",
			logger.StringField("method", r.Method),
			logger.StringField("path", r.URL.Path),
			logger.ErrorField("error", err))
		resp.Error = "internal server error"
	case http.StatusConflict:
		resp.Retryable = errors.Is(err, models.ErrConcurrencyConflict)
	}

	var insufficient *models.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		resp.Requested = &insufficient.Requested
		resp.Available = &insufficient.Available
	}

	respondWithJSON(w, status, resp)
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal server error","code":"internal_error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return models.ValidationError("invalid request payload: %v", err)
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, models.ValidationError("invalid %s %q", name, raw)
	}
	return id, nil
}

// referenceOf prefers the body reference and falls back to the Idempotency-Key header.
func referenceOf(r *http.Request, body string) string {
	if body != "" {
		return body
	}
	return r.Header.Get("Idempotency-Key")
}

func invalidQuery(name, raw string, err error) error {
	return models.ValidationError("invalid query parameter %s=%q: %v", name, raw, err)
}
