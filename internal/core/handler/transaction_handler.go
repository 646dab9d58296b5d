package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/shopspring/decimal"
)

type RefundRequest struct {
	Reason string           `json:"reason" validate:"required,max=512"`
	Amount *decimal.Decimal `json:"amount"`
}

type TransactionsResponse struct {
	Transactions []models.Transaction `json:"transactions"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
}

func (h *WalletHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "transaction_id")
	if err != nil {
		respondWithError(w, h.log, r, err)
		return
	}
	t, err := h.usecase.GetTransaction(r.Context(), id)
	if err != nil {
		respondWithError(w, h.log, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, t)
}

func (h *WalletHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "transaction_id")
	if err != nil {
		respondWithError(w, h.log, r, err)
		return
	}
	var req RefundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.log, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, h.log, r, err)
		return
	}

	result, err := h.usecase.Refund(r.Context(), models.RefundRequest{
		TransactionID: id,
		Reason:        req.Reason,
		Amount:        req.Amount,
	})
	if err != nil {
		respondWithError(w, h.log, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	walletID, err := pathUUID(r, "wallet_id")
	if err != nil {
		respondWithError(w, h.log, r, err)
		return
	}
	filter, err := parseTransactionFilter(r)
	if err != nil {
		respondWithError(w, h.log, r, err)
		return
	}

	txs, err := h.usecase.ListTransactions(r.Context(), walletID, filter)
	if err != nil {
		respondWithError(w, h.log, r, err)
		return
	}
	filter = filter.Normalize()
	respondWithJSON(w, http.StatusOK, TransactionsResponse{Transactions: txs, Limit: filter.Limit, Offset: filter.Offset})
}

// parseTransactionFilter reads type (repeatable or comma separated), status,
// from and to (RFC 3339), limit and offset.
func parseTransactionFilter(r *http.Request) (models.TransactionFilter, error) {
	q := r.URL.Query()
	var filter models.TransactionFilter

	for _, raw := range q["type"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			typ, err := models.ParseTransactionType(part)
			if err != nil {
				return filter, err
			}
			filter.Types = append(filter.Types, typ)
		}
	}
	if raw := q.Get("status"); raw != "" {
		status, err := models.ParseTransactionStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}
	for name, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, invalidQuery(name, raw, err)
		}
		*dst = ts
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, models.ValidationError("invalid query parameter %s=%q", name, raw)
		}
		*dst = n
	}
	return filter, nil
}
