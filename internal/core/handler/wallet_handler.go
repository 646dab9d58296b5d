package handler

import (
	"net/http"

	"github.com/Nzyazin/ledger/internal/core/logger"
	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/Nzyazin/ledger/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type WalletHandler struct {
	usecase  usecase.WalletUsecase
	log      logger.Logger
	validate *requestValidator
}

type CreateWalletRequest struct {
	UserID         string          `json:"user_id" validate:"required,max=128"`
	WalletType     string          `json:"wallet_type" validate:"required,oneof=fiat crypto hybrid"`
	Currency       string          `json:"currency" validate:"required,max=12"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

// OperationRequest is the body of deposit, withdraw and consume. Which of
// source, destination and service applies depends on the route.
type OperationRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference" validate:"max=128"`
	Description string          `json:"description" validate:"max=512"`
	Source      string          `json:"source" validate:"max=512"`
	Destination string          `json:"destination" validate:"max=512"`
	Service     string          `json:"service" validate:"max=512"`
	Reason      string          `json:"reason" validate:"max=512"`
}

type TransferRequest struct {
	ToWalletID  string          `json:"to_wallet_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	Reference   string          `json:"reference" validate:"max=128"`
	Description string          `json:"description" validate:"max=512"`
}

type WalletResponse struct {
	models.Wallet
	AvailableBalance decimal.Decimal `json:"available_balance"`
}

type WalletsResponse struct {
	Wallets []WalletResponse `json:"wallets"`
}

type TransferResponse struct {
	Transactions []models.Transaction `json:"transactions"`
	Replayed     bool                 `json:"replayed"`
}

func NewWalletHandler(usecase usecase.WalletUsecase, log logger.Logger) *WalletHandler {
	return &WalletHandler{usecase: usecase, log: log, validate: newRequestValidator()}
}

func (h *WalletHandler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/wallets", h.CreateWallet).Methods(http.MethodPost)
	api.HandleFunc("/wallets/{wallet_id}", h.GetWallet).Methods(http.MethodGet)
	api.HandleFunc("/users/{user_id}/wallets", h.ListWallets).Methods(http.MethodGet)
	api.HandleFunc("/wallets/{wallet_id}/deposit", h.operation(models.TransactionDeposit)).Methods(http.MethodPost)
	api.HandleFunc("/wallets/{wallet_id}/withdraw", h.operation(models.TransactionWithdraw)).Methods(http.MethodPost)
	api.HandleFunc("/wallets/{wallet_id}/consume", h.operation(models.TransactionConsume)).Methods(http.MethodPost)
	api.HandleFunc("/wallets/{wallet_id}/transfer", h.Transfer).Methods(http.MethodPost)
	api.HandleFunc("/wallets/{wallet_id}/transactions", h.ListTransactions).Methods(http.MethodGet)
	api.HandleFunc("/wallets/{wallet_id}/audit", h.Audit).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{transaction_id}", h.GetTransaction).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{transaction_id}/refund", h.Refund).Methods(http.MethodPost)
}

func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.log, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, h.log, r, err)
		return
	}

	wallet, err := h.usecase.CreateWallet(r.Context(), models.CreateWalletRequest{
		UserID:         req.UserID,
		Currency:       req.Currency,
		Type:           models.WalletType(req.WalletType),
		InitialBalance: req.InitialBalance,
	})
	if err != nil {
		respondWithError(w, h.log, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, walletResponse(wallet))
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "wallet_id")
	if err != nil {
		respondWithError(w, h.log, r, err)
		return
	}
	wallet, err := h.usecase.GetWallet(r.Context(), id)
	if err != nil {
		respondWithError(w, h.log, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, walletResponse(wallet))
}

func (h *WalletHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := h.usecase.ListWallets(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		respondWithError(w, h.log, r, err)
		return
	}
	resp := WalletsResponse{Wallets: make([]WalletResponse, 0, len(wallets))}
	for i := range wallets {
		resp.Wallets = append(resp.Wallets, walletResponse(&wallets[i]))
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *WalletHandler) operation(typ models.TransactionType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID, err := pathUUID(r, "wallet_id")
		if err != nil {
			respondWithError(w, h.log, r, err)
			return
		}
		var req OperationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondWithError(w, h.log, r, err)
			return
		}
		if err := h.validate.Struct(req); err != nil {
			respondWithError(w, h.log, r, err)
			return
		}

		op := models.OperationRequest{
			WalletID:    walletID,
			Amount:      req.Amount,
			Reference:   referenceOf(r, req.Reference),
			Description: req.Description,
		}

		var result *models.OperationResult
		switch typ {
		case models.TransactionDeposit:
			op.Counterparty = req.Source
			result, err = h.usecase.Deposit(r.Context(), op)
		case models.TransactionWithdraw:
			op.Counterparty = req.Destination
			result, err = h.usecase.Withdraw(r.Context(), op)
		case models.TransactionConsume:
			op.Counterparty = req.Service
			if req.Reason != "" {
				op.Description = req.Reason
			}
			result, err = h.usecase.Consume(r.Context(), op)
		}
		if err != nil {
			respondWithError(w, h.log, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, result)
	}
}

func (h *WalletHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	fromID, err := pathUUID(r, "wallet_id")
	if err != nil {
		respondWithError(w, h.log, r, err)
		return
	}
	var req TransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.log, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, h.log, r, err)
		return
	}

	toID, err := uuid.Parse(req.ToWalletID)
	if err != nil {
		respondWithError(w, h.log, r, models.ValidationError("invalid to_wallet_id %q", req.ToWalletID))
		return
	}

	result, err := h.usecase.Transfer(r.Context(), models.TransferRequest{
		FromWalletID: fromID,
		ToWalletID:   toID,
		Amount:       req.Amount,
		Fee:          req.Fee,
		Reference:    referenceOf(r, req.Reference),
		Description:  req.Description,
	})
	if err != nil {
		respondWithError(w, h.log, r, err)
		return
	}

	resp := TransferResponse{Transactions: []models.Transaction{result.Out, result.In}, Replayed: result.Replayed}
	if result.FeeCredit != nil {
		resp.Transactions = append(resp.Transactions, *result.FeeCredit)
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *WalletHandler) Audit(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "wallet_id")
	if err != nil {
		respondWithError(w, h.log, r, err)
		return
	}
	audit, err := h.usecase.Audit(r.Context(), id)
	if err != nil {
		respondWithError(w, h.log, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, audit)
}

func walletResponse(w *models.Wallet) WalletResponse {
	return WalletResponse{Wallet: *w, AvailableBalance: w.AvailableBalance()}
}
