package usecase

import (
	"strings"

	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/shopspring/decimal"
)

const (
	// Matches the scale of the NUMERIC(38,18) columns.
	maxAmountScale  = 18
	maxReferenceLen = 128
	maxTextLen      = 512
)

func validateAmount(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return models.ValidationError("%s must be positive, got %s", field, amount.String())
	}
	return validateScale(field, amount)
}

func validateScale(field string, amount decimal.Decimal) error {
	if amount.Exponent() < -maxAmountScale {
		return models.ValidationError("%s has more than %d fractional digits", field, maxAmountScale)
	}
	return nil
}

func validateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return models.ValidationError("%s is required", field)
	}
	return nil
}

func validateText(field, value string, max int) error {
	if len(value) > max {
		return models.ValidationError("%s longer than %d bytes", field, max)
	}
	return nil
}

func validateOperation(typ models.TransactionType, req models.OperationRequest) error {
	// A consume names the service that charged it and why.
	if typ == models.TransactionConsume {
		if err := validateRequired("service", req.Counterparty); err != nil {
			return err
		}
		if err := validateRequired("reason", req.Description); err != nil {
			return err
		}
	}
	if err := validateAmount("amount", req.Amount); err != nil {
		return err
	}
	if err := validateText("reference", req.Reference, maxReferenceLen); err != nil {
		return err
	}
	if err := validateText("counterparty", req.Counterparty, maxTextLen); err != nil {
		return err
	}
	return validateText("description", req.Description, maxTextLen)
}

func validateRefund(req models.RefundRequest) error {
	if req.Amount != nil {
		if err := validateAmount("amount", *req.Amount); err != nil {
			return err
		}
	}
	if err := validateRequired("reason", req.Reason); err != nil {
		return err
	}
	return validateText("reason", req.Reason, maxTextLen)
}

func validateTransfer(req models.TransferRequest) error {
	if req.FromWalletID == req.ToWalletID {
		return models.ValidationError("cannot transfer to the same wallet")
	}
	if err := validateAmount("amount", req.Amount); err != nil {
		return err
	}
	if req.Fee.IsNegative() {
		return models.ValidationError("fee must not be negative")
	}
	if err := validateScale("fee", req.Fee); err != nil {
		return err
	}
	if !req.Fee.LessThan(req.Amount) {
		return models.ValidationError("fee %s must be less than amount %s", req.Fee.String(), req.Amount.String())
	}
	if err := validateText("reference", req.Reference, maxReferenceLen); err != nil {
		return err
	}
	return validateText("description", req.Description, maxTextLen)
}
