package events

import (
	"context"

	"github.com/Nzyazin/ledger/internal/core/logger"
	"github.com/Nzyazin/ledger/internal/core/models"
)

// LogPublisher writes events to the service log. Used when no bus is configured.
type LogPublisher struct {
	log logger.Logger
}

func NewLogPublisher(log logger.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, event models.Event) error {
	fields := []logger.Field{
		logger.StringField("event_id", event.ID.String()),
		logger.StringField("type", string(event.Type)),
		logger.StringField("wallet_id", event.WalletID.String()),
	}
	if event.TransactionID != nil {
		fields = append(fields, logger.StringField("transaction_id", event.TransactionID.String()))
	}
	if event.BalanceAfter != nil {
		fields = append(fields, logger.StringField("balance_after", event.BalanceAfter.String()))
	}
	if event.RequestedAmount != nil {
		fields = append(fields, logger.StringField("requested", event.RequestedAmount.String()))
	}
	p.log.Info("Ledger event", fields...)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
