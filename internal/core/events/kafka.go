package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Nzyazin/ledger/internal/core/logger"
	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/Nzyazin/ledger/pkg/config"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher keys every message by wallet id so one wallet's events stay
// ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	log    logger.Logger
}

func NewKafkaPublisher(cfg config.KafkaConfig, log logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
		},
		log: log,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.WalletID.String()),
		Value: payload,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID.String())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.log.Info("Closing kafka writer")
	return p.writer.Close()
}
