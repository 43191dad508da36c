package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nfinance/finance-service/internal/domain"
	"github.com/shopspring/decimal"
)

// Routing keys published on the events exchange.
const (
	EventTransactionCreated = "transaction.created"
	EventTransactionUpdated = "transaction.updated"
	EventTransactionDeleted = "transaction.deleted"
	EventCreditCardPaid     = "creditcard.paid"
)

const publishTimeout = 5 * time.Second

// EventPublisher is implemented by rabbitmq.EventProducer and rabbitmq.NoopPublisher.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// PostingEvent is the payload of every posting event.
type PostingEvent struct {
	EventID       uuid.UUID       `json:"eventId"`
	Type          string          `json:"type"`
	OwnerID       uuid.UUID       `json:"ownerId"`
	TransactionID uuid.UUID       `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

type eventEmitter struct {
	publisher EventPublisher
	exchange  string
	logger    *slog.Logger
}

// emit publishes after commit. Failures are logged and never returned: the
// posting has already happened.
func (e *eventEmitter) emit(ctx context.Context, routingKey string, t domain.Transaction) {
	if e == nil || e.publisher == nil {
		return
	}
	event := PostingEvent{
		EventID:       uuid.New(),
		Type:          routingKey,
		OwnerID:       t.OwnerID,
		TransactionID: t.ID,
		Amount:        t.Amount,
		OccurredAt:    time.Now().UTC(),
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.publisher.Publish(pubCtx, e.exchange, routingKey, event); err != nil {
		e.logger.Warn("event publish failed",
			"routing_key", routingKey,
			"transaction_id", t.ID,
			"error", err,
		)
	}
}
