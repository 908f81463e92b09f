package domain

import (
	"context"
	"time"
)

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// PullPending возвращает до limit сообщений в порядке постановки.
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// ReclaimFailed атомарно возвращает ключ из failed в processing для повторной попытки.
	// Ключ в другом статусе даёт ErrIdempotencyKeyAlreadyExists, чужой хэш: ErrIdempotencyHashMismatch.
	ReclaimFailed(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// FulfillmentStage задаёт стадии оформления заказа для метрик и логов.
type FulfillmentStage string

const (
	StageValidating       FulfillmentStage = "validating"
	StagePricing          FulfillmentStage = "pricing"
	StageOrderPersisted   FulfillmentStage = "order_persisted"
	StageStockReconciling FulfillmentStage = "stock_reconciling"
	StageDone             FulfillmentStage = "done"
	StageRejected         FulfillmentStage = "rejected"
)

// Типы агрегатов и событий, которые сервис кладёт в outbox.
const (
	AggregateTypeOrder = "order"

	EventTypeOrderPlaced                 = "OrderPlaced"
	EventTypeStockReconciliationRequired = "StockReconciliationRequired"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
