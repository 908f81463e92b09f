package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/pricing"
)

func orderPlacedPayload(order domain.Order) map[string]interface{} {
	return map[string]interface{}{
		"product_id":    order.ProductID,
		"product_name":  order.ProductName,
		"product_price": pricing.Format(order.ProductPrice),
		"count":         order.Count,
		"total_price":   pricing.Format(order.TotalPrice),
		"created":       order.Created.Format(time.RFC3339Nano),
	}
}

// ReconciliationTask: полезная нагрузка события StockReconciliationRequired.
type ReconciliationTask struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Count     int64  `json:"count"`
	Reason    string `json:"reason"`
	// Retryable: остаток точно не списан, списание можно повторить.
	// false, если упал сам вызов хранилища и исход обновления неизвестен.
	Retryable bool `json:"retryable"`
	// Confirmed: оператор проверил остаток и разрешил повтор (dlq-reprocess -mark-retryable).
	Confirmed bool `json:"confirmed,omitempty"`
}

// ParseReconciliationTask разбирает payload события StockReconciliationRequired.
func ParseReconciliationTask(payload []byte) (ReconciliationTask, error) {
	var task ReconciliationTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return ReconciliationTask{}, fmt.Errorf("unmarshal reconciliation task: %w", err)
	}
	return task, nil
}

func reconciliationPayload(order domain.Order, cause error) map[string]interface{} {
	return map[string]interface{}{
		"product_id": order.ProductID,
		"count":      order.Count,
		"reason":     cause.Error(),
		"retryable":  errors.Is(cause, domain.ErrStockReconciliationFailed),
	}
}

// emitEvent кладёт событие в outbox. Ошибка записи только логируется:
// к этому моменту заказ уже сохранён, и исход для клиента не меняется.
func (s *Service) emitEvent(ctx context.Context, order domain.Order, eventType string, payload map[string]interface{}) {
	if s.outbox == nil {
		return
	}

	payload["order_id"] = order.ID
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	// Флаг сверки должен записаться даже если клиент уже отменил запрос.
	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.OpTimeout)
	defer cancel()

	msg := domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := s.outbox.Enqueue(enqueueCtx, msg); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("enqueue event failed")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}
}
