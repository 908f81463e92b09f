// Package reconciliation дочитывает из Kafka события StockReconciliationRequired
// и повторяет списание остатка по помеченным заказам.
package reconciliation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shop/internal/service/fulfillment"
)

const (
	keyPrefix  = "reconcile:"
	defaultTTL = 7 * 24 * time.Hour
)

// ErrInProgress: по заказу уже идёт сверка в другом обработчике.
var ErrInProgress = errors.New("reconciliation already in progress")

// Reconciler повторяет списание остатка по заказу.
type Reconciler interface {
	RetryReconciliation(ctx context.Context, task fulfillment.ReconciliationTask) error
}

// Handler обрабатывает события из топика заказов.
// Каждый заказ сверяется не больше одного раза: ключ хранится в IdempotencyRepository.
type Handler struct {
	reconciler Reconciler
	keys       domain.IdempotencyRepository
	ttl        time.Duration
	logger     *log.Entry
	now        func() time.Time
}

// NewHandler создаёт обработчик. ttl <= 0 заменяется недельным.
func NewHandler(reconciler Reconciler, keys domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Handler {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "reconciliation")
	}
	return &Handler{
		reconciler: reconciler,
		keys:       keys,
		ttl:        ttl,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// HandleMessage совместим с kafka.MessageHandler. Ошибки с kafka.ErrNonRetryable
// уходят в DLQ без повторов: такие заказы сверяются вручную.
func (h *Handler) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	env, err := kafka.ParseEnvelope(message)
	if err != nil {
		return fmt.Errorf("%w: %w", kafka.ErrNonRetryable, err)
	}
	if env.EventType != domain.EventTypeStockReconciliationRequired {
		return nil
	}

	task, err := fulfillment.ParseReconciliationTask(env.Payload)
	if err != nil {
		return fmt.Errorf("%w: %w", kafka.ErrNonRetryable, err)
	}
	if task.OrderID == "" {
		task.OrderID = env.AggregateID
	}

	logger := h.logger.WithFields(log.Fields{
		"order_id":   task.OrderID,
		"product_id": task.ProductID,
		"count":      task.Count,
		"offset":     message.Offset,
	})

	if !task.Retryable {
		logger.WithField("reason", task.Reason).Warn("stock outcome unknown, manual reconciliation required")
		return fmt.Errorf("%w: order %s: %s", kafka.ErrNonRetryable, task.OrderID, task.Reason)
	}

	key := keyPrefix + task.OrderID
	record, err := h.keys.CreateProcessing(ctx, key, taskHash(task), h.now().Add(h.ttl))
	if errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		if err = h.handleDuplicate(logger, record, task); err == nil {
			return nil
		}
		if errors.Is(err, errReclaim) {
			_, err = h.keys.ReclaimFailed(ctx, key, taskHash(task), h.now().Add(h.ttl))
			if errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
				// ключ успел занять другой обработчик
				return ErrInProgress
			}
		}
	}
	switch {
	case err == nil:
	case errors.Is(err, kafka.ErrNonRetryable), errors.Is(err, ErrInProgress):
		return err
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return fmt.Errorf("%w: order %s: %w", kafka.ErrNonRetryable, task.OrderID, err)
	default:
		return fmt.Errorf("claim reconciliation key: %w", err)
	}

	retryErr := h.reconciler.RetryReconciliation(ctx, task)

	// Результат фиксируем даже при отмене: иначе ключ останется в processing до TTL.
	storeCtx := context.WithoutCancel(ctx)
	if retryErr == nil {
		if err := h.keys.MarkDone(storeCtx, key, nil, 0); err != nil {
			logger.WithError(err).Error("mark reconciliation done failed")
		}
		logger.Info("flagged order reconciled")
		return nil
	}

	if err := h.keys.MarkFailed(storeCtx, key, encodeFailure(retryErr), 0); err != nil {
		logger.WithError(err).Error("mark reconciliation failed failed")
	}
	logger.WithError(retryErr).Warn("reconciliation failed")
	return fmt.Errorf("%w: %w", kafka.ErrNonRetryable, retryErr)
}

// handleDuplicate решает, что делать с уже виденным заказом. errReclaim означает,
// что прошлая неудачная попытка не трогала остаток (или оператор подтвердил повтор)
// и ключ можно занять заново.
func (h *Handler) handleDuplicate(logger *log.Entry, record domain.IdempotencyRecord, task fulfillment.ReconciliationTask) error {
	switch record.Status {
	case domain.IdempotencyStatusDone:
		logger.Debug("order already reconciled, skipping")
		return nil
	case domain.IdempotencyStatusFailed:
		failure := decodeFailure(record.ResponseBody)
		if failure.StockUntouched || task.Confirmed {
			logger.WithField("previous_error", failure.Error).Info("retrying previously failed reconciliation")
			return errReclaim
		}
		return fmt.Errorf("%w: previous reconciliation failed with unknown stock state: %s", kafka.ErrNonRetryable, failure.Error)
	default:
		return ErrInProgress
	}
}

var errReclaim = errors.New("reclaim failed reconciliation")

// failureRecord сохраняется в ключе сверки после неудачной попытки.
type failureRecord struct {
	Error string `json:"error"`
	// StockUntouched: попытка гарантированно не списала остаток.
	StockUntouched bool `json:"stock_untouched"`
}

func encodeFailure(err error) []byte {
	data, _ := json.Marshal(failureRecord{
		Error:          err.Error(),
		StockUntouched: errors.Is(err, domain.ErrStockReconciliationFailed),
	})
	return data
}

func decodeFailure(body []byte) failureRecord {
	var failure failureRecord
	if err := json.Unmarshal(body, &failure); err != nil {
		return failureRecord{Error: string(body)}
	}
	return failure
}

func taskHash(task fulfillment.ReconciliationTask) string {
	sum := sha256.Sum256([]byte(task.OrderID + ":" + task.ProductID + ":" + strconv.FormatInt(task.Count, 10)))
	return hex.EncodeToString(sum[:])
}
