// Package fulfillment оформляет заказы: проверяет остаток, фиксирует цену,
// сохраняет заказ и списывает остаток условным обновлением с повторами.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/pricing"
)

// PlaceOrderRequest: входные данные оформления заказа.
type PlaceOrderRequest struct {
	ProductID string
	Count     int64
}

// Service: сервис оформления заказов.
// Состояние между запросами не хранится: единственная точка синхронизации -
// условное обновление остатка в ProductRepository.
type Service struct {
	products domain.ProductRepository
	orders   domain.OrderRepository
	outbox   domain.OutboxRepository
	cfg      Config
	logger   *log.Entry
	metrics  *metrics.FulfillmentMetrics
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает prometheus-метрики.
func WithMetrics(m *metrics.FulfillmentMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithConfig задаёт конфигурацию; нулевые поля заменяются значениями по умолчанию.
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		def := DefaultConfig()
		if cfg.PageSize <= 0 {
			cfg.PageSize = def.PageSize
		}
		if cfg.OpTimeout <= 0 {
			cfg.OpTimeout = def.OpTimeout
		}
		if cfg.ReadAttempts <= 0 {
			cfg.ReadAttempts = def.ReadAttempts
		}
		if cfg.Retry.MaxAttempts <= 0 {
			cfg.Retry.MaxAttempts = def.Retry.MaxAttempts
		}
		if cfg.Retry.BackoffFactor < 1 {
			cfg.Retry.BackoffFactor = def.Retry.BackoffFactor
		}
		if cfg.Retry.MaxDelay < cfg.Retry.InitialDelay {
			cfg.Retry.MaxDelay = cfg.Retry.InitialDelay
		}
		s.cfg = cfg
	}
}

// NewService создаёт сервис оформления. outbox может быть nil: тогда события не пишутся.
func NewService(products domain.ProductRepository, orders domain.OrderRepository, outbox domain.OutboxRepository, opts ...Option) *Service {
	s := &Service{
		products: products,
		orders:   orders,
		outbox:   outbox,
		cfg:      DefaultConfig(),
		logger:   log.New().WithField("component", "fulfillment"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config возвращает действующую конфигурацию сервиса.
func (s *Service) Config() Config {
	return s.cfg
}

// PlaceOrder оформляет заказ на req.Count единиц товара req.ProductID.
//
// До сохранения заказа возможны отказы ErrInvalidQuantity, ErrProductIDRequired,
// ErrProductNotFound и ErrInsufficientStock: тогда ничего не записано.
// После сохранения заказ остаётся в хранилище при любом исходе; если остаток
// списать не удалось, в outbox ставится событие StockReconciliationRequired, а
// вызывающий получает пустой заказ и *domain.FlaggedOrderError с ID заказа,
// обёрнутую вокруг ErrStockReconciliationFailed (или исходной ошибки хранилища).
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (domain.Order, error) {
	started := time.Now()
	if s.metrics != nil {
		s.metrics.RecordPlaceStarted()
		defer func() { s.metrics.RecordPlaceFinished(time.Since(started)) }()
	}

	req.ProductID = strings.TrimSpace(req.ProductID)
	logger := s.logger.WithFields(log.Fields{
		"product_id": req.ProductID,
		"count":      req.Count,
	})

	// Validating
	stageStart := time.Now()
	if req.Count <= 0 {
		return domain.Order{}, s.reject(logger, "invalid_quantity", fmt.Errorf("%w: got %d", domain.ErrInvalidQuantity, req.Count))
	}
	if req.ProductID == "" {
		return domain.Order{}, s.reject(logger, "invalid_request", domain.ErrProductIDRequired)
	}

	product, err := s.loadProduct(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return domain.Order{}, s.reject(logger, "product_not_found", err)
		}
		logger.WithError(err).Error("load product failed")
		return domain.Order{}, err
	}
	if !product.CanFulfill(req.Count) {
		return domain.Order{}, s.reject(logger, "insufficient_stock",
			fmt.Errorf("%w: requested %d, available %d", domain.ErrInsufficientStock, req.Count, product.Stock))
	}
	s.recordStage(domain.StageValidating, stageStart)

	// Pricing
	stageStart = time.Now()
	total, err := pricing.Total(product.Price, req.Count)
	if err != nil {
		return domain.Order{}, s.reject(logger, "invalid_price", err)
	}
	s.recordStage(domain.StagePricing, stageStart)

	// OrderPersisted: вставка не повторяется, иначе возможен дубль заказа.
	stageStart = time.Now()
	insertCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	order, err := s.orders.Insert(insertCtx, domain.Order{
		ProductID:    product.ID,
		ProductName:  product.Name,
		ProductPrice: product.Price,
		Count:        req.Count,
		TotalPrice:   total,
	})
	cancel()
	if err != nil {
		logger.WithError(err).Error("insert order failed")
		return domain.Order{}, err
	}
	s.recordStage(domain.StageOrderPersisted, stageStart)

	logger = logger.WithField("order_id", order.ID)

	// StockReconciling
	stageStart = time.Now()
	if err := s.reconcileStock(ctx, logger, order, product); err != nil {
		if s.metrics != nil {
			s.metrics.RecordReconciliationFailed()
		}
		logger.WithError(err).Error("stock reconciliation failed, order flagged")
		s.emitEvent(ctx, order, domain.EventTypeStockReconciliationRequired, reconciliationPayload(order, err))
		return domain.Order{}, &domain.FlaggedOrderError{OrderID: order.ID, Err: err}
	}
	s.recordStage(domain.StageStockReconciling, stageStart)

	// Done
	if s.metrics != nil {
		s.metrics.RecordOrderPlaced()
	}
	s.emitEvent(ctx, order, domain.EventTypeOrderPlaced, orderPlacedPayload(order))
	logger.WithField("total_price", pricing.Format(order.TotalPrice)).Info("order placed")

	return order, nil
}

// ListOrders возвращает страницу заказов по возрастанию даты создания.
// Номера страниц меньше 1 трактуются как первая страница.
func (s *Service) ListOrders(ctx context.Context, page int) ([]domain.Order, error) {
	if page < 1 {
		page = 1
	}

	orders, err := withReadRetry(ctx, s, "list_orders", func(ctx context.Context) ([]domain.Order, error) {
		return s.orders.ListPage(ctx, page, s.cfg.PageSize)
	})
	if err != nil {
		s.logger.WithError(err).WithField("page", page).Error("list orders failed")
		return nil, err
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

// RetryReconciliation повторно списывает остаток по заказу, помеченному
// StockReconciliationRequired. Заказ уже сохранён, поэтому снова вставлять его не нужно.
func (s *Service) RetryReconciliation(ctx context.Context, task ReconciliationTask) error {
	task.OrderID = strings.TrimSpace(task.OrderID)
	task.ProductID = strings.TrimSpace(task.ProductID)
	switch {
	case task.OrderID == "":
		return fmt.Errorf("%w: order id is required", domain.ErrOrderInvalid)
	case task.ProductID == "":
		return domain.ErrProductIDRequired
	case task.Count <= 0:
		return fmt.Errorf("%w: got %d", domain.ErrInvalidQuantity, task.Count)
	}

	logger := s.logger.WithFields(log.Fields{
		"order_id":   task.OrderID,
		"product_id": task.ProductID,
		"count":      task.Count,
	})

	product, err := s.loadProduct(ctx, task.ProductID)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return fmt.Errorf("%w: %w", domain.ErrStockReconciliationFailed, err)
		}
		return err
	}
	if !product.CanFulfill(task.Count) {
		return fmt.Errorf("%w: %w: requested %d, available %d",
			domain.ErrStockReconciliationFailed, domain.ErrInsufficientStock, task.Count, product.Stock)
	}

	order := domain.Order{ID: task.OrderID, ProductID: task.ProductID, Count: task.Count}
	if err := s.reconcileStock(ctx, logger, order, product); err != nil {
		if s.metrics != nil {
			s.metrics.RecordReconciliationFailed()
		}
		logger.WithError(err).Warn("stock reconciliation retry failed")
		return err
	}

	logger.Info("stock reconciled for flagged order")
	return nil
}

func (s *Service) loadProduct(ctx context.Context, id string) (domain.Product, error) {
	return withReadRetry(ctx, s, "get_product", func(ctx context.Context) (domain.Product, error) {
		return s.products.GetByID(ctx, id)
	})
}

// reconcileStock списывает order.Count единиц условным обновлением.
// При конфликте перечитывает товар, заново проверяет остаток и повторяет.
// Таймаут самого обновления не повторяется: неизвестно, применилось ли оно.
func (s *Service) reconcileStock(ctx context.Context, logger *log.Entry, order domain.Order, product domain.Product) error {
	b := newBackoff(s.cfg.Retry)
	current := product

	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
		_, err := s.products.UpdateStock(callCtx, current.ID, current.Stock, current.Stock-order.Count)
		cancel()

		switch {
		case err == nil:
			if attempt > 1 {
				logger.WithField("attempt", attempt).Info("stock decremented after retry")
			}
			return nil
		case errors.Is(err, domain.ErrProductNotFound):
			return fmt.Errorf("%w: %w", domain.ErrStockReconciliationFailed, err)
		case !domain.IsStockConflict(err):
			return err
		}

		if s.metrics != nil {
			s.metrics.RecordStockConflict()
		}
		if attempt >= s.cfg.Retry.MaxAttempts {
			return fmt.Errorf("%w: gave up after %d attempts: %w", domain.ErrStockReconciliationFailed, attempt, err)
		}

		delay := b.next()
		logger.WithFields(log.Fields{
			"attempt":        attempt,
			"expected_stock": current.Stock,
			"delay":          delay,
		}).Warn("stock conflict, retrying")

		if err := sleep(ctx, delay); err != nil {
			return err
		}

		current, err = s.loadProduct(ctx, order.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return fmt.Errorf("%w: %w", domain.ErrStockReconciliationFailed, err)
			}
			return err
		}
		if !current.CanFulfill(order.Count) {
			return fmt.Errorf("%w: %w: requested %d, available %d",
				domain.ErrStockReconciliationFailed, domain.ErrInsufficientStock, order.Count, current.Stock)
		}
	}
}

func (s *Service) reject(logger *log.Entry, reason string, err error) error {
	if s.metrics != nil {
		s.metrics.RecordOrderRejected(reason)
	}
	logger.WithError(err).WithFields(log.Fields{
		"stage":  domain.StageRejected,
		"reason": reason,
	}).Info("order rejected")
	return err
}

func (s *Service) recordStage(stage domain.FulfillmentStage, started time.Time) {
	if s.metrics != nil {
		s.metrics.RecordStageDuration(string(stage), time.Since(started))
	}
}
