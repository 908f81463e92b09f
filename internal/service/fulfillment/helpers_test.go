package fulfillment

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

var errIO = errors.New("connection reset by peer")

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "fulfillment-test")
}

// fastConfig: конфигурация без задержек, чтобы тесты с повторами не ждали.
func fastConfig() Config {
	return Config{
		PageSize:     10,
		OpTimeout:    time.Second,
		ReadAttempts: 3,
		Retry: RetryConfig{
			MaxAttempts:   5,
			InitialDelay:  0,
			MaxDelay:      0,
			BackoffFactor: 1,
		},
	}
}

type fixture struct {
	products domain.ProductRepository
	orders   domain.OrderRepository
	outbox   *memory.OutboxRepository
	svc      *Service
}

func newFixture(t *testing.T, cfg Config, wrap func(domain.ProductRepository) domain.ProductRepository) *fixture {
	t.Helper()

	products := memory.NewProductRepository()
	var repo domain.ProductRepository = products
	if wrap != nil {
		repo = wrap(products)
	}

	f := &fixture{
		products: products,
		orders:   memory.NewOrderRepository(),
		outbox:   memory.NewOutboxRepository(),
	}
	f.svc = NewService(repo, f.orders, f.outbox, WithLogger(quietLogger()), WithConfig(cfg))
	return f
}

func (f *fixture) addProduct(t *testing.T, price string, stock int64) domain.Product {
	t.Helper()

	product, err := f.products.Create(context.Background(), domain.Product{
		Name:  "Green tea",
		Price: decimal.RequireFromString(price),
		Stock: stock,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	return product
}

func (f *fixture) stock(t *testing.T, id string) int64 {
	t.Helper()

	product, err := f.products.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	return product.Stock
}

func (f *fixture) allOrders(t *testing.T) []domain.Order {
	t.Helper()

	orders, err := f.orders.ListPage(context.Background(), 1, 1000)
	if err != nil {
		t.Fatalf("list orders failed: %v", err)
	}
	return orders
}

// competingProducts перед каждым из первых steal вызовов UpdateStock
// списывает units единиц от имени «другого покупателя», вызывая настоящий конфликт.
type competingProducts struct {
	domain.ProductRepository
	mu    sync.Mutex
	steal int
	units int64
}

func (c *competingProducts) UpdateStock(ctx context.Context, id string, expected, newStock int64) (domain.Product, error) {
	c.mu.Lock()
	if c.steal > 0 {
		c.steal--
		current, err := c.ProductRepository.GetByID(ctx, id)
		if err == nil {
			take := c.units
			if take > current.Stock {
				take = current.Stock
			}
			_, _ = c.ProductRepository.UpdateStock(ctx, id, current.Stock, current.Stock-take)
		}
	}
	c.mu.Unlock()

	return c.ProductRepository.UpdateStock(ctx, id, expected, newStock)
}

// scriptedProducts позволяет подменить результат UpdateStock и замедлить GetByID.
type scriptedProducts struct {
	domain.ProductRepository
	updateErr    error
	updateCalls  atomic.Int32
	slowReads    atomic.Int32
	getCalls     atomic.Int32
	failOnAccess bool
	t            *testing.T
}

func (s *scriptedProducts) GetByID(ctx context.Context, id string) (domain.Product, error) {
	if s.failOnAccess {
		s.t.Errorf("GetByID must not be called")
	}
	s.getCalls.Add(1)
	if s.slowReads.Load() > 0 {
		s.slowReads.Add(-1)
		<-ctx.Done()
		return domain.Product{}, ctx.Err()
	}
	return s.ProductRepository.GetByID(ctx, id)
}

func (s *scriptedProducts) UpdateStock(ctx context.Context, id string, expected, newStock int64) (domain.Product, error) {
	if s.failOnAccess {
		s.t.Errorf("UpdateStock must not be called")
	}
	s.updateCalls.Add(1)
	if s.updateErr != nil {
		return domain.Product{}, s.updateErr
	}
	return s.ProductRepository.UpdateStock(ctx, id, expected, newStock)
}

// countingOrders считает вставки и может вернуть заданную ошибку.
type countingOrders struct {
	domain.OrderRepository
	insertErr   error
	insertCalls atomic.Int32
}

func (c *countingOrders) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	c.insertCalls.Add(1)
	if c.insertErr != nil {
		return domain.Order{}, c.insertErr
	}
	return c.OrderRepository.Insert(ctx, order)
}
