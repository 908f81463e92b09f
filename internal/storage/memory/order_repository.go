package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// orderRepositoryInMemory: простая in-memory реализация OrderRepository.
// Заказы хранятся в порядке вставки, поэтому страница: это срез отсортированного слайса.
type orderRepositoryInMemory struct {
	mu     sync.RWMutex
	orders []domain.Order
	ids    map[string]struct{}
	now    func() time.Time
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		ids: make(map[string]struct{}),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Insert сохраняет заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	if err := order.ValidationError(); err != nil {
		return domain.Order{}, err
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Created.IsZero() {
		order.Created = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ids[order.ID]; exists {
		return domain.Order{}, domain.ErrOrderAlreadyExists
	}
	r.ids[order.ID] = struct{}{}

	// Вставляем с сохранением порядка (Created, ID); обычно это append в конец.
	idx := sort.Search(len(r.orders), func(i int) bool {
		return orderLess(order, r.orders[i])
	})
	r.orders = append(r.orders, domain.Order{})
	copy(r.orders[idx+1:], r.orders[idx:])
	r.orders[idx] = order

	return order, nil
}

// ListPage возвращает копию страницы заказов.
func (r *orderRepositoryInMemory) ListPage(ctx context.Context, page, pageSize int) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		return []domain.Order{}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	offset := domain.PageOffset(page, pageSize)
	if offset < 0 || offset >= len(r.orders) {
		return []domain.Order{}, nil
	}
	end := offset + pageSize
	if end < offset || end > len(r.orders) {
		end = len(r.orders)
	}

	result := make([]domain.Order, end-offset)
	copy(result, r.orders[offset:end])
	return result, nil
}

func orderLess(a, b domain.Order) bool {
	if !a.Created.Equal(b.Created) {
		return a.Created.Before(b.Created)
	}
	return a.ID < b.ID
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
