package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// productRepositoryInMemory: in-memory каталог товаров.
// Условное обновление остатка выполняется под мьютексом репозитория,
// то есть атомарность обеспечивает само хранилище, а не вызывающий код.
type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
	now   func() time.Time
}

// NewProductRepository возвращает in-memory репозиторий товаров для разработки и тестов.
func NewProductRepository() domain.ProductRepository {
	return &productRepositoryInMemory{
		items: make(map[string]domain.Product),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create сохраняет новый товар.
func (r *productRepositoryInMemory) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	if err := product.ValidationError(); err != nil {
		return domain.Product{}, err
	}

	product.ID = strings.TrimSpace(product.ID)
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	now := r.now()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[product.ID]; exists {
		return domain.Product{}, domain.ErrProductAlreadyExists
	}
	r.items[product.ID] = product
	return product, nil
}

// GetByID возвращает товар или ErrProductNotFound.
func (r *productRepositoryInMemory) GetByID(ctx context.Context, id string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// UpdateStock выполняет compare-and-set остатка.
func (r *productRepositoryInMemory) UpdateStock(ctx context.Context, id string, expectedStock, newStock int64) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	if newStock < 0 {
		return domain.Product{}, domain.ErrStockNegative
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if current.Stock != expectedStock {
		return domain.Product{}, domain.ErrStockConflict
	}

	current.Stock = newStock
	current.UpdatedAt = r.now()
	r.items[id] = current
	return current, nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
