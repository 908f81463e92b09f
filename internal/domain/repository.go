package domain

import (
	"context"
	"math"
)

// ProductRepository описывает хранилище товаров.
type ProductRepository interface {
	// Create сохраняет новый товар; пустые ID и временные метки заполняются репозиторием.
	Create(ctx context.Context, product Product) (Product, error)
	// GetByID возвращает товар или ErrProductNotFound.
	GetByID(ctx context.Context, id string) (Product, error)
	// UpdateStock: условное обновление: остаток меняется на newStock, только если
	// текущее значение в хранилище равно expectedStock. Иначе ErrStockConflict.
	UpdateStock(ctx context.Context, id string, expectedStock, newStock int64) (Product, error)
}

// OrderRepository описывает хранилище заказов.
type OrderRepository interface {
	// Insert сохраняет заказ, назначая ID и Created, если они не заданы.
	Insert(ctx context.Context, order Order) (Order, error)
	// ListPage возвращает страницу заказов по возрастанию Created.
	// Номер страницы начинается с 1; за пределами данных возвращается пустой срез.
	ListPage(ctx context.Context, page, pageSize int) ([]Order, error)
}

// PageOffset переводит номер страницы (с 1) в смещение выборки.
// При переполнении смещение насыщается до math.MaxInt: такая страница просто пуста.
func PageOffset(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		return 0
	}
	if page-1 > math.MaxInt/pageSize {
		return math.MaxInt
	}
	return (page - 1) * pageSize
}
