package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// В выборку попадают только публичные поля заказа.
const orderColumns = `id, product_id, product_name, product_price, count, total_price, created_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := order.ValidationError(); err != nil {
		return domain.Order{}, err
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Created.IsZero() {
		order.Created = time.Now().UTC()
	}
	order.Created = order.Created.UTC().Truncate(time.Microsecond)

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		order.ID, order.ProductID, order.ProductName, order.ProductPrice,
		order.Count, order.TotalPrice, order.Created,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Order{}, domain.ErrOrderAlreadyExists
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	return order, nil
}

func (r *orderRepository) ListPage(ctx context.Context, page, pageSize int) ([]domain.Order, error) {
	if pageSize <= 0 {
		return []domain.Order{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY created_at ASC, id ASC
		LIMIT $1 OFFSET $2
	`, pageSize, domain.PageOffset(page, pageSize))
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Order, 0, pageSize)
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(
			&o.ID, &o.ProductID, &o.ProductName, &o.ProductPrice,
			&o.Count, &o.TotalPrice, &o.Created,
		); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Created = o.Created.UTC()
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	return result, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
