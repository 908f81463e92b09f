package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// orderDocument повторяет формат коллекции orders; __v: служебная версия
// документа, наружу не отдаётся.
type orderDocument struct {
	ID           string               `bson:"_id"`
	ProductID    string               `bson:"product_id"`
	ProductName  string               `bson:"product_name"`
	ProductPrice primitive.Decimal128 `bson:"product_price"`
	Count        int64                `bson:"count"`
	TotalPrice   primitive.Decimal128 `bson:"total_price"`
	Created      time.Time            `bson:"created"`
	Version      int32                `bson:"__v"`
}

func newOrderDocument(o domain.Order) (orderDocument, error) {
	price, err := toDecimal128(o.ProductPrice)
	if err != nil {
		return orderDocument{}, err
	}
	total, err := toDecimal128(o.TotalPrice)
	if err != nil {
		return orderDocument{}, err
	}
	return orderDocument{
		ID:           o.ID,
		ProductID:    o.ProductID,
		ProductName:  o.ProductName,
		ProductPrice: price,
		Count:        o.Count,
		TotalPrice:   total,
		Created:      o.Created,
	}, nil
}

func (d orderDocument) toDomain() (domain.Order, error) {
	price, err := fromDecimal128(d.ProductPrice)
	if err != nil {
		return domain.Order{}, err
	}
	total, err := fromDecimal128(d.TotalPrice)
	if err != nil {
		return domain.Order{}, err
	}
	return domain.Order{
		ID:           d.ID,
		ProductID:    d.ProductID,
		ProductName:  d.ProductName,
		ProductPrice: price,
		Count:        d.Count,
		TotalPrice:   total,
		Created:      d.Created.UTC(),
	}, nil
}

type orderRepository struct {
	coll *mongo.Collection
}

// NewOrderRepository создаёт MongoDB-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{coll: store.Database().Collection(ordersCollection)}
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
	order.Created = order.Created.UTC().Truncate(time.Millisecond)

	doc, err := newOrderDocument(order)
	if err != nil {
		return domain.Order{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
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

	opts := options.Find().
		SetSort(bson.D{{Key: "created", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(domain.PageOffset(page, pageSize))).
		SetLimit(int64(pageSize)).
		SetProjection(bson.M{"__v": 0})

	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find orders: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]domain.Order, 0, pageSize)
	for cursor.Next(ctx) {
		var doc orderDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		order, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, order)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return result, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
