package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type productDocument struct {
	ID        string               `bson:"_id"`
	Name      string               `bson:"name"`
	Price     primitive.Decimal128 `bson:"price"`
	Stock     int64                `bson:"stock"`
	CreatedAt time.Time            `bson:"created_at"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

func newProductDocument(p domain.Product) (productDocument, error) {
	price, err := toDecimal128(p.Price)
	if err != nil {
		return productDocument{}, err
	}
	return productDocument{
		ID:        p.ID,
		Name:      p.Name,
		Price:     price,
		Stock:     p.Stock,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}, nil
}

func (d productDocument) toDomain() (domain.Product, error) {
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:        d.ID,
		Name:      d.Name,
		Price:     price,
		Stock:     d.Stock,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}, nil
}

type productRepository struct {
	coll *mongo.Collection
}

// NewProductRepository создаёт MongoDB-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{coll: store.Database().Collection(productsCollection)}
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := product.ValidationError(); err != nil {
		return domain.Product{}, err
	}

	product.ID = strings.TrimSpace(product.ID)
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	// BSON date хранит миллисекунды.
	now := time.Now().UTC().Truncate(time.Millisecond)
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.CreatedAt = product.CreatedAt.UTC().Truncate(time.Millisecond)
	product.UpdatedAt = now

	doc, err := newProductDocument(product)
	if err != nil {
		return domain.Product{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.Product{}, domain.ErrProductAlreadyExists
		}
		return domain.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return product, nil
}

func (r *productRepository) GetByID(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc productDocument
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("find product: %w", err)
	}
	return doc.toDomain()
}

// UpdateStock меняет остаток, только если в документе всё ещё expectedStock.
// Фильтр и $set применяются одной атомарной операцией над документом.
func (r *productRepository) UpdateStock(ctx context.Context, id string, expectedStock, newStock int64) (domain.Product, error) {
	if newStock < 0 {
		return domain.Product{}, domain.ErrStockNegative
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc productDocument
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "stock": expectedStock},
		bson.M{"$set": bson.M{
			"stock":      newStock,
			"updated_at": time.Now().UTC().Truncate(time.Millisecond),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.toDomain()
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Product{}, fmt.Errorf("update product stock: %w", err)
	}

	count, err := r.coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return domain.Product{}, fmt.Errorf("check product exists: %w", err)
	}
	if count == 0 {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return domain.Product{}, domain.ErrStockConflict
}

var _ domain.ProductRepository = (*productRepository)(nil)
