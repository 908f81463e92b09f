// Package catalog: минимальное управление товарами: создание и чтение.
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// CreateProductRequest: данные нового товара.
type CreateProductRequest struct {
	Name  string
	Price decimal.Decimal
	Stock int64
}

// Service создаёт и отдаёт товары.
type Service struct {
	products  domain.ProductRepository
	opTimeout time.Duration
	logger    *log.Entry
}

// NewService создаёт сервис каталога.
func NewService(products domain.ProductRepository, opTimeout time.Duration, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "catalog")
	}
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &Service{products: products, opTimeout: opTimeout, logger: logger}
}

// CreateProduct проверяет и сохраняет товар.
func (s *Service) CreateProduct(ctx context.Context, req CreateProductRequest) (domain.Product, error) {
	product := domain.Product{
		Name:  strings.TrimSpace(req.Name),
		Price: req.Price,
		Stock: req.Stock,
	}
	if err := product.ValidationError(); err != nil {
		return domain.Product{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	created, err := s.products.Create(ctx, product)
	if err != nil {
		s.logger.WithError(err).WithField("name", product.Name).Error("create product failed")
		return domain.Product{}, err
	}

	s.logger.WithFields(log.Fields{
		"product_id": created.ID,
		"stock":      created.Stock,
	}).Info("product created")
	return created, nil
}

// GetProduct возвращает товар по ID.
func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, domain.ErrProductIDRequired
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	return s.products.GetByID(ctx, id)
}
