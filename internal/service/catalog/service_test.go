package catalog_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/catalog"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

func newService() *catalog.Service {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return catalog.NewService(memory.NewProductRepository(), time.Second, logger.WithField("component", "catalog-test"))
}

func TestCreateAndGetProduct(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, catalog.CreateProductRequest{
		Name:  "  Oolong  ",
		Price: decimal.RequireFromString("12.40"),
		Stock: 8,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.Name != "Oolong" {
		t.Fatalf("expected trimmed name, got %q", created.Name)
	}

	got, err := svc.GetProduct(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Stock != 8 || !got.Price.Equal(created.Price) {
		t.Fatalf("unexpected product %+v", got)
	}
}

func TestCreateProductValidation(t *testing.T) {
	svc := newService()

	_, err := svc.CreateProduct(context.Background(), catalog.CreateProductRequest{
		Name:  "Broken",
		Price: decimal.RequireFromString("1.00"),
		Stock: -2,
	})
	if !errors.Is(err, domain.ErrProductInvalid) || !errors.Is(err, domain.ErrStockNegative) {
		t.Fatalf("expected invalid product error, got %v", err)
	}
}

func TestGetProductErrors(t *testing.T) {
	svc := newService()

	if _, err := svc.GetProduct(context.Background(), " "); !errors.Is(err, domain.ErrProductIDRequired) {
		t.Fatalf("expected ErrProductIDRequired, got %v", err)
	}
	if _, err := svc.GetProduct(context.Background(), "missing"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}
