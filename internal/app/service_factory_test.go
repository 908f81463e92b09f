package app

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/service/catalog"
	"github.com/vladislavdragonenkov/shop/internal/service/fulfillment"
)

func TestCreateServices_MemoryFlow(t *testing.T) {
	logger := log.WithField("test", "services")
	deps, err := initRuntimeDependencies(context.Background(), Config{StorageDriver: StorageDriverMemory}, logger)
	if err != nil {
		t.Fatalf("init deps: %v", err)
	}

	cfg := DefaultConfig()
	svcs := createServices(cfg, deps, prometheus.NewRegistry(), logger)
	if svcs.fulfillment == nil || svcs.catalog == nil || svcs.reconciliation == nil {
		t.Fatal("all services must be created")
	}
	if got := svcs.fulfillment.Config().PageSize; got != cfg.PageSize {
		t.Fatalf("expected page size %d, got %d", cfg.PageSize, got)
	}

	ctx := context.Background()
	product, err := svcs.catalog.CreateProduct(ctx, catalog.CreateProductRequest{
		Name:  "Coffee beans",
		Price: decimal.RequireFromString("19.99"),
		Stock: 10,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	order, err := svcs.fulfillment.PlaceOrder(ctx, fulfillment.PlaceOrderRequest{ProductID: product.ID, Count: 3})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if order.TotalPrice.StringFixed(2) != "59.97" {
		t.Fatalf("unexpected total %s", order.TotalPrice.StringFixed(2))
	}

	stored, err := svcs.catalog.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if stored.Stock != 7 {
		t.Fatalf("expected stock 7, got %d", stored.Stock)
	}
}
