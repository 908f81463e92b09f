package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

func createProduct(t *testing.T, repo domain.ProductRepository, stock int64) domain.Product {
	t.Helper()

	product, err := repo.Create(context.Background(), domain.Product{
		Name:  "Tea",
		Price: decimal.RequireFromString("19.99"),
		Stock: stock,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	return product
}

func TestProductRepository_CreateGet(t *testing.T) {
	repo := memory.NewProductRepository()
	product := createProduct(t, repo, 5)

	if product.ID == "" {
		t.Fatal("expected generated id")
	}

	stored, err := repo.GetByID(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Stock != 5 || !stored.Price.Equal(decimal.RequireFromString("19.99")) {
		t.Fatalf("unexpected product %+v", stored)
	}

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestProductRepository_CreateInvalid(t *testing.T) {
	repo := memory.NewProductRepository()

	_, err := repo.Create(context.Background(), domain.Product{Name: "", Price: decimal.NewFromInt(1)})
	if !errors.Is(err, domain.ErrProductInvalid) {
		t.Fatalf("expected ErrProductInvalid, got %v", err)
	}
}

func TestProductRepository_UpdateStockConditional(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	product := createProduct(t, repo, 5)

	updated, err := repo.UpdateStock(ctx, product.ID, 5, 3)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Stock != 3 {
		t.Fatalf("expected stock 3, got %d", updated.Stock)
	}

	// устаревшее ожидаемое значение
	if _, err := repo.UpdateStock(ctx, product.ID, 5, 4); !errors.Is(err, domain.ErrStockConflict) {
		t.Fatalf("expected ErrStockConflict, got %v", err)
	}
	if _, err := repo.UpdateStock(ctx, "missing", 0, 0); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
	if _, err := repo.UpdateStock(ctx, product.ID, 3, -1); !errors.Is(err, domain.ErrStockNegative) {
		t.Fatalf("expected ErrStockNegative, got %v", err)
	}

	stored, err := repo.GetByID(ctx, product.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Stock != 3 {
		t.Fatalf("failed updates must not change stock, got %d", stored.Stock)
	}
}

func TestProductRepository_UpdateStockSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	product := createProduct(t, repo, 10)

	const workers = 32
	var (
		wg        sync.WaitGroup
		winners   atomic.Int32
		conflicts atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := repo.UpdateStock(ctx, product.ID, 10, 9)
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, domain.ErrStockConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners.Load())
	}
	if conflicts.Load() != workers-1 {
		t.Fatalf("expected %d conflicts, got %d", workers-1, conflicts.Load())
	}
}

func TestProductRepository_CanceledContext(t *testing.T) {
	repo := memory.NewProductRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := repo.GetByID(ctx, "any"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
