package domain_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// helper для создания корректного заказа на 3 единицы по 19.99.
func makeOrder() domain.Order {
	return domain.Order{
		ID:           "order-1",
		ProductID:    "product-1",
		ProductName:  "Tea",
		ProductPrice: decimal.RequireFromString("19.99"),
		Count:        3,
		TotalPrice:   decimal.RequireFromString("59.97"),
		Created:      time.Now().UTC(),
	}
}

func TestOrderValidate_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.Validate(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
	if err := order.ValidationError(); err != nil {
		t.Fatalf("expected nil validation error, got %v", err)
	}
}

func TestOrderValidate_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{
			name: "no product id",
			mut:  func(o *domain.Order) { o.ProductID = " " },
			want: domain.ErrProductIDRequired,
		},
		{
			name: "no product name",
			mut:  func(o *domain.Order) { o.ProductName = "" },
			want: domain.ErrProductNameRequired,
		},
		{
			name: "zero count",
			mut:  func(o *domain.Order) { o.Count = 0 },
			want: domain.ErrInvalidQuantity,
		},
		{
			name: "negative price",
			mut: func(o *domain.Order) {
				o.ProductPrice = decimal.RequireFromString("-1")
				o.TotalPrice = decimal.RequireFromString("-3")
			},
			want: domain.ErrPriceNegative,
		},
		{
			name: "total mismatch",
			mut:  func(o *domain.Order) { o.TotalPrice = decimal.RequireFromString("59.96") },
			want: domain.ErrTotalMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)

			err := order.ValidationError()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, domain.ErrOrderInvalid) {
				t.Fatalf("expected ErrOrderInvalid, got %v", err)
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v in %v", tc.want, err)
			}
		})
	}
}

func TestPageOffset(t *testing.T) {
	cases := []struct {
		page, size, want int
	}{
		{page: 1, size: 10, want: 0},
		{page: 3, size: 10, want: 20},
		{page: 0, size: 10, want: 0},
		{page: -5, size: 10, want: 0},
		{page: math.MaxInt/3 + 2, size: 3, want: math.MaxInt},
		{page: math.MaxInt, size: 10, want: math.MaxInt},
		{page: 4, size: 0, want: 0},
	}

	for _, tc := range cases {
		if got := domain.PageOffset(tc.page, tc.size); got != tc.want {
			t.Fatalf("PageOffset(%d, %d) = %d, want %d", tc.page, tc.size, got, tc.want)
		}
	}
}
