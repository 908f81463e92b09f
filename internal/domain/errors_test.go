package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsStockConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "stock conflict error",
			err:  ErrStockConflict,
			want: true,
		},
		{
			name: "wrapped stock conflict error",
			err:  fmt.Errorf("update stock: %w", ErrStockConflict),
			want: true,
		},
		{
			name: "other error",
			err:  ErrProductNotFound,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsStockConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsStockConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "idempotency already exists",
			err:  ErrIdempotencyKeyAlreadyExists,
			want: true,
		},
		{
			name: "idempotency hash mismatch",
			err:  ErrIdempotencyHashMismatch,
			want: true,
		},
		{
			name: "wrapped idempotency conflict",
			err:  errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")),
			want: true,
		},
		{
			name: "non idempotency error",
			err:  ErrStockConflict,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsIdempotencyConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsIdempotencyConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsClientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "product not found", err: ErrProductNotFound, want: true},
		{name: "insufficient stock", err: fmt.Errorf("%w: requested 3, available 1", ErrInsufficientStock), want: true},
		{name: "invalid quantity", err: ErrInvalidQuantity, want: true},
		{name: "invalid order", err: errors.Join(ErrOrderInvalid, ErrProductNameRequired), want: true},
		{
			// после сохранения заказа даже исходная нехватка остатка: ошибка сервера
			name: "reconciliation failed wrapping insufficient stock",
			err:  fmt.Errorf("%w: %w", ErrStockReconciliationFailed, ErrInsufficientStock),
			want: false,
		},
		{name: "stock conflict", err: ErrStockConflict, want: false},
		{name: "io error", err: errors.New("connection reset"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsClientError(tt.err); got != tt.want {
				t.Errorf("IsClientError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFlaggedOrderError(t *testing.T) {
	cause := fmt.Errorf("%w: gave up after 5 attempts: %w", ErrStockReconciliationFailed, ErrStockConflict)
	err := fmt.Errorf("place order: %w", &FlaggedOrderError{OrderID: "order-7", Err: cause})

	id, ok := FlaggedOrderID(err)
	if !ok || id != "order-7" {
		t.Fatalf("FlaggedOrderID() = %q, %v", id, ok)
	}
	if !errors.Is(err, ErrStockReconciliationFailed) || !errors.Is(err, ErrStockConflict) {
		t.Fatalf("cause must stay reachable through %v", err)
	}
	if IsClientError(err) {
		t.Fatal("flagged order is a server error")
	}
	if _, ok := FlaggedOrderID(ErrInsufficientStock); ok {
		t.Fatal("plain rejection carries no order id")
	}
}
