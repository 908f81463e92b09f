// Package pricing считает стоимость заказа в точной десятичной арифметике.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Total возвращает unitPrice * quantity без округления.
// quantity <= 0 даёт domain.ErrInvalidQuantity, отрицательная цена: domain.ErrPriceNegative.
func Total(unitPrice decimal.Decimal, quantity int64) (decimal.Decimal, error) {
	if quantity <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: got %d", domain.ErrInvalidQuantity, quantity)
	}
	if unitPrice.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: got %s", domain.ErrPriceNegative, unitPrice.String())
	}

	return unitPrice.Mul(decimal.NewFromInt(quantity)), nil
}

// Format печатает сумму точно. Суммы в целых копейках дополняются до двух
// знаков (10 * 2 -> "20.00"), более мелкая точность сохраняется (0.333 * 3 -> "0.999").
func Format(amount decimal.Decimal) string {
	if amount.Equal(amount.Round(2)) {
		return amount.StringFixed(2)
	}
	return amount.String()
}
