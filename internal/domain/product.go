package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product описывает товар каталога и его текущий остаток на складе.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
	// Stock: количество доступных единиц. Меняется только условным обновлением
	// через ProductRepository.UpdateStock.
	Stock     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет инварианты товара перед сохранением.
func (p *Product) Validate() []error {
	var errs []error

	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.Price.IsNegative() {
		errs = append(errs, ErrPriceNegative)
	}
	if p.Stock < 0 {
		errs = append(errs, ErrStockNegative)
	}

	return errs
}

// CanFulfill сообщает, хватает ли остатка на count единиц.
func (p *Product) CanFulfill(count int64) bool {
	return count > 0 && p.Stock >= count
}

// ValidationError для товара, аналогично Order.ValidationError.
func (p *Product) ValidationError() error {
	errs := p.Validate()
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrProductInvalid}, errs...)...)
}
