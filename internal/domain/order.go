package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Order: подтверждённая покупка count единиц одного товара.
// Название и цена копируются из товара в момент оформления и дальше
// не зависят от изменений каталога.
type Order struct {
	ID           string
	ProductID    string
	ProductName  string
	ProductPrice decimal.Decimal
	Count        int64
	TotalPrice   decimal.Decimal
	Created      time.Time
}

// Validate возвращает список нарушенных инвариантов заказа.
func (o *Order) Validate() []error {
	var errs []error

	if strings.TrimSpace(o.ProductID) == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if strings.TrimSpace(o.ProductName) == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if o.Count <= 0 {
		errs = append(errs, ErrInvalidQuantity)
	}
	if o.ProductPrice.IsNegative() {
		errs = append(errs, ErrPriceNegative)
	}
	// total сверяется точно: оба значения десятичные, без округления.
	if o.Count > 0 && !o.TotalPrice.Equal(o.ProductPrice.Mul(decimal.NewFromInt(o.Count))) {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// ValidationError объединяет нарушения в одну ошибку, совместимую с errors.Is(err, ErrOrderInvalid).
func (o *Order) ValidationError() error {
	errs := o.Validate()
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrOrderInvalid}, errs...)...)
}
