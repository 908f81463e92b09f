package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrProductIDRequired: в запросе/заказе не указан идентификатор товара.
	ErrProductIDRequired = errors.New("product id is required")
	// ErrProductNameRequired: у товара (или снимка товара в заказе) пустое название.
	ErrProductNameRequired = errors.New("product name is required")
	// ErrPriceNegative: отрицательная цена за единицу.
	ErrPriceNegative = errors.New("price must be non-negative")
	// ErrStockNegative: остаток не может быть меньше нуля.
	ErrStockNegative = errors.New("stock must be non-negative")
	// ErrInvalidQuantity: количество в заказе должно быть больше нуля.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrTotalMismatch: итоговая сумма заказа не равна price * count.
	ErrTotalMismatch = errors.New("order total does not match price * count")

	// ErrProductNotFound возвращается, если товар не найден в репозитории.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock: на складе меньше единиц, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStockConflict: условное обновление остатка проиграло гонку (остаток уже изменён).
	// Сервис оформления заказов обрабатывает его сам и наружу не отдаёт.
	ErrStockConflict = errors.New("stock conflict")
	// ErrStockReconciliationFailed: заказ сохранён, но остаток так и не удалось списать.
	ErrStockReconciliationFailed = errors.New("stock reconciliation failed")

	// ErrOrderInvalid: заказ не прошёл проверку перед сохранением.
	ErrOrderInvalid = errors.New("order is invalid")
	// ErrOrderAlreadyExists: заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrProductInvalid: товар не прошёл проверку перед сохранением.
	ErrProductInvalid = errors.New("product is invalid")
	// ErrProductAlreadyExists: товар с таким ID уже сохранён.
	ErrProductAlreadyExists = errors.New("product already exists")

	// ErrIdempotencyKeyRequired: пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired: пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists: ключ уже зарегистрирован с тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ переиспользован для другого тела запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound: ключ отсутствует (или уже удалён по TTL).
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")

	// ErrOutboxMessageNotFound: сообщение outbox не найдено.
	ErrOutboxMessageNotFound = errors.New("outbox message not found")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// FlaggedOrderError: заказ сохранён, но остаток не списан, и заказ помечен на сверку.
// Err: исходная причина (ErrStockReconciliationFailed или ошибка хранилища).
type FlaggedOrderError struct {
	OrderID string
	Err     error
}

func (e *FlaggedOrderError) Error() string {
	return fmt.Sprintf("order %s flagged for stock reconciliation: %v", e.OrderID, e.Err)
}

func (e *FlaggedOrderError) Unwrap() error { return e.Err }

// FlaggedOrderID достаёт ID помеченного заказа из цепочки ошибок.
func FlaggedOrderID(err error) (string, bool) {
	var flagged *FlaggedOrderError
	if errors.As(err, &flagged) {
		return flagged.OrderID, true
	}
	return "", false
}

// IsStockConflict проверяет, является ли ошибка конфликтом условного обновления остатка.
func IsStockConflict(err error) bool {
	return errors.Is(err, ErrStockConflict)
}

// IsIdempotencyConflict проверяет, что ключ уже занят (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsClientError отделяет ошибки, вызванные запросом клиента, от ошибок сервера.
func IsClientError(err error) bool {
	switch {
	case errors.Is(err, ErrStockReconciliationFailed):
		return false
	case errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrProductIDRequired),
		errors.Is(err, ErrProductInvalid),
		errors.Is(err, ErrOrderInvalid):
		return true
	default:
		return false
	}
}
