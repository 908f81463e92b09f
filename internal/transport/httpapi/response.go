// Package httpapi: HTTP API магазина на gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	codeSuccess = 0
	codeFailure = -1
	msgSuccess  = "success"
)

// Коды причин в поле reason ответа об ошибке.
const (
	ReasonInvalidRequest            = "invalid_request"
	ReasonInvalidQuantity           = "invalid_quantity"
	ReasonInvalidPage               = "invalid_page"
	ReasonProductNotFound           = "product_not_found"
	ReasonProductExists             = "product_exists"
	ReasonInsufficientStock         = "insufficient_stock"
	ReasonStockReconciliationFailed = "stock_reconciliation_failed"
	ReasonIdempotencyInProgress     = "idempotency_in_progress"
	ReasonIdempotencyMismatch       = "idempotency_mismatch"
	ReasonNotFound                  = "not_found"
	ReasonTimeout                   = "timeout"
	ReasonInternal                  = "internal"
)

// Envelope: единый формат ответа API.
type Envelope struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Data   any    `json:"data,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, Envelope{Code: codeSuccess, Msg: msgSuccess, Data: data})
}

func respondFail(c *gin.Context, status int, reason, msg string) {
	c.AbortWithStatusJSON(status, Envelope{Code: codeFailure, Msg: msg, Reason: reason})
}

// respondError переводит доменную ошибку в HTTP-ответ.
func respondError(c *gin.Context, err error) {
	status, reason, msg := classifyError(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	respondFail(c, status, reason, msg)
}

// classifyError возвращает HTTP-статус, reason и текст для клиента.
// Текст внутренних ошибок наружу не отдаётся.
func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrStockReconciliationFailed):
		msg := "order was persisted but stock reconciliation failed; it is flagged for follow-up"
		if id, ok := domain.FlaggedOrderID(err); ok {
			msg = "order " + id + " was persisted but stock reconciliation failed; it is flagged for follow-up"
		}
		return http.StatusInternalServerError, ReasonStockReconciliationFailed, msg
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, ReasonProductNotFound, err.Error()
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, ReasonInsufficientStock, err.Error()
	case errors.Is(err, domain.ErrInvalidQuantity):
		return http.StatusBadRequest, ReasonInvalidQuantity, err.Error()
	case errors.Is(err, domain.ErrProductAlreadyExists):
		return http.StatusConflict, ReasonProductExists, err.Error()
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusUnprocessableEntity, ReasonIdempotencyMismatch,
			"idempotency key is already used with a different request payload"
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return http.StatusConflict, ReasonIdempotencyInProgress,
			"request with the same idempotency key is already processing"
	case errors.Is(err, domain.ErrProductIDRequired),
		errors.Is(err, domain.ErrProductInvalid),
		errors.Is(err, domain.ErrOrderInvalid),
		errors.Is(err, domain.ErrProductNameRequired),
		errors.Is(err, domain.ErrPriceNegative),
		errors.Is(err, domain.ErrStockNegative):
		return http.StatusBadRequest, ReasonInvalidRequest, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ReasonTimeout, "storage did not respond in time"
	default:
		return http.StatusInternalServerError, ReasonInternal, "internal error"
	}
}
