package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Deps: зависимости HTTP API.
type Deps struct {
	Orders   OrderService
	Products ProductService
	// Idempotency может быть nil: тогда заголовок Idempotency-Key игнорируется.
	Idempotency    domain.IdempotencyRepository
	IdempotencyTTL time.Duration
	Logger         *log.Entry
}

// NewRouter собирает gin-роутер. Дополнительные middleware (аутентификация,
// проверка прав) подключаются после базовых и до маршрутов.
func NewRouter(deps Deps, middlewares ...gin.HandlerFunc) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "http")
	}

	router := gin.New()
	router.Use(RequestID(), RequestLogger(logger), Recovery(logger))
	router.Use(middlewares...)

	h := &handler{orders: deps.Orders, products: deps.Products}

	router.POST("/order", Idempotency(deps.Idempotency, deps.IdempotencyTTL, logger), h.placeOrder)
	router.GET("/order", h.listOrders)
	router.POST("/product", h.createProduct)
	router.GET("/product/:id", h.getProduct)

	router.NoRoute(func(c *gin.Context) {
		respondFail(c, http.StatusNotFound, ReasonNotFound, "route not found")
	})

	return router
}
