package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/catalog"
	"github.com/vladislavdragonenkov/shop/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "http-test")
}

type testAPI struct {
	router      *gin.Engine
	products    domain.ProductRepository
	orders      domain.OrderRepository
	outbox      *memory.OutboxRepository
	idempotency domain.IdempotencyRepository
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	api := &testAPI{
		products:    memory.NewProductRepository(),
		orders:      memory.NewOrderRepository(),
		outbox:      memory.NewOutboxRepository(),
		idempotency: memory.NewIdempotencyRepository(),
	}

	cfg := fulfillment.DefaultConfig()
	cfg.PageSize = 3
	cfg.Retry.InitialDelay = 0
	cfg.Retry.MaxDelay = 0

	orders := fulfillment.NewService(api.products, api.orders, api.outbox,
		fulfillment.WithConfig(cfg),
		fulfillment.WithLogger(quietLogger()),
	)
	products := catalog.NewService(api.products, time.Second, quietLogger())

	api.router = NewRouter(Deps{
		Orders:      orders,
		Products:    products,
		Idempotency: api.idempotency,
		Logger:      quietLogger(),
	})
	return api
}

func (a *testAPI) seedProduct(t *testing.T, name, price string, stock int64) domain.Product {
	t.Helper()

	p, err := a.products.Create(context.Background(), domain.Product{
		Name:  name,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	})
	require.NoError(t, err)
	return p
}

func (a *testAPI) stock(t *testing.T, id string) int64 {
	t.Helper()

	p, err := a.products.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func doRequest(router http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type envelopeOf[T any] struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Data   T      `json:"data"`
	Reason string `json:"reason"`
}

func decodeEnvelope[T any](t *testing.T, rec *httptest.ResponseRecorder) envelopeOf[T] {
	t.Helper()

	var env envelopeOf[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return env
}
