package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/service/catalog"
	"github.com/vladislavdragonenkov/shop/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
	"github.com/vladislavdragonenkov/shop/internal/transport/httpapi"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newShopServer поднимает настоящий HTTP API поверх in-memory хранилища.
func newShopServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := logger.WithField("component", "loadtest-test")

	products := memory.NewProductRepository()
	cfg := fulfillment.DefaultConfig()
	cfg.Retry.MaxAttempts = 100
	cfg.Retry.InitialDelay = 0
	cfg.Retry.MaxDelay = 0

	orders := fulfillment.NewService(products, memory.NewOrderRepository(), memory.NewOutboxRepository(),
		fulfillment.WithConfig(cfg),
		fulfillment.WithLogger(entry),
	)

	srv := httptest.NewServer(httpapi.NewRouter(httpapi.Deps{
		Orders:         orders,
		Products:       catalog.NewService(products, time.Second, entry),
		Idempotency:    memory.NewIdempotencyRepository(),
		IdempotencyTTL: time.Hour,
		Logger:         entry,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func withCLIArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"loadtest"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

func TestParseConfig(t *testing.T) {
	t.Run("flags", func(t *testing.T) {
		withCLIArgs(t, []string{
			"-addr=http://127.0.0.1:3000/",
			"-total=12",
			"-concurrency=3",
			"-timeout=2s",
			"-stock=7",
			"-price=5.50",
			"-count=2",
			"-idempotent=false",
		}, func() {
			cfg, err := parseConfig()
			require.NoError(t, err)
			require.Equal(t, "http://127.0.0.1:3000", cfg.addr)
			require.Equal(t, 12, cfg.total)
			require.Equal(t, 3, cfg.concurrency)
			require.Equal(t, 2*time.Second, cfg.timeout)
			require.Equal(t, int64(7), cfg.stock)
			require.True(t, cfg.price.Equal(decimal.RequireFromString("5.5")))
			require.Equal(t, int64(2), cfg.count)
			require.False(t, cfg.idempotent)
		})
	})

	t.Run("validation errors", func(t *testing.T) {
		tests := []struct {
			name    string
			args    []string
			wantErr string
		}{
			{name: "bad price", args: []string{"-price=abc"}, wantErr: "parse price"},
			{name: "negative price", args: []string{"-price=-1"}, wantErr: "price must be >= 0"},
			{name: "zero total", args: []string{"-total=0"}, wantErr: "total must be > 0"},
			{name: "zero concurrency", args: []string{"-concurrency=0"}, wantErr: "concurrency must be > 0"},
			{name: "zero count", args: []string{"-count=0"}, wantErr: "count must be > 0"},
			{name: "negative stock", args: []string{"-stock=-1"}, wantErr: "stock must be >= 0"},
			{name: "empty addr", args: []string{"-addr= "}, wantErr: "addr is required"},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				withCLIArgs(t, tc.args, func() {
					_, err := parseConfig()
					require.Error(t, err)
					require.Contains(t, err.Error(), tc.wantErr)
				})
			})
		}
	})
}

func TestCollectorAndReport(t *testing.T) {
	c := newCollector()
	c.record(methodScenario, 10*time.Millisecond, "201", true)
	c.record(methodScenario, 20*time.Millisecond, "500 internal", false)
	c.record(methodPlaceOrder, 15*time.Millisecond, "201", true)
	c.record(methodPlaceOrder, 15*time.Millisecond, "409 insufficient_stock", false)

	r := c.buildReport(time.Now(), 2*time.Second)
	require.Equal(t, int64(2), r.TotalScenarios)
	require.Equal(t, int64(1), r.FailedScenarios)
	require.Positive(t, r.RPS)
	require.Equal(t, int64(1), r.Methods[methodPlaceOrder].Codes["409 insufficient_stock"])

	require.Equal(t, int64(1), c.countCode(methodPlaceOrder, "201"))
	require.Zero(t, c.countCode("missing", "201"))
}

func TestOutcomeCode(t *testing.T) {
	require.Equal(t, "201", outcomeCode(http.StatusCreated, "", nil))
	require.Equal(t, "409 insufficient_stock", outcomeCode(http.StatusConflict, reasonInsufficientStock, nil))
	require.Equal(t, "transport_error", outcomeCode(0, "", io.ErrUnexpectedEOF))
}

func TestUtilityFunctions(t *testing.T) {
	require.Equal(t, 0.25, ratio(1, 4))
	require.Zero(t, ratio(1, 0))

	values := []float64{10, 20, 30, 40}
	summary := buildLatencySummary(values)
	require.Equal(t, 10.0, summary.Min)
	require.Equal(t, 40.0, summary.Max)
	require.Equal(t, 25.0, summary.Avg)
	require.Equal(t, 25.0, percentile(values, 50))
	require.Equal(t, latencySummary{}, buildLatencySummary(nil))
}

func TestWriteJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")

	sample := report{TotalScenarios: 2, SuccessScenarios: 2, Stock: stockCheck{Placed: 2, Consistent: true}}
	require.NoError(t, writeJSONReport(path, sample))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded report
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, int64(2), decoded.Stock.Placed)
	require.True(t, decoded.Stock.Consistent)

	require.Error(t, writeJSONReport(".", sample))
	require.Error(t, writeJSONReport("../outside.json", sample))
}

func TestRunLoad_NoOversell(t *testing.T) {
	srv := newShopServer(t)
	client := newAPIClient(srv.URL, srv.Client())

	cfg := config{
		total:       40,
		concurrency: 8,
		stock:       10,
		price:       decimal.RequireFromString("19.99"),
		count:       1,
		idempotent:  true,
	}

	result, err := runLoad(context.Background(), client, cfg)
	require.NoError(t, err)

	s := result.Stock
	require.False(t, s.Oversold, "stock check: %+v", s)
	require.True(t, s.Consistent, "stock check: %+v", s)
	require.Equal(t, int64(10), s.InitialStock)
	require.GreaterOrEqual(t, s.FinalStock, int64(0))
	require.LessOrEqual(t, s.Placed, int64(10))
	require.Equal(t, int64(cfg.total), s.Placed+s.Rejected+s.Flagged)
	require.Equal(t, int64(cfg.total), result.TotalScenarios)
}

func TestRunLoad_ExistingProduct(t *testing.T) {
	srv := newShopServer(t)
	client := newAPIClient(srv.URL, srv.Client())

	product, err := client.createProduct(context.Background(), "widget", decimal.RequireFromString("2.50"), 9)
	require.NoError(t, err)

	cfg := config{total: 5, concurrency: 1, productID: product.ID, count: 2}
	result, err := runLoad(context.Background(), client, cfg)
	require.NoError(t, err)

	// 9 единиц хватает на 4 заказа по 2.
	require.Equal(t, int64(4), result.Stock.Placed)
	require.Equal(t, int64(1), result.Stock.Rejected)
	require.Equal(t, int64(1), result.Stock.FinalStock)
	require.True(t, result.Stock.Consistent, "stock check: %+v", result.Stock)
	require.False(t, result.Stock.Oversold)
}

func TestRunLoad_UnknownProduct(t *testing.T) {
	srv := newShopServer(t)
	client := newAPIClient(srv.URL, srv.Client())

	_, err := runLoad(context.Background(), client, config{total: 1, concurrency: 1, productID: "missing", count: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status 404")
}

func TestPrintReport(t *testing.T) {
	r := report{
		TotalScenarios:   2,
		SuccessScenarios: 2,
		Methods: map[string]methodReport{
			methodScenario:   {Calls: 2, Success: 2},
			methodPlaceOrder: {Calls: 2, Success: 2, Codes: map[string]int64{"201": 2}},
		},
		Stock: stockCheck{ProductID: "p-1", InitialStock: 5, FinalStock: 3, Placed: 2, Consistent: true},
	}

	out := captureStdout(t, func() {
		printReport(r, config{addr: "http://localhost:3000", concurrency: 1})
	})

	require.Contains(t, out, "Load test summary")
	require.Contains(t, out, "PlaceOrder 201: 2")
	require.Contains(t, out, "oversold=false consistent=true")
}

func TestMainSmoke(t *testing.T) {
	srv := newShopServer(t)
	outPath := filepath.Join(t.TempDir(), "main-report.json")

	withCLIArgs(t, []string{
		"-addr=" + srv.URL,
		"-total=5",
		"-concurrency=2",
		"-stock=100",
		"-timeout=2s",
		"-output=" + outPath,
	}, func() {
		main()
	})

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), `"placed": 5`), string(data))
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	_ = w.Close()
	os.Stdout = oldStdout

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	_ = r.Close()

	return string(data)
}
