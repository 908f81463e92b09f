package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	idempotencyHeader = "Idempotency-Key"

	methodPlaceOrder = "PlaceOrder"
	methodScenario   = "scenario"

	reasonInsufficientStock = "insufficient_stock"
	reasonReconciliation    = "stock_reconciliation_failed"
)

type config struct {
	addr        string
	total       int
	concurrency int
	timeout     time.Duration
	productID   string
	stock       int64
	price       decimal.Decimal
	count       int64
	idempotent  bool
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

// stockCheck: итог проверки «не продали больше, чем было».
type stockCheck struct {
	ProductID    string `json:"product_id"`
	InitialStock int64  `json:"initial_stock"`
	FinalStock   int64  `json:"final_stock"`
	Placed       int64  `json:"placed"`
	Rejected     int64  `json:"rejected"`
	Flagged      int64  `json:"flagged"`
	UnitsPerOrd  int64  `json:"units_per_order"`
	Oversold     bool   `json:"oversold"`
	Consistent   bool   `json:"consistent"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	Stock             stockCheck              `json:"stock"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

// record учитывает вызов. code: HTTP-статус и reason, например "409 insufficient_stock".
func (c *collector) record(method string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.methods[method]
	if !exists {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) countCode(method, code string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		return 0
	}
	return stats.codes[code]
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods[methodScenario]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig() (config, error) {
	var (
		cfg        config
		priceValue string
	)

	flag.StringVar(&cfg.addr, "addr", "http://localhost:3000", "shop HTTP API base URL")
	flag.IntVar(&cfg.total, "total", 400, "number of orders to place")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	flag.StringVar(&cfg.productID, "product-id", "", "existing product to order (default: create a new one)")
	flag.Int64Var(&cfg.stock, "stock", 100, "initial stock of the created product")
	flag.StringVar(&priceValue, "price", "19.99", "price of the created product")
	flag.Int64Var(&cfg.count, "count", 1, "units per order")
	flag.BoolVar(&cfg.idempotent, "idempotent", true, "send a unique Idempotency-Key with each order")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	cfg.addr = strings.TrimRight(strings.TrimSpace(cfg.addr), "/")
	cfg.productID = strings.TrimSpace(cfg.productID)

	price, err := decimal.NewFromString(strings.TrimSpace(priceValue))
	if err != nil {
		return cfg, fmt.Errorf("parse price: %w", err)
	}
	cfg.price = price

	if cfg.addr == "" {
		return cfg, errors.New("addr is required")
	}
	if cfg.total <= 0 {
		return cfg, errors.New("total must be > 0")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.count <= 0 {
		return cfg, errors.New("count must be > 0")
	}
	if cfg.productID == "" && cfg.stock < 0 {
		return cfg, errors.New("stock must be >= 0")
	}
	if cfg.price.IsNegative() {
		return cfg, errors.New("price must be >= 0")
	}

	return cfg, nil
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client := newAPIClient(cfg.addr, &http.Client{Timeout: cfg.timeout})
	result, err := runLoad(context.Background(), client, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.Stock.Oversold || !result.Stock.Consistent || result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// runLoad размещает cfg.total заказов на один товар и сверяет итоговый остаток.
func runLoad(ctx context.Context, client *apiClient, cfg config) (report, error) {
	product, err := prepareProduct(ctx, client, cfg)
	if err != nil {
		return report{}, err
	}

	startedAt := time.Now()
	runID := uuid.NewString()
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				runScenario(ctx, client, cfg, product.ID, id, runID, col)
			}
		}()
	}

	for i := 0; i < cfg.total; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)

	final, err := client.getProduct(ctx, product.ID)
	if err != nil {
		return report{}, fmt.Errorf("read final stock: %w", err)
	}

	placed := col.countCode(methodPlaceOrder, "201")
	result.Stock = stockCheck{
		ProductID:    product.ID,
		InitialStock: product.Stock,
		FinalStock:   final.Stock,
		Placed:       placed,
		Rejected:     col.countCode(methodPlaceOrder, "409 "+reasonInsufficientStock),
		Flagged:      col.countCode(methodPlaceOrder, "500 "+reasonReconciliation),
		UnitsPerOrd:  cfg.count,
		Oversold:     final.Stock < 0 || placed*cfg.count > product.Stock,
		// Помеченные для сверки заказы остаток не уменьшают.
		Consistent: product.Stock-final.Stock == placed*cfg.count,
	}
	return result, nil
}

func prepareProduct(ctx context.Context, client *apiClient, cfg config) (productView, error) {
	if cfg.productID != "" {
		product, err := client.getProduct(ctx, cfg.productID)
		if err != nil {
			return productView{}, fmt.Errorf("read product %s: %w", cfg.productID, err)
		}
		return product, nil
	}

	product, err := client.createProduct(ctx, "load-"+uuid.NewString()[:8], cfg.price, cfg.stock)
	if err != nil {
		return productView{}, fmt.Errorf("create product: %w", err)
	}
	return product, nil
}

func runScenario(ctx context.Context, client *apiClient, cfg config, productID string, index int, runID string, col *collector) {
	scenarioStart := time.Now()

	key := ""
	if cfg.idempotent {
		key = fmt.Sprintf("lt-order-%s-%d", runID, index)
	}

	start := time.Now()
	status, reason, err := client.placeOrder(ctx, productID, cfg.count, key)
	code := outcomeCode(status, reason, err)
	col.record(methodPlaceOrder, time.Since(start), code, status == http.StatusCreated)

	// Отказ из-за нехватки остатка: ожидаемый исход, а не сбой сценария.
	ok := status == http.StatusCreated || (status == http.StatusConflict && reason == reasonInsufficientStock)
	col.record(methodScenario, time.Since(scenarioStart), code, ok)
}

func outcomeCode(status int, reason string, err error) string {
	if err != nil {
		return "transport_error"
	}
	if reason == "" {
		return strconv.Itoa(status)
	}
	return strconv.Itoa(status) + " " + reason
}

// apiClient: минимальный клиент HTTP API магазина.
type apiClient struct {
	baseURL string
	http    *http.Client
}

type productView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
	Stock int64  `json:"stock"`
}

type apiEnvelope struct {
	Code   int             `json:"code"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
	Reason string          `json:"reason"`
}

func newAPIClient(baseURL string, httpClient *http.Client) *apiClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &apiClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *apiClient) createProduct(ctx context.Context, name string, price decimal.Decimal, stock int64) (productView, error) {
	body := map[string]any{"name": name, "price": price, "stock": stock}
	status, env, err := c.do(ctx, http.MethodPost, "/product", body, nil)
	if err != nil {
		return productView{}, err
	}
	if status != http.StatusCreated {
		return productView{}, fmt.Errorf("unexpected status %d: %s", status, env.Msg)
	}
	return decodeProduct(env)
}

func (c *apiClient) getProduct(ctx context.Context, id string) (productView, error) {
	status, env, err := c.do(ctx, http.MethodGet, "/product/"+id, nil, nil)
	if err != nil {
		return productView{}, err
	}
	if status != http.StatusOK {
		return productView{}, fmt.Errorf("unexpected status %d: %s", status, env.Msg)
	}
	return decodeProduct(env)
}

// placeOrder возвращает HTTP-статус и reason ответа.
func (c *apiClient) placeOrder(ctx context.Context, productID string, count int64, idempotencyKey string) (int, string, error) {
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers[idempotencyHeader] = idempotencyKey
	}
	status, env, err := c.do(ctx, http.MethodPost, "/order", map[string]any{"productId": productID, "count": count}, headers)
	if err != nil {
		return 0, "", err
	}
	return status, env.Reason, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, headers map[string]string) (int, apiEnvelope, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, apiEnvelope{}, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, apiEnvelope{}, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, apiEnvelope{}, err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, apiEnvelope{}, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return resp.StatusCode, env, nil
}

func decodeProduct(env apiEnvelope) (productView, error) {
	var product productView
	if err := json.Unmarshal(env.Data, &product); err != nil {
		return productView{}, fmt.Errorf("decode product: %w", err)
	}
	if product.ID == "" {
		return productView{}, errors.New("response without product id")
	}
	return product, nil
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("addr=%s total=%d concurrency=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.addr,
		result.TotalScenarios,
		cfg.concurrency,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	if stats, ok := result.Methods[methodPlaceOrder]; ok {
		codes := make([]string, 0, len(stats.Codes))
		for code := range stats.Codes {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			fmt.Printf("%s %s: %d\n", methodPlaceOrder, code, stats.Codes[code])
		}
	}

	s := result.Stock
	fmt.Printf("stock: product=%s initial=%d final=%d placed=%d rejected=%d flagged=%d oversold=%t consistent=%t\n",
		s.ProductID, s.InitialStock, s.FinalStock, s.Placed, s.Rejected, s.Flagged, s.Oversold, s.Consistent)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
