package app

import (
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/service/catalog"
	"github.com/vladislavdragonenkov/shop/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/shop/internal/service/reconciliation"
)

// services: прикладные сервисы поверх выбранного хранилища.
type services struct {
	fulfillment    *fulfillment.Service
	catalog        *catalog.Service
	reconciliation *reconciliation.Handler
}

// createServices собирает сервисы. registerer == nil: метрики в DefaultRegisterer.
func createServices(cfg Config, deps *runtimeDependencies, registerer prometheus.Registerer, logger *log.Entry) *services {
	fulfillmentSvc := fulfillment.NewService(
		deps.productRepo,
		deps.orderRepo,
		deps.outboxRepo,
		fulfillment.WithConfig(cfg.FulfillmentConfig()),
		fulfillment.WithLogger(logger.WithField("component", "fulfillment")),
		fulfillment.WithMetrics(metrics.NewFulfillmentMetricsWithRegisterer(registerer)),
	)

	return &services{
		fulfillment: fulfillmentSvc,
		catalog:     catalog.NewService(deps.productRepo, cfg.RepositoryTimeout, logger.WithField("component", "catalog")),
		reconciliation: reconciliation.NewHandler(
			fulfillmentSvc,
			deps.idempotencyRepo,
			cfg.IdempotencyTTL,
			logger.WithField("component", "reconciliation"),
		),
	}
}
