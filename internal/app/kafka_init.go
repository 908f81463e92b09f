package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shop/internal/version"
)

// initKafkaProducer создаёт producer, если заданы брокеры.
// Пустой список: не ошибка: сервис работает без публикации событий.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	brokers = cleanList(brokers)
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, version.ClientID("shop"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initReconciliationConsumer подписывает обработчик сверки на топик событий заказов.
// Необработанные сообщения уходят в DLQ через общий producer.
func initReconciliationConsumer(cfg Config, handler kafka.MessageHandler, dlq *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.ReconciliationGroup, []string{cfg.KafkaTopic}, handler, kafka.ConsumerOptions{
		MaxRetries:   cfg.ReconciliationMaxRetries,
		RetryBackoff: cfg.ReconciliationBackoff,
		DLQProducer:  dlq,
		DLQTopic:     cfg.KafkaDLQTopic,
	})
	if err != nil {
		return nil, err
	}
	logger.WithFields(log.Fields{
		"group": cfg.ReconciliationGroup,
		"topic": cfg.KafkaTopic,
	}).Info("reconciliation consumer initialized")
	return consumer, nil
}

// closeKafka закрывает producer, если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
