package repository

import (
	"context"

	"IndexPull/internal/domain/models"
	"IndexPull/internal/domain/repository"
	pkgkafka "IndexPull/pkg/kafka"
)

// KafkaPublisher implements Publisher for Kafka.
type KafkaPublisher struct {
	producer       *pkgkafka.Producer
	quoteTopic     string
	selectionTopic string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, quoteTopic, selectionTopic string) repository.Publisher {
	return &KafkaPublisher{
		producer:       producer,
		quoteTopic:     quoteTopic,
		selectionTopic: selectionTopic,
	}
}

func (p *KafkaPublisher) PublishQuotes(ctx context.Context, quotes []*models.QuoteRecord) error {
	if len(quotes) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, 0, len(quotes))
	for _, q := range quotes {
		if q == nil || q.Symbol == "" {
			continue
		}
		msgs = append(msgs, pkgkafka.Message{
			Key: []byte(q.Symbol),
			Value: map[string]interface{}{
				"date":       q.Date.Format("2006-01-02"),
				"symbol":     q.Symbol,
				"price":      q.Price,
				"market_cap": q.MarketCap,
				"volume":     q.Volume,
				"source":     q.Source,
			},
		})
	}
	return p.producer.PublishBatch(ctx, p.quoteTopic, msgs)
}

func (p *KafkaPublisher) PublishSelection(ctx context.Context, res *models.SelectionResult) error {
	if res == nil {
		return nil
	}
	return p.producer.Publish(ctx, p.selectionTopic, []byte(res.StartedAt.UTC().Format("2006-01-02")), res)
}

// PublishMessage satisfies the log-collector publisher so aggregated
// error logs flow through the same producer.
func (p *KafkaPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
