package publish

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"asmwatch/internal/config"
	"asmwatch/internal/model"
)

// Publisher pushes newly merged detections to a topic so downstream
// consumers (notification bots, dashboards) see additions without polling
// the catalog file.
type Publisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewKafka(cfg config.PublishConfig, logger *slog.Logger) *Publisher {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("detection publishing disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("detection publishing enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.Hash{},
		},
		logger: logger,
	}
}

// PublishDetections writes one message per detection, keyed by the dedup
// key so a topic compacted on key converges to the catalog.
func (p *Publisher) PublishDetections(ctx context.Context, detections []model.Detection) error {
	if p == nil || len(detections) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(detections))
	for _, d := range detections {
		value, err := json.Marshal(d.Feature())
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Key: []byte(d.Key()), Value: value})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		if p.logger != nil {
			p.logger.Warn("publish failed", "err", err, "count", len(msgs))
		}
		return err
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
