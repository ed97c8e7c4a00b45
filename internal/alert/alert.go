// Package alert publishes risk level transitions.
package alert

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ppiankov/vigia/internal/model"
)

// Publisher receives every transition detected by a resweep
type Publisher interface {
	Publish(ctx context.Context, t model.Transition) error
	Close() error
}

// LogPublisher writes transitions to the structured log
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, t model.Transition) error {
	from := string(t.From)
	if from == "" {
		from = "NEW"
	}
	p.logger.Info("risk level changed",
		"rfc", t.TaxpayerID,
		"from", from,
		"to", string(t.To),
		"score", t.Score,
		"cycle_id", t.CycleID)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Multi fans a transition out to every publisher
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, t model.Transition) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New builds the configured publishers: always the log, plus Kafka when
// brokers are set
func New(cfg model.AlertConfig, logger *slog.Logger) (Publisher, error) {
	pubs := Multi{NewLogPublisher(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		k, err := NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, k)
	}
	return pubs, nil
}
