package export

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/davin77/binotrade/pkg/models"
)

// KafkaWriter abstracts the Kafka producer.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewBarWriter builds a production-tuned writer for the closed-bar topic.
func NewBarWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}
}

// BarExporter publishes every closed bar to Kafka, keyed by symbol so one
// symbol's bars stay in one partition. Open-bar mutations and ticks are not
// exported.
type BarExporter struct {
	writer KafkaWriter
	logger *zap.Logger
	bars   chan models.BarEvent
	done   chan struct{}
}

func NewBarExporter(writer KafkaWriter, logger *zap.Logger) *BarExporter {
	e := &BarExporter{
		writer: writer,
		logger: logger,
		bars:   make(chan models.BarEvent, 256),
		done:   make(chan struct{}),
	}
	go e.worker()
	return e
}

// OnTick is a no-op; tick flow goes to Redis.
func (e *BarExporter) OnTick(models.Tick) {}

// OnBar queues closed bars for export.
func (e *BarExporter) OnBar(event models.BarEvent) {
	if !event.Closed {
		return
	}
	select {
	case e.bars <- event:
	default:
		e.logger.Warn("kafka exporter backlog full, bar dropped",
			zap.String("symbol", event.Symbol), zap.Int64("period", event.Period))
	}
}

// OnConnection is a no-op.
func (e *BarExporter) OnConnection(bool) {}

func (e *BarExporter) worker() {
	ctx := context.Background()
	for {
		select {
		case <-e.done:
			return
		case event := <-e.bars:
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			msg := kafka.Message{
				Key:   []byte(event.Symbol),
				Value: payload,
			}
			if err := e.writer.WriteMessages(ctx, msg); err != nil {
				e.logger.Error("kafka write failed",
					zap.String("symbol", event.Symbol), zap.Error(err))
			}
		}
	}
}

// Close stops the worker and the underlying writer.
func (e *BarExporter) Close() error {
	close(e.done)
	return e.writer.Close()
}
