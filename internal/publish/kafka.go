// Package publish emits ingested records to a Kafka change feed.
package publish

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sells-group/geo-catalog/internal/config"
	"github.com/sells-group/geo-catalog/internal/model"
)

// DefaultBatchSize caps the messages handed to one WriteMessages call.
const DefaultBatchSize = 500

// messageWriter is the subset of *kafkago.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes records to a Kafka topic, keyed by "SYSTEM/dataset_id".
// It implements ingest.Publisher.
type Writer struct {
	writer    messageWriter
	batchSize int
	log       *zap.Logger
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg config.PublishConfig, batchSize int) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return newWriter(w, batchSize)
}

func newWriter(w messageWriter, batchSize int) *Writer {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Writer{
		writer:    w,
		batchSize: batchSize,
		log:       zap.L().With(zap.String("component", "publish")),
	}
}

// Publish serializes records and writes them in batches. Keys hash to a
// stable partition so updates to a record stay ordered.
func (w *Writer) Publish(ctx context.Context, records []model.Record) error {
	for start := 0; start < len(records); start += w.batchSize {
		end := min(start+w.batchSize, len(records))
		msgs := make([]kafkago.Message, 0, end-start)
		for _, rec := range records[start:end] {
			msg, err := serializeToMessage(rec)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
			return eris.Wrapf(err, "publish: write batch at %d", start)
		}
	}
	if len(records) > 0 {
		w.log.Debug("records published", zap.Int("count", len(records)))
	}
	return nil
}

// Close flushes and closes the producer.
func (w *Writer) Close() error {
	return eris.Wrap(w.writer.Close(), "publish: close writer")
}

// serializeToMessage marshals a record into a Kafka message.
func serializeToMessage(rec model.Record) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, eris.Wrapf(err, "publish: serialize %s", rec.Key())
	}
	return kafkago.Message{
		Key:   []byte(rec.Key().String()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "system_name", Value: []byte(rec.SystemName)},
		},
	}, nil
}
