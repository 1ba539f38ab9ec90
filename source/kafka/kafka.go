// Package kafka streams records from a Kafka topic into a BulkLoader,
// one of the "ingest sources" SPEC_FULL.md's domain stack section
// calls for alongside the CSV-driven load command.
package kafka

import (
	"context"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/shardcore/bulkload/ingest"
	"github.com/shardcore/bulkload/logger"
)

// RecordDecoder turns one Kafka message into a row handle and column
// values. Decoding is the caller's concern — this package only owns
// reading the topic and feeding whatever comes out to a BulkLoader.
type RecordDecoder func(msg kafka.Message) (handle interface{}, values []interface{}, err error)

// Consumer reads a Kafka topic and inserts every decoded record into a
// loader, committing offsets as it goes.
type Consumer struct {
	reader *kafka.Reader
	loader *ingest.BulkLoader
	decode RecordDecoder
	log    logger.Logger
}

// Config configures a Consumer.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
	Loader  *ingest.BulkLoader
	Decode  RecordDecoder
	Logger  logger.Logger
}

// New builds a Consumer from cfg.
func New(cfg Config) (*Consumer, error) {
	if cfg.Loader == nil {
		return nil, errors.New("kafka: Loader is required")
	}
	if cfg.Decode == nil {
		return nil, errors.New("kafka: Decode is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NopLogger
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
	return &Consumer{reader: reader, loader: cfg.Loader, decode: cfg.Decode, log: log}, nil
}

// Run reads messages until ctx is canceled or the reader returns a
// fatal error. Malformed messages are logged and skipped rather than
// aborting the whole stream; per-row success/failure still flows
// through the loader's own callbacks once the message is accepted.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "kafka: fetching message")
		}

		handle, values, err := c.decode(msg)
		if err != nil {
			c.log.Warnf("kafka: dropping malformed message at offset %d: %v", msg.Offset, err)
			continue
		}

		if err := c.loader.Insert(handle, values); err != nil {
			c.log.Errorf("kafka: insert failed at offset %d: %v", msg.Offset, err)
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Errorf("kafka: commit failed at offset %d: %v", msg.Offset, err)
		}
	}
}

// Close releases the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
