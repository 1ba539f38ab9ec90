package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shardcore/bulkload/client"
	"github.com/shardcore/bulkload/ingest"
	"github.com/shardcore/bulkload/reconnect"
	"github.com/shardcore/bulkload/source/kafka"
)

func newStreamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Continuously load rows from a Kafka topic into the target table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			columns, err := columnsFromConfig(cfg.Columns)
			if err != nil {
				return err
			}

			manager, watcher, cleanup, err := buildManager(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			loader, err := ingest.NewBulkLoader(manager, ingest.LoaderConfig{
				Table:                cfg.Table,
				Columns:              columns,
				MultiPartition:       cfg.MultiPartition,
				PartitionColumnIndex: cfg.PartitionColumnIndex,
				Partitions:           cfg.Partitions,
				ProcName:             cfg.ProcName,
				Upsert:               cfg.Upsert,
				TriggerSize:          cfg.TriggerSize,
				FailureCallback: func(handle interface{}, values []interface{}, resp client.Response) {
					log.Warnf("bulkload: row %v failed: %s", handle, resp.Error())
				},
			})
			if err != nil {
				return errors.Wrap(err, "creating loader")
			}
			defer loader.Close()

			consumer, err := kafka.New(kafka.Config{
				Brokers: cfg.KafkaBrokers,
				Topic:   cfg.KafkaTopic,
				GroupID: cfg.KafkaGroupID,
				Loader:  loader,
				Decode:  jsonArrayDecoder(len(columns)),
				Logger:  log,
			})
			if err != nil {
				return errors.Wrap(err, "creating kafka consumer")
			}
			defer consumer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			if watcher != nil {
				reconnect.RunGroup(gctx, g, watcher)
			}
			g.Go(func() error {
				return consumer.Run(gctx)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			printSummary(loader)
			return nil
		},
	}
	return cmd
}

// jsonArrayDecoder decodes each Kafka message value as a JSON array of
// exactly numColumns elements, using the message's partition+offset as
// the row handle.
func jsonArrayDecoder(numColumns int) kafka.RecordDecoder {
	return func(msg kafkago.Message) (interface{}, []interface{}, error) {
		var values []interface{}
		if err := json.Unmarshal(msg.Value, &values); err != nil {
			return nil, nil, errors.Wrap(err, "decoding json array")
		}
		if len(values) != numColumns {
			return nil, nil, errors.Errorf("expected %d columns, got %d", numColumns, len(values))
		}
		handle := struct {
			Partition int
			Offset    int64
		}{msg.Partition, msg.Offset}
		return handle, values, nil
	}
}
