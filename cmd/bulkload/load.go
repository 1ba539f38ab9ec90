package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shardcore/bulkload/client"
	"github.com/shardcore/bulkload/ingest"
	"github.com/shardcore/bulkload/reconnect"
)

// RowHandle is the handle attached to every row this command inserts.
// Line lets a failure message point back at the source file; ID is a
// stable correlation id safe to log or forward even if line numbers
// aren't meaningful downstream (e.g. a failure reported after a retry
// that makes the batch ordering unclear).
type RowHandle struct {
	Line int
	ID   uuid.UUID
}

func newLoadCmd() *cobra.Command {
	var csvPath string
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load rows from a CSV file into the target table",
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

			// load has no errgroup of its own the way stream does — it's
			// one synchronous pass over a file, not a set of cooperating
			// long-running components — so it gives the watcher a private
			// context scoped to the load instead of folding it into a
			// shared one. It's canceled once the load finishes, and its
			// error (unlike a bare `go func() { _ = watcher.Run(...) }()`)
			// is still surfaced through g.Wait() rather than discarded.
			watchCtx, cancelWatch := context.WithCancel(context.Background())
			var g errgroup.Group
			if watcher != nil {
				reconnect.RunGroup(watchCtx, &g, watcher)
			}

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
				cancelWatch()
				return errors.Wrap(err, "creating loader")
			}

			loadErr := loadCSV(loader, csvPath, len(columns))
			closeErr := loader.Close()
			cancelWatch()
			if werr := g.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
				log.Errorf("bulkload: reconnect watcher exited: %v", werr)
			}
			if loadErr != nil {
				return loadErr
			}
			if closeErr != nil {
				return errors.Wrap(closeErr, "closing loader")
			}
			printSummary(loader)
			return nil
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "path to the CSV file to load")
	return cmd
}

// loadCSV reads rows from path (one row per CSV record, columns must
// line up 1:1 with the loader's declared columns) and inserts each one
// with a RowHandle as the row handle.
func loadCSV(loader *ingest.BulkLoader, path string, numColumns int) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening csv file")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = numColumns

	lineNo := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "reading csv line %d", lineNo+1)
		}
		lineNo++

		values := make([]interface{}, len(record))
		for i, field := range record {
			values[i] = field
		}
		handle := RowHandle{Line: lineNo, ID: uuid.New()}
		if err := loader.Insert(handle, values); err != nil {
			return errors.Wrapf(err, "inserting csv line %d", lineNo)
		}
	}
	return nil
}
