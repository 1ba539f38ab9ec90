// Package mysql is a concrete client.ProcedureClient backed by
// database/sql and the go-sql-driver/mysql driver. It issues each
// batch as a single CALL to a stored procedure, with one positional
// placeholder per value across every row in the Batch plus the leading
// arguments the ingest package prepends (routing/table/upsert for
// single-partition calls, table/upsert for multi-partition calls).
package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/shardcore/bulkload/client"
	"github.com/shardcore/bulkload/ingest"
)

// Client adapts a *sql.DB to client.ProcedureClient. Each call builds
// its CALL statement text from the flattened argument count and runs
// it directly; statements are not prepared or cached.
type Client struct {
	db      *sql.DB
	timeout time.Duration
}

// Open opens a MySQL connection pool using dsn (see the mysql driver's
// DSN format) and wraps it as a client.ProcedureClient.
func Open(dsn string, timeout time.Duration) (*Client, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening mysql connection pool")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{db: db, timeout: timeout}, nil
}

var _ client.ProcedureClient = (*Client)(nil)
var _ client.Healther = (*Client)(nil)

// CallProcedure executes the CALL statement on a background goroutine
// so it never blocks the shard worker that invoked it, and reports the
// outcome through callback exactly once. It returns a non-nil error
// only if flattenArgs fails, which it currently never does, so every
// outcome (including connection loss) arrives through callback.
func (c *Client) CallProcedure(procName string, callback client.ResponseCallback, args ...interface{}) error {
	flat, err := flattenArgs(args)
	if err != nil {
		return err
	}

	placeholders := make([]string, len(flat))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	stmt := "CALL " + procName + "(" + strings.Join(placeholders, ", ") + ")"

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		_, err := c.db.ExecContext(ctx, stmt, flat...)
		callback(responseFor(err))
	}()
	return nil
}

// flattenArgs expands the ingest package's procedure argument
// convention — a routing parameter and table/upsert scalars followed
// by a *ingest.Batch — into one flat positional parameter list, one
// placeholder per value across every row in the batch.
func flattenArgs(args []interface{}) ([]interface{}, error) {
	var flat []interface{}
	for _, a := range args {
		batch, ok := a.(*ingest.Batch)
		if !ok {
			flat = append(flat, a)
			continue
		}
		for _, row := range batch.Values {
			flat = append(flat, row...)
		}
	}
	return flat, nil
}

// responseFor classifies a database/sql error into the ingest
// package's Status taxonomy. Connection-level failures (the pool can't
// reach the server at all) map to StatusConnectionLost so the ingest
// core's reconnect handling can engage; anything else is a user error
// reported straight through.
func responseFor(err error) client.Response {
	if err == nil {
		return client.Response{Status: client.StatusSuccess}
	}
	if isConnectionError(err) {
		return client.Response{Status: client.StatusConnectionLost, Message: err.Error()}
	}
	return client.Response{Status: client.StatusUserError, Message: err.Error()}
}

func isConnectionError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "driver: bad connection") ||
		strings.Contains(msg, "invalid connection") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe")
}

// Healthy pings the connection pool, backing the reconnect watcher.
func (c *Client) Healthy() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "mysql: health check failed")
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}
