// Package reconnect supplies the background watcher that notifies an
// IngestManager once a lost database connection comes back, unparking
// every shard worker that's waiting on it (spec §4.6/§5).
package reconnect

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	"github.com/shardcore/bulkload/client"
	"github.com/shardcore/bulkload/ingest"
	"github.com/shardcore/bulkload/logger"
)

// Notifier is the subset of *ingest.IngestManager the watcher needs,
// kept narrow so tests can supply a fake.
type Notifier interface {
	NotifyReconnected()
}

var _ Notifier = (*ingest.IngestManager)(nil)

// Watcher polls a client.Healther (or an HTTP health endpoint) on an
// interval and calls Notifier.NotifyReconnected the moment a prior
// unhealthy poll is followed by a healthy one — it never notifies on
// every healthy poll, only on the transition, so a steady-state
// healthy connection doesn't wake shards that were never parked.
type Watcher struct {
	notifier Notifier
	healther client.Healther
	interval time.Duration
	log      logger.Logger

	wasUnhealthy bool
}

// NewWatcher builds a watcher backed directly by a client.Healther
// (typically the same ProcedureClient the IngestManager submits
// through).
func NewWatcher(notifier Notifier, healther client.Healther, interval time.Duration, log logger.Logger) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = logger.NopLogger
	}
	return &Watcher{notifier: notifier, healther: healther, interval: interval, log: log}
}

// HTTPHealther adapts an HTTP health endpoint to client.Healther using
// a retrying HTTP client, for deployments where the database client
// itself doesn't expose liveness but a sidecar or proxy health check
// does.
type HTTPHealther struct {
	url    string
	client *retryablehttp.Client
}

// NewHTTPHealther builds a Healther that GETs url and treats any
// non-2xx response, or a request that exhausts retries, as unhealthy.
func NewHTTPHealther(url string, log logger.Logger) *HTTPHealther {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil
	if log != nil {
		rc.Logger = retryableHTTPLogAdapter{log}
	}
	return &HTTPHealther{url: url, client: rc}
}

func (h *HTTPHealther) Healthy() error {
	resp, err := h.client.Get(h.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpStatusError{code: resp.StatusCode}
	}
	return nil
}

type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string {
	return http.StatusText(e.code)
}

// retryableHTTPLogAdapter lets go-retryablehttp log through our
// logger.Logger interface instead of its own minimal Logger/LeveledLogger.
type retryableHTTPLogAdapter struct{ log logger.Logger }

func (a retryableHTTPLogAdapter) Printf(format string, v ...interface{}) {
	a.log.Debugf(format, v...)
}

// Run polls until ctx is canceled. It's meant to be launched as its
// own goroutine (or folded into an errgroup alongside other
// long-running components, as cmd/bulkload does for its stream
// subcommand).
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	err := w.healther.Healthy()
	if err != nil {
		if !w.wasUnhealthy {
			w.log.Warnf("bulkload: database connection unhealthy: %v", err)
		}
		w.wasUnhealthy = true
		return
	}
	if w.wasUnhealthy {
		w.log.Infof("bulkload: database connection restored, waking parked shard workers")
		w.notifier.NotifyReconnected()
	}
	w.wasUnhealthy = false
}

// RunGroup launches watcher.Run inside an errgroup.Group, for callers
// that are already composing several background components (the
// stream subcommand's Kafka consumer plus this watcher, for instance).
func RunGroup(ctx context.Context, g *errgroup.Group, w *Watcher) {
	g.Go(func() error {
		return w.Run(ctx)
	})
}
