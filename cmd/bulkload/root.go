package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/shardcore/bulkload/client/mysql"
	"github.com/shardcore/bulkload/config"
	"github.com/shardcore/bulkload/ingest"
	"github.com/shardcore/bulkload/logger"
	"github.com/shardcore/bulkload/reconnect"
)

var (
	cfgFile string
	log     logger.Logger = logger.StderrLogger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulkload",
		Short: "Partition-sharded bulk ingest into a stored-procedure backed table",
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(newLoadCmd())
	cmd.AddCommand(newStreamCmd())
	cmd.AddCommand(newDumpConfigCmd())
	return cmd
}

// newDumpConfigCmd prints the effective configuration (config file, env
// vars, and flags all merged by config.Load) as YAML, for diagnosing
// what a load/stream invocation will actually run with.
func newDumpConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump-config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if cfg.Verbose {
		log = logger.NewVerboseLogger(os.Stderr)
	}
	return cfg, nil
}

// columnsFromConfig converts the CLI's name:type column descriptors
// into the ingest package's typed ColumnInfo list.
func columnsFromConfig(cols []config.ColumnConfig) ([]ingest.ColumnInfo, error) {
	out := make([]ingest.ColumnInfo, len(cols))
	for i, c := range cols {
		t, err := parseColumnType(c.Type)
		if err != nil {
			return nil, err
		}
		out[i] = ingest.ColumnInfo{Name: c.Name, Type: t}
	}
	return out, nil
}

func parseColumnType(s string) (ingest.ColumnType, error) {
	switch s {
	case "bigint":
		return ingest.TypeBigInt, nil
	case "int":
		return ingest.TypeInt, nil
	case "float":
		return ingest.TypeFloat, nil
	case "string":
		return ingest.TypeString, nil
	case "bytes":
		return ingest.TypeBytes, nil
	default:
		return 0, errors.Errorf("unknown column type %q", s)
	}
}

// buildManager wires a MySQL client, the ingest manager, and a
// Prometheus metrics endpoint into one running set of collaborators,
// the way the load and stream commands both need it. If cfg.AutoReconnect
// is set it also constructs (but does not start) a reconnect.Watcher:
// starting it is the caller's job, since only the caller knows what
// context/errgroup the watcher's lifecycle should be tied to — see
// reconnect.RunGroup and its use in newStreamCmd.
func buildManager(cfg *config.Config) (*ingest.IngestManager, *reconnect.Watcher, func(), error) {
	mysqlClient, err := mysql.Open(cfg.MySQLDSN, 30*time.Second)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "connecting to mysql")
	}

	reg := prometheus.NewRegistry()
	manager := ingest.NewIngestManager(
		mysqlClient,
		ingest.WithAutoReconnect(cfg.AutoReconnect),
		ingest.WithLogger(log),
		ingest.WithRegisterer(reg),
	)

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("bulkload: metrics server exited: %v", err)
			}
		}()
	}

	var watcher *reconnect.Watcher
	if cfg.AutoReconnect {
		watcher = reconnect.NewWatcher(manager, mysqlClient, 5*time.Second, log)
	}

	cleanup := func() {
		if srv != nil {
			_ = srv.Close()
		}
		_ = mysqlClient.Close()
	}
	return manager, watcher, cleanup, nil
}

func printSummary(l *ingest.BulkLoader) {
	fmt.Printf("completed=%d failed=%d outstanding=%d\n", l.Completed(), l.Failed(), l.Outstanding())
}
