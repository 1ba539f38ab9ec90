// Package config loads bulkload's runtime configuration from a YAML
// file, environment variables, and command-line flags, in that order
// of increasing precedence, using the same spf13/viper + pflag stack
// the CLI commands bind their flags with.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	yaml "gopkg.in/yaml.v2"
)

// ColumnConfig describes one target-table column as it appears in the
// YAML config file or on the command line (NAME:TYPE).
type ColumnConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	Type string `mapstructure:"type" yaml:"type"`
}

// Config is the full set of knobs a bulkload command needs, independent
// of which ingest source (CSV file, Kafka topic) is feeding it.
type Config struct {
	Table                string         `mapstructure:"table" yaml:"table"`
	Columns              []ColumnConfig `mapstructure:"columns" yaml:"columns"`
	PartitionColumnIndex int            `mapstructure:"partition-column-index" yaml:"partition-column-index"`
	MultiPartition       bool           `mapstructure:"multi-partition" yaml:"multi-partition"`
	Partitions           int            `mapstructure:"partitions" yaml:"partitions"`
	ProcName             string         `mapstructure:"proc-name" yaml:"proc-name"`
	Upsert               bool           `mapstructure:"upsert" yaml:"upsert"`
	TriggerSize          int            `mapstructure:"trigger-size" yaml:"trigger-size"`
	AutoReconnect        bool           `mapstructure:"auto-reconnect" yaml:"auto-reconnect"`

	MySQLDSN string `mapstructure:"mysql-dsn" yaml:"mysql-dsn"`

	KafkaBrokers []string `mapstructure:"kafka-brokers" yaml:"kafka-brokers"`
	KafkaTopic   string   `mapstructure:"kafka-topic" yaml:"kafka-topic"`
	KafkaGroupID string   `mapstructure:"kafka-group-id" yaml:"kafka-group-id"`

	MetricsAddr string `mapstructure:"metrics-addr" yaml:"metrics-addr"`
	Verbose     bool   `mapstructure:"verbose" yaml:"verbose"`
}

// BindFlags registers every config field as a pflag on fs, so cobra
// commands can expose them with `cmd.Flags()`. It's the caller's job
// to pass fs to Load, which binds it to its viper instance via
// BindPFlags.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("table", "", "target table name")
	fs.StringSlice("columns", nil, "column descriptors as name:type (repeatable)")
	fs.Int("partition-column-index", 0, "index into --columns used as the partition key")
	fs.Bool("multi-partition", false, "treat the table as multi-partition (routes every row to one shared shard)")
	fs.Int("partitions", 1, "number of logical partitions for the table (ignored if --multi-partition)")
	fs.String("proc-name", "", "stored procedure to call for each batch")
	fs.Bool("upsert", false, "use upsert semantics instead of insert")
	fs.Int("trigger-size", 200, "rows buffered per partition before a batch is submitted")
	fs.Bool("auto-reconnect", true, "park and retry instead of failing a batch on connection loss")

	fs.String("mysql-dsn", "", "MySQL data source name")

	fs.StringSlice("kafka-brokers", nil, "Kafka broker addresses")
	fs.String("kafka-topic", "", "Kafka topic to stream from")
	fs.String("kafka-group-id", "bulkload", "Kafka consumer group id")

	fs.String("metrics-addr", ":9090", "address to serve Prometheus metrics on")
	fs.Bool("verbose", false, "enable debug logging")
}

// Load reads configFile (if non-empty), overlays BULKLOAD_-prefixed
// environment variables, then overlays any flags the caller set on fs,
// and unmarshals the result into a Config.
func Load(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("bulkload")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", configFile)
		}
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, errors.Wrap(err, "binding command-line flags")
		}
		if f := fs.Lookup("columns"); f != nil && f.Changed {
			raw, err := fs.GetStringSlice("columns")
			if err != nil {
				return nil, errors.Wrap(err, "reading --columns")
			}
			cols, err := ParseColumns(raw)
			if err != nil {
				return nil, err
			}
			v.Set("columns", cols)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshaling configuration")
	}
	return &cfg, nil
}

// YAML renders cfg the same way it would be written as a config file,
// for the CLI's dump-config subcommand: a human wants to see the effective
// configuration (flags, env vars, and file settings all merged) without
// having to reconstruct it by hand from three different sources.
func (cfg *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling configuration as yaml")
	}
	return out, nil
}

// ParseColumns turns "name:type" strings (as collected by the
// --columns flag) into ColumnConfig values.
func ParseColumns(raw []string) ([]ColumnConfig, error) {
	out := make([]ColumnConfig, 0, len(raw))
	for _, r := range raw {
		parts := strings.SplitN(r, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, errors.Errorf("invalid column descriptor %q, want name:type", r)
		}
		out = append(out, ColumnConfig{Name: parts[0], Type: parts[1]})
	}
	return out, nil
}
