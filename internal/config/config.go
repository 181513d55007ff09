// Package config defines the bridge's CLI surface, parsed with
// github.com/jessevdk/go-flags the way the rest of the estuary-flow tree
// configures its binaries.
package config

import (
	"fmt"
	"strings"

	"github.com/jessevdk/go-flags"
)

// OutputFormat selects the wire encoding: avro (needs a schema registry)
// or json (raw passthrough).
type OutputFormat string

const (
	FormatAvro OutputFormat = "avro"
	FormatJSON OutputFormat = "json"
)

// OnError selects the process-wide error policy.
type OnError string

const (
	OnErrorExit OnError = "exit"
	OnErrorLog  OnError = "log"
)

// PropsFlag accumulates repeated "-C PROP=VAL" / "-T PROP=VAL" occurrences
// into a map. go-flags' native map flag type splits on ":", which collides
// with values like paths or URLs; implementing flags.Unmarshaler lets each
// occurrence be split on "=" instead, matching the CLI's documented syntax.
type PropsFlag map[string]string

func (p *PropsFlag) UnmarshalFlag(value string) error {
	k, v, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("config: expected PROP=VAL, got %q", value)
	}
	if *p == nil {
		*p = make(PropsFlag)
	}
	(*p)[k] = v
	return nil
}

// Config is the top-level configuration object, populated by ParseArgs,
// with flags grouped by concern.
type Config struct {
	Postgres struct {
		URI string `long:"postgres" short:"d" required:"true" env:"BRIDGE_POSTGRES_URI" description:"PostgreSQL connection URI"`
	} `group:"PostgreSQL"`

	Replication struct {
		Slot         string `long:"slot" short:"s" default:"bottledwater" description:"Replication slot name"`
		SkipSnapshot bool   `long:"skip-snapshot" short:"x" description:"Skip the initial snapshot if the slot is newly created"`
		AllowUnkeyed bool   `long:"allow-unkeyed" short:"u" description:"Permit tables without a primary key (updates/deletes on such tables are dropped)"`
	} `group:"Replication"`

	Kafka struct {
		Brokers     string     `long:"broker" short:"b" default:"localhost:9092" description:"Kafka broker list"`
		TopicPrefix string     `long:"topic-prefix" short:"p" description:"Prepended to every topic name"`
		KafkaConfig PropsFlag  `long:"kafka-config" short:"C" description:"Kafka client property PROP=VAL, repeatable"`
		TopicConfig PropsFlag  `long:"topic-config" short:"T" description:"Kafka topic property PROP=VAL, repeatable"`
	} `group:"Kafka"`

	Output struct {
		Format          OutputFormat `long:"output-format" short:"f" default:"avro" choice:"avro" choice:"json" description:"Wire format: avro or json"`
		SchemaRegistry  string       `long:"schema-registry" short:"r" default:"http://localhost:8081" description:"Schema registry base URL (avro only)"`
	} `group:"Output"`

	Errors struct {
		OnError OnError `long:"on-error" short:"e" default:"exit" choice:"log" choice:"exit" description:"Error policy: log or exit"`
	} `group:"Error handling"`

	Debug struct {
		TraceFile string `long:"debug-trace-file" description:"Optional file to record every row event (including old values on updates) for local debugging"`
	} `group:"Debug"`

	Metrics struct {
		Addr string `long:"metrics-addr" default:":9102" description:"Address to serve Prometheus /metrics on"`
	} `group:"Metrics"`

	ConfigHelp bool `long:"config-help" description:"Print extended configuration help and exit"`
}

// Validate enforces the cross-field rule the flag parser can't express on
// its own: --schema-registry is meaningless, and an error, when combined
// with --output-format=json. schemaRegistrySet is whether --schema-registry
// was explicitly passed (as opposed to merely holding its default value).
func (c *Config) Validate(schemaRegistrySet bool) error {
	if c.Output.Format == FormatJSON && schemaRegistrySet {
		return fmt.Errorf("config: --schema-registry may not be combined with --output-format=json")
	}
	if strings.TrimSpace(c.Postgres.URI) == "" {
		return fmt.Errorf("config: --postgres is required")
	}
	return nil
}

// ParseArgs parses argv (normally os.Args[1:]) into a Config.
func ParseArgs(argv []string) (*Config, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)

	extra, err := parser.ParseArgs(argv)
	if err != nil {
		// --config-help is meant to print help and exit without requiring
		// the rest of the flags (--postgres chief among them); go-flags
		// still populates fields as it scans argv before failing the
		// required-option check at the end, so cfg.ConfigHelp is already
		// set here if the flag was passed.
		if cfg.ConfigHelp {
			return &cfg, nil
		}
		return nil, err
	}
	if len(extra) > 0 {
		return nil, fmt.Errorf("config: unexpected positional arguments: %v", extra)
	}

	var schemaRegistrySet bool
	if opt := parser.FindOptionByLongName("schema-registry"); opt != nil {
		schemaRegistrySet = opt.IsSet()
	}

	if err := cfg.Validate(schemaRegistrySet); err != nil {
		return nil, err
	}
	return &cfg, nil
}
