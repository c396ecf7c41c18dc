package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Protocol
	Nodes         int `yaml:"nodes"`
	InitialHolder int `yaml:"initial_holder"`

	// Surfaces. An empty address disables the listener.
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`

	// Trace sinks. An empty path disables the sink.
	TraceFile   string `yaml:"trace_file"`
	ArchivePath string `yaml:"archive_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// VerifyInvariants re-checks the safety invariants after every mutating
	// call and logs violations.
	VerifyInvariants bool `yaml:"verify_invariants"`
}

func Default() Config {
	return Config{
		Nodes:         3,
		InitialHolder: 0,
		GRPCAddr:      ":50051",
		HTTPAddr:      ":8080",
		TraceFile:     "trace_log.jsonl",
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Load reads a YAML file on top of Default. Fields missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Nodes < 2 {
		return errors.Errorf("nodes must be at least 2, got %d", c.Nodes)
	}
	if c.InitialHolder < 0 || c.InitialHolder >= c.Nodes {
		return errors.Errorf("initial_holder must be in [0, %d), got %d", c.Nodes, c.InitialHolder)
	}
	if c.GRPCAddr == "" && c.HTTPAddr == "" {
		return errors.New("at least one of grpc_addr and http_addr must be set")
	}
	return nil
}
