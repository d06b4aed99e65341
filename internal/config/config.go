package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/alarm-processor/internal/logger"
)

// Config holds the settings of one alarm-processor instance.
type Config struct {
	// HTTPAddress is where the intake/query API and metrics are served.
	HTTPAddress string `yaml:"http_address"`
	// GRPCAddress is where the gRPC health service listens. Empty disables it.
	GRPCAddress string `yaml:"grpc_address"`
	// DataDir holds the journal database.
	DataDir string `yaml:"data_dir"`
	// Partitions is the number of per-alarm workers.
	Partitions int `yaml:"partitions"`
	// ExpirationInterval is the period of the override expiration sweep.
	ExpirationInterval time.Duration `yaml:"expiration_interval"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFile switches logging to a rotated file when set.
	LogFile string `yaml:"log_file"`
	// AppName is written into the producer header of every journal record.
	AppName string `yaml:"app_name"`
}

const (
	// DefaultConfigFilename is used when no config path is given.
	DefaultConfigFilename = "alarm-processor.yaml"

	// DefaultDataDir is the default journal location.
	DefaultDataDir = "alarm-processor-data"

	// DefaultHTTPAddress is the default intake API address.
	DefaultHTTPAddress = ":8080"

	// DefaultExpirationInterval is the default expiration sweep period.
	DefaultExpirationInterval = time.Second

	// DefaultTimeout bounds client calls such as the health check.
	DefaultTimeout = 5 * time.Second

	// DefaultAppName identifies records written by this binary.
	DefaultAppName = "alarm-processor"

	// DefaultFilePermissions is used for the saved config file.
	DefaultFilePermissions = 0o600
)

var (
	errConfigIsNotSet      = errors.New("configuration is not set")
	errNegativePartitions  = errors.New("partitions must not be negative")
	errNegativeExpiration  = errors.New("expiration interval must not be negative")
	errUnknownLogLevel     = errors.New("unknown log level")
	errHTTPAddressRequired = errors.New("http address must be provided")
)

// Default returns a configuration with every default filled in.
func Default() *Config {
	cfg := new(Config)
	_ = Validate(cfg)

	return cfg
}

// Load reads the YAML file at path and validates it.
// A missing file at the default path yields the default configuration.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultConfigFilename {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save validates cfg and writes it to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks cfg and fills unset fields with defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.Partitions < 0 {
		return errNegativePartitions
	}

	if cfg.Partitions == 0 {
		cfg.Partitions = runtime.NumCPU()
	}

	if cfg.ExpirationInterval < 0 {
		return errNegativeExpiration
	}

	if cfg.ExpirationInterval == 0 {
		cfg.ExpirationInterval = DefaultExpirationInterval
	}

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}

	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}

	if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%w: %q", errUnknownLogLevel, cfg.LogLevel)
	}

	if cfg.HTTPAddress == "" {
		cfg.HTTPAddress = DefaultHTTPAddress
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.HTTPAddress); err != nil {
		return fmt.Errorf("invalid http address: %w", err)
	}

	if cfg.GRPCAddress == "" {
		return nil
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.GRPCAddress); err != nil {
		return fmt.Errorf("invalid grpc address: %w", err)
	}

	return nil
}
