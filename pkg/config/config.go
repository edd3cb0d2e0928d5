package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Transport backends.
const (
	TransportRFCOMM = "rfcomm"
	TransportBlueZ  = "bluez"
	TransportMemory = "memory"
)

// Config holds application configuration
type Config struct {
	LogLevel       logrus.Level  `yaml:"log_level" json:"log_level"`
	Transport      string        `yaml:"transport" json:"transport" default:"rfcomm"`
	Adapter        string        `yaml:"adapter" json:"adapter" default:"hci0"`
	RFCOMMChannel  uint8         `yaml:"rfcomm_channel" json:"rfcomm_channel" default:"1"`
	PollInterval   time.Duration `yaml:"poll_interval" json:"poll_interval" default:"50ms"`
	ReadBufferSize int           `yaml:"read_buffer_size" json:"read_buffer_size" default:"1024"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	ConnectWait    time.Duration `yaml:"connect_wait" json:"connect_wait" default:"30s"`
	PTYQueueSize   int           `yaml:"pty_queue_size" json:"pty_queue_size" default:"4096"`
	TTYSymlink     string        `yaml:"tty_symlink" json:"tty_symlink"`
	OutputFormat   string        `yaml:"output_format" json:"output_format" default:"table"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{LogLevel: logrus.InfoLevel}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. Unknown keys are an error.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads YAML from r over the defaults and validates the result.
func Decode(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	switch c.Transport {
	case TransportRFCOMM, TransportBlueZ, TransportMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q (want %s, %s or %s)",
			c.Transport, TransportRFCOMM, TransportBlueZ, TransportMemory))
	}
	if c.RFCOMMChannel < 1 || c.RFCOMMChannel > 30 {
		errs = append(errs, fmt.Errorf("rfcomm_channel %d out of range 1-30", c.RFCOMMChannel))
	}
	if c.ReadBufferSize <= 0 {
		errs = append(errs, errors.New("read_buffer_size must be positive"))
	}
	if c.PTYQueueSize <= 0 {
		errs = append(errs, errors.New("pty_queue_size must be positive"))
	}
	if c.ScanTimeout < 0 || c.ConnectWait < 0 || c.PollInterval < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown output format %q (want table or json)", c.OutputFormat))
	}
	return errors.Join(errs...)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
