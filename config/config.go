package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/lechuhuuha/event_relay/internal/broker"
	"github.com/lechuhuuha/event_relay/util"
)

// CLIConfig captures CLI-provided overrides for starting the server.
// Empty values leave the file and environment settings untouched.
type CLIConfig struct {
	ConfigPath string
	GRPCAddr   string
	HTTPAddr   string
	LogLevel   string
	LogFormat  string
	Brokers    []string
	Topic      string
}

// BindFlags registers the serve flags on fs and returns the struct they fill.
func BindFlags(fs *pflag.FlagSet) *CLIConfig {
	cli := &CLIConfig{}
	fs.StringVar(&cli.ConfigPath, "config", "", "Path to YAML config file (optional)")
	fs.StringVar(&cli.GRPCAddr, "grpc-addr", "", "gRPC listen address (optional override)")
	fs.StringVar(&cli.HTTPAddr, "http-addr", "", "HTTP listen address for health and metrics (optional override)")
	fs.StringVar(&cli.LogLevel, "log-level", "", "Log level: debug, info, warn, error (optional override)")
	fs.StringVar(&cli.LogFormat, "log-format", "", "Log format: json or console (optional override)")
	fs.StringSliceVar(&cli.Brokers, "brokers", nil, "Kafka bootstrap brokers host:port (optional override)")
	fs.StringVar(&cli.Topic, "topic", "", "Kafka topic (optional override)")
	return cli
}

// Config models the YAML configuration file.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Broker     BrokerSettings   `yaml:"broker"`
	Log        LogConfig        `yaml:"log"`
	DeadLetter DeadLetterConfig `yaml:"deadLetter"`
}

// ServerConfig contains listener settings.
type ServerConfig struct {
	GRPCAddr        string        `yaml:"grpcAddr"`
	HTTPAddr        string        `yaml:"httpAddr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	MaxPayloadBytes int           `yaml:"maxPayloadBytes"`
}

// BrokerSettings captures Kafka producer configuration.
type BrokerSettings struct {
	Brokers             []string      `yaml:"brokers"`
	Topic               string        `yaml:"topic"`
	ClientID            string        `yaml:"clientID"`
	BatchTimeout        time.Duration `yaml:"batchTimeout"`
	BatchSize           int           `yaml:"batchSize"`
	BatchBytes          int64         `yaml:"batchBytes"`
	ReconnectBackoff    time.Duration `yaml:"reconnectBackoff"`
	ReconnectBackoffMax time.Duration `yaml:"reconnectBackoffMax"`
	MaxRetries          *int          `yaml:"maxRetries"`
	MaxBufferedMessages int           `yaml:"maxBufferedMessages"`
	RequireAllAcks      *bool         `yaml:"requireAllAcks"`
	Compression         string        `yaml:"compression"`
	DialTimeout         time.Duration `yaml:"dialTimeout"`
	InitTimeout         time.Duration `yaml:"initTimeout"`
	PublishTimeout      time.Duration `yaml:"publishTimeout"`
	AutoCreateTopic     bool          `yaml:"autoCreateTopic"`
	QueueFullRetryDelay time.Duration `yaml:"queueFullRetryDelay"`
}

// LogConfig selects the log level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DeadLetterConfig configures the rejected-event archive.
type DeadLetterConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queueSize"`
	MaxRetries   int           `yaml:"maxRetries"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MinIO        MinIOConfig   `yaml:"minio"`
}

// MinIOConfig contains MinIO connection settings.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	Prefix    string `yaml:"prefix"`
}

const (
	defaultShutdownTimeout     = 15 * time.Second
	defaultMaxPayloadBytes     = 1 << 20
	defaultClientID            = "event-relay"
	defaultBatchTimeout        = 5 * time.Millisecond
	defaultBatchSize           = 100
	defaultBatchBytes          = 1 << 20
	defaultReconnectBackoff    = time.Second
	defaultReconnectBackoffMax = 10 * time.Second
	defaultMaxRetries          = 5
	defaultMaxBuffered         = 100000
	defaultDialTimeout         = 5 * time.Second
	defaultInitTimeout         = 10 * time.Second
	defaultPublishTimeout      = time.Second
	defaultQueueFullRetryDelay = 5 * time.Millisecond
	defaultDeadLetterWorkers   = 2
	defaultDeadLetterQueue     = 1000
	defaultDeadLetterRetries   = 3
	defaultDeadLetterBackoff   = 200 * time.Millisecond
	defaultDeadLetterTimeout   = 10 * time.Second
)

// Load parses a YAML configuration file from disk. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Resolve layers file, environment and CLI settings and validates the result.
func Resolve(cli CLIConfig) (*Config, error) {
	cfg, err := Load(cli.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	cfg.ApplyCLI(cli)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Server.GRPCAddr) == "" {
		c.Server.GRPCAddr = util.DefaultGRPCAddr
	}
	if strings.TrimSpace(c.Server.HTTPAddr) == "" {
		c.Server.HTTPAddr = util.DefaultHTTPAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Server.MaxPayloadBytes == 0 {
		c.Server.MaxPayloadBytes = defaultMaxPayloadBytes
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = util.DefaultLogLevel
	}
	if strings.TrimSpace(c.Log.Format) == "" {
		c.Log.Format = util.DefaultLogFormat
	}
	c.Broker.applyDefaults()
	c.DeadLetter.applyDefaults()
}

func (b *BrokerSettings) applyDefaults() {
	b.Brokers = trimList(b.Brokers)
	if len(b.Brokers) == 0 {
		b.Brokers = util.SplitList(util.DefaultKafkaBrokers)
	}
	if strings.TrimSpace(b.Topic) == "" {
		b.Topic = util.DefaultKafkaTopic
	}
	if strings.TrimSpace(b.ClientID) == "" {
		b.ClientID = defaultClientID
	}
	if b.BatchTimeout == 0 {
		b.BatchTimeout = defaultBatchTimeout
	}
	if b.BatchSize == 0 {
		b.BatchSize = defaultBatchSize
	}
	if b.BatchBytes == 0 {
		b.BatchBytes = defaultBatchBytes
	}
	if b.ReconnectBackoff == 0 {
		b.ReconnectBackoff = defaultReconnectBackoff
	}
	if b.ReconnectBackoffMax == 0 {
		b.ReconnectBackoffMax = defaultReconnectBackoffMax
	}
	if b.MaxRetries == nil {
		n := defaultMaxRetries
		b.MaxRetries = &n
	}
	if b.MaxBufferedMessages == 0 {
		b.MaxBufferedMessages = defaultMaxBuffered
	}
	if b.RequireAllAcks == nil {
		all := true
		b.RequireAllAcks = &all
	}
	if strings.TrimSpace(b.Compression) == "" {
		b.Compression = "none"
	}
	if b.DialTimeout == 0 {
		b.DialTimeout = defaultDialTimeout
	}
	if b.InitTimeout == 0 {
		b.InitTimeout = defaultInitTimeout
	}
	if b.PublishTimeout == 0 {
		b.PublishTimeout = defaultPublishTimeout
	}
	if b.QueueFullRetryDelay == 0 {
		b.QueueFullRetryDelay = defaultQueueFullRetryDelay
	}
}

func (d *DeadLetterConfig) applyDefaults() {
	if d.Workers == 0 {
		d.Workers = defaultDeadLetterWorkers
	}
	if d.QueueSize == 0 {
		d.QueueSize = defaultDeadLetterQueue
	}
	if d.MaxRetries == 0 {
		d.MaxRetries = defaultDeadLetterRetries
	}
	if d.RetryBackoff == 0 {
		d.RetryBackoff = defaultDeadLetterBackoff
	}
	if d.WriteTimeout == 0 {
		d.WriteTimeout = defaultDeadLetterTimeout
	}
	if strings.TrimSpace(d.MinIO.Prefix) == "" {
		d.MinIO.Prefix = util.DefaultArchivePrefix
	}
}

// ApplyEnv overrides settings from the process environment.
func (c *Config) ApplyEnv() {
	c.Broker.Brokers = util.GetListEnv(util.KafkaBrokers, c.Broker.Brokers)
	c.Broker.Topic = util.GetEnv(util.KafkaTopic, c.Broker.Topic)
	c.Server.GRPCAddr = util.GetEnv(util.GRPCAddr, c.Server.GRPCAddr)
	c.Server.HTTPAddr = util.GetEnv(util.HTTPAddr, c.Server.HTTPAddr)
	c.Log.Level = util.GetEnv(util.LogLevel, c.Log.Level)
	c.Log.Format = util.GetEnv(util.LogFormat, c.Log.Format)
	c.Broker.InitTimeout = util.GetDurationEnv(util.BrokerInitTimeout, c.Broker.InitTimeout)
	c.Broker.PublishTimeout = util.GetDurationEnv(util.KafkaPublishTimeout, c.Broker.PublishTimeout)
	c.Broker.MaxBufferedMessages = util.GetIntEnv(util.KafkaMaxBuffered, c.Broker.MaxBufferedMessages)
	c.Server.MaxPayloadBytes = util.GetIntEnv(util.MaxPayloadBytes, c.Server.MaxPayloadBytes)
}

// ApplyCLI overrides settings with non-empty CLI values.
func (c *Config) ApplyCLI(cli CLIConfig) {
	if v := strings.TrimSpace(cli.GRPCAddr); v != "" {
		c.Server.GRPCAddr = v
	}
	if v := strings.TrimSpace(cli.HTTPAddr); v != "" {
		c.Server.HTTPAddr = v
	}
	if v := strings.TrimSpace(cli.LogLevel); v != "" {
		c.Log.Level = v
	}
	if v := strings.TrimSpace(cli.LogFormat); v != "" {
		c.Log.Format = v
	}
	if brokers := trimList(cli.Brokers); len(brokers) > 0 {
		c.Broker.Brokers = brokers
	}
	if v := strings.TrimSpace(cli.Topic); v != "" {
		c.Broker.Topic = v
	}
}

// BrokerConfig converts the broker settings into a session config.
func (c *Config) BrokerConfig() broker.Config {
	b := c.Broker
	cfg := broker.Config{
		Brokers:             append([]string(nil), b.Brokers...),
		Topic:               b.Topic,
		ClientID:            b.ClientID,
		BatchTimeout:        b.BatchTimeout,
		BatchSize:           b.BatchSize,
		BatchBytes:          b.BatchBytes,
		ReconnectBackoff:    b.ReconnectBackoff,
		ReconnectBackoffMax: b.ReconnectBackoffMax,
		MaxBufferedMessages: b.MaxBufferedMessages,
		Compression:         b.Compression,
		DialTimeout:         b.DialTimeout,
		PublishTimeout:      b.PublishTimeout,
		AutoCreateTopic:     b.AutoCreateTopic,
	}
	if b.MaxRetries != nil {
		cfg.MaxRetries = *b.MaxRetries
	}
	if b.RequireAllAcks != nil {
		cfg.RequireAllAcks = *b.RequireAllAcks
	}
	return cfg
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if err := c.BrokerConfig().Validate(); err != nil {
		return err
	}
	var errs []error
	if strings.TrimSpace(c.Server.GRPCAddr) == "" {
		errs = append(errs, errors.New("server.grpcAddr is required"))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdownTimeout must not be negative"))
	}
	if c.Server.MaxPayloadBytes < 0 {
		errs = append(errs, errors.New("server.maxPayloadBytes must not be negative"))
	}
	if c.Broker.InitTimeout < 0 {
		errs = append(errs, errors.New("broker.initTimeout must not be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	if c.DeadLetter.Enabled {
		m := c.DeadLetter.MinIO
		if strings.TrimSpace(m.Endpoint) == "" || strings.TrimSpace(m.Bucket) == "" {
			errs = append(errs, errors.New("deadLetter.minio endpoint and bucket are required when deadLetter is enabled"))
		}
	}
	return errors.Join(errs...)
}

func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
