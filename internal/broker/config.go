package broker

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Config is the immutable description of how to reach the broker.
type Config struct {
	Brokers             []string
	Topic               string
	ClientID            string
	BatchTimeout        time.Duration
	BatchSize           int
	BatchBytes          int64
	ReconnectBackoff    time.Duration
	ReconnectBackoffMax time.Duration
	MaxRetries          int
	MaxBufferedMessages int
	RequireAllAcks      bool
	Compression         string
	DialTimeout         time.Duration
	// PublishTimeout bounds one hand-off to the local producer queue.
	PublishTimeout  time.Duration
	AutoCreateTopic bool
}

var supportedCompression = map[string]struct{}{
	"":          {},
	"none":      {},
	"gzip":      {},
	"snappy":    {},
	"lz4":       {},
	"zstd":      {},
	"zstandard": {},
}

// Validate checks every value the session relies on. Errors wrap ErrConfigRejected.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("%w: at least one broker endpoint is required", ErrConfigRejected)
	}
	for _, endpoint := range c.Brokers {
		if err := validateEndpoint(endpoint); err != nil {
			return fmt.Errorf("%w: %v", ErrConfigRejected, err)
		}
	}
	if strings.TrimSpace(c.Topic) == "" {
		return fmt.Errorf("%w: topic is required", ErrConfigRejected)
	}
	if c.BatchTimeout <= 0 {
		return fmt.Errorf("%w: batch timeout must be positive, got %s", ErrConfigRejected, c.BatchTimeout)
	}
	if c.BatchSize < 0 || c.BatchBytes < 0 {
		return fmt.Errorf("%w: batch limits must not be negative", ErrConfigRejected)
	}
	if c.ReconnectBackoff <= 0 {
		return fmt.Errorf("%w: reconnect backoff must be positive, got %s", ErrConfigRejected, c.ReconnectBackoff)
	}
	if c.ReconnectBackoffMax < c.ReconnectBackoff {
		return fmt.Errorf("%w: reconnect backoff max %s is below initial %s",
			ErrConfigRejected, c.ReconnectBackoffMax, c.ReconnectBackoff)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative, got %d", ErrConfigRejected, c.MaxRetries)
	}
	if c.MaxBufferedMessages < 0 {
		return fmt.Errorf("%w: max buffered messages must not be negative", ErrConfigRejected)
	}
	if _, ok := supportedCompression[strings.ToLower(strings.TrimSpace(c.Compression))]; !ok {
		return fmt.Errorf("%w: unsupported compression %q", ErrConfigRejected, c.Compression)
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("%w: dial timeout must not be negative", ErrConfigRejected)
	}
	if c.PublishTimeout < 0 {
		return fmt.Errorf("%w: publish timeout must not be negative", ErrConfigRejected)
	}
	return nil
}

func validateEndpoint(endpoint string) error {
	host, port, err := net.SplitHostPort(strings.TrimSpace(endpoint))
	if err != nil {
		return fmt.Errorf("invalid broker endpoint %q: %v", endpoint, err)
	}
	if host == "" {
		return fmt.Errorf("invalid broker endpoint %q: empty host", endpoint)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("invalid broker endpoint %q: bad port", endpoint)
	}
	return nil
}
