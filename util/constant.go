package util

// Environment variables read at startup.
const (
	KafkaBrokers  = "KAFKA_BROKERS"
	KafkaTopic    = "KAFKA_TOPIC"
	GRPCAddr      = "GRPC_ADDR"
	HTTPAddr      = "HTTP_ADDR"
	LogLevel      = "LOG_LEVEL"
	LogFormat     = "LOG_FORMAT"
	ProfileAddr   = "PROFILE_ADDR"
	ProfileEnable = "PROFILE_ENABLED"

	BrokerInitTimeout   = "BROKER_INIT_TIMEOUT"
	KafkaPublishTimeout = "KAFKA_PUBLISH_TIMEOUT"
	KafkaMaxBuffered    = "KAFKA_MAX_BUFFERED_MESSAGES"
	MaxPayloadBytes     = "MAX_PAYLOAD_BYTES"
)

const (
	DefaultKafkaBrokers       = "localhost:9092"
	DefaultKafkaTopic         = "olist-enterprise-events"
	DefaultGRPCAddr           = "0.0.0.0:50051"
	DefaultHTTPAddr           = ":8080"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultProfileAddr        = ":6060"
	DefaultArchivePrefix      = "rejected"
	DefaultPartitionKeyHeader = "x-partition-key"
)

const (
	DateLayout = "2006-01-02"
	HourLayout = "15"
)
