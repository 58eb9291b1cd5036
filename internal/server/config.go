package server

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration from environment variables.
type Config struct {
	Port           string
	AWSRegion      string
	AWSEndpointURL string // For LocalStack
	DynamoDBTable  string
	SQSQueuePrefix string

	WorkerConcurrency int
	WorkerPoll        time.Duration

	OTELEndpoint string

	ShutdownTimeout time.Duration
}

// LoadConfig reads configuration from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		Port:              getEnv("SAGAFLOW_PORT", "8080"),
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL:    getEnv("AWS_ENDPOINT_URL", ""), // Empty = real AWS
		DynamoDBTable:     getEnv("DYNAMODB_TABLE", "sagaflow-jobs"),
		SQSQueuePrefix:    getEnv("SQS_QUEUE_PREFIX", "sagaflow"),
		WorkerConcurrency: getEnvInt("SAGAFLOW_WORKER_CONCURRENCY", 20),
		WorkerPoll:        getEnvDuration("SAGAFLOW_WORKER_POLL", 500*time.Millisecond),
		OTELEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ShutdownTimeout:   getEnvDuration("SAGAFLOW_SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
