package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverSQS      = "sqs"
)

// Common is shared by every process.
type Common struct {
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`
	DBDSN       string `envconfig:"DB_DSN"`
	DBPool

	QueueDriver        string `envconfig:"QUEUE_DRIVER" default:"sqs"`
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`

	// chat bridge gateway
	BridgeBaseURL      string        `envconfig:"BRIDGE_BASE_URL" default:"http://localhost:3000"`
	BridgeToken        string        `envconfig:"BRIDGE_TOKEN"`
	BridgeTimeout      time.Duration `envconfig:"BRIDGE_TIMEOUT" default:"15s"`
	BridgePollInterval time.Duration `envconfig:"BRIDGE_POLL_INTERVAL" default:"2s"`

	// optional; empty keeps QR challenges in process memory
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	QRTTL         time.Duration `envconfig:"QR_TTL" default:"60s"`
}

type DBPool struct {
	MaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	MinConns          int32  `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	MaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"30m"`
	MaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"5m"`
	HealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD" default:"30s"`
}

type APIConfig struct {
	Common

	BroadcastGroupDelay time.Duration `envconfig:"BROADCAST_GROUP_DELAY" default:"10s"`
	SchedulerSpec       string        `envconfig:"SCHEDULER_SPEC" default:"@every 30s"`
	RestoreSessions     bool          `envconfig:"RESTORE_SESSIONS" default:"true"`
}

type WorkerConfig struct {
	Common

	SQSWaitTime   int32 `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs    int32 `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout int32 `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`

	WorkerConcurrency   int `envconfig:"WORKER_CONCURRENCY" default:"5"`
	WorkerJobsPerMinute int `envconfig:"WORKER_JOBS_PER_MINUTE" default:"20"`
	JobMaxAttempts      int `envconfig:"JOB_MAX_ATTEMPTS" default:"3"`
}

func (c Common) validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DBDSN == "" {
			return errors.New("DB_DSN is required for the postgres store")
		}
	case DriverMemory:
	default:
		return errors.New("STORE_DRIVER must be postgres or memory")
	}
	switch c.QueueDriver {
	case DriverSQS:
		if c.SQSQueueURL == "" {
			return errors.New("SQS_QUEUE_URL is required for the sqs queue")
		}
	case DriverMemory:
	default:
		return errors.New("QUEUE_DRIVER must be sqs or memory")
	}
	return nil
}

// loadDotenv reads .env when present. Real environment values win.
func loadDotenv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}
}

func LoadAPI() APIConfig {
	loadDotenv()
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	if err := cfg.validate(); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWorker() WorkerConfig {
	loadDotenv()
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	if err := cfg.validate(); err != nil {
		panic(err)
	}
	return cfg
}
