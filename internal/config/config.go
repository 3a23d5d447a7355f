package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Notification store
	StoreBackend  string // "mongo" or "memory"
	MongoURI      string
	MongoDatabase string

	// MongoChangeStreams feeds live views from change streams when Redis is
	// unavailable. Requires a replica set.
	MongoChangeStreams bool

	// MongoTransactions runs batch mutations in a transaction. Set it to
	// false against a standalone mongod, which rejects transactions.
	MongoTransactions bool

	LiveWindow int // newest notifications streamed per live subscription

	// Database (preferences and email delivery log)
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// Rate limiting per supplier
	RateLimit       int
	RateLimitWindow time.Duration

	// Order event ingest
	SQSRegion     string
	SQSQueueURL   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroupID  string
	EventTTL      time.Duration // idempotency window for event ids
	EventsEnabled bool          // false when neither SQS nor Kafka is set

	// AWS Services
	AWSRegion         string
	SESFromEmail      string
	SNSRegion         string // AWS region for SNS (SMS and mobile push)
	SNSPlatformAppARN string // empty disables mobile push registration

	// Order email side channel
	EmailProvider   string // "resend", "ses" or "log"
	EmailServiceID  string
	EmailTemplateID string
	EmailPublicKey  string // Resend API key when the provider is resend
	EmailFrom       string

	// Email retry worker
	EmailRetryInterval time.Duration
	EmailMaxRetries    int

	// Retention
	RetentionDays     int
	RetentionSchedule string // cron spec
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		StoreBackend:  "mongo",
		MongoURI:      "mongodb://localhost:27017",
		MongoDatabase: "courier",
		LiveWindow:    50,

		MongoTransactions: true,

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "lalithlochan",
		DBPassword: "",
		DBName:     "courier",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		RateLimit:       100,
		RateLimitWindow: time.Minute,

		KafkaGroupID: "courier",
		EventTTL:     24 * time.Hour,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@courier.local",

		EmailProvider: "log",

		EmailRetryInterval: 30 * time.Second,
		EmailMaxRetries:    3,

		RetentionDays:     90,
		RetentionSchedule: "@daily",
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Notification store
	if backend := os.Getenv("STORE_BACKEND"); backend != "" {
		if backend != "mongo" && backend != "memory" {
			return nil, fmt.Errorf("invalid STORE_BACKEND: %q", backend)
		}
		cfg.StoreBackend = backend
	}

	if uri := os.Getenv("MONGO_URI"); uri != "" {
		cfg.MongoURI = uri
	}

	if name := os.Getenv("MONGO_DATABASE"); name != "" {
		cfg.MongoDatabase = name
	}

	if streams := os.Getenv("MONGO_CHANGE_STREAMS"); streams != "" {
		b, err := strconv.ParseBool(streams)
		if err != nil {
			return nil, fmt.Errorf("invalid MONGO_CHANGE_STREAMS: %w", err)
		}
		cfg.MongoChangeStreams = b
	}

	if txn := os.Getenv("MONGO_TRANSACTIONS"); txn != "" {
		b, err := strconv.ParseBool(txn)
		if err != nil {
			return nil, fmt.Errorf("invalid MONGO_TRANSACTIONS: %w", err)
		}
		cfg.MongoTransactions = b
	}

	if window := os.Getenv("LIVE_WINDOW"); window != "" {
		w, err := strconv.Atoi(window)
		if err != nil {
			return nil, fmt.Errorf("invalid LIVE_WINDOW: %w", err)
		}
		cfg.LiveWindow = w
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if size := os.Getenv("REDIS_POOL_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_POOL_SIZE: %w", err)
		}
		cfg.RedisPoolSize = n
	}

	if limit := os.Getenv("RATE_LIMIT"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT: %w", err)
		}
		cfg.RateLimit = l
	}

	if window := os.Getenv("RATE_LIMIT_WINDOW"); window != "" {
		w, err := time.ParseDuration(window)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
		}
		cfg.RateLimitWindow = w
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	// SQS config
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	// Kafka config
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}

	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		cfg.KafkaTopic = topic
	}

	if group := os.Getenv("KAFKA_GROUP_ID"); group != "" {
		cfg.KafkaGroupID = group
	}

	if ttl := os.Getenv("EVENT_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid EVENT_TTL: %w", err)
		}
		cfg.EventTTL = d
	}

	cfg.EventsEnabled = cfg.SQSQueueURL != "" || (len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic != "")

	// SNS config for SMS and mobile push
	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if arn := os.Getenv("SNS_PLATFORM_APP_ARN"); arn != "" {
		cfg.SNSPlatformAppARN = arn
	}

	// Email config
	if provider := os.Getenv("EMAIL_PROVIDER"); provider != "" {
		switch provider {
		case "resend", "ses", "log":
			cfg.EmailProvider = provider
		default:
			return nil, fmt.Errorf("invalid EMAIL_PROVIDER: %q", provider)
		}
	}

	if id := os.Getenv("EMAIL_SERVICE_ID"); id != "" {
		cfg.EmailServiceID = id
	}

	if id := os.Getenv("EMAIL_TEMPLATE_ID"); id != "" {
		cfg.EmailTemplateID = id
	}

	if key := os.Getenv("EMAIL_PUBLIC_KEY"); key != "" {
		cfg.EmailPublicKey = key
	}

	if from := os.Getenv("EMAIL_FROM"); from != "" {
		cfg.EmailFrom = from
	} else {
		cfg.EmailFrom = cfg.SESFromEmail
	}

	if interval := os.Getenv("EMAIL_RETRY_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid EMAIL_RETRY_INTERVAL: %w", err)
		}
		cfg.EmailRetryInterval = d
	}

	if retries := os.Getenv("EMAIL_MAX_RETRIES"); retries != "" {
		r, err := strconv.Atoi(retries)
		if err != nil {
			return nil, fmt.Errorf("invalid EMAIL_MAX_RETRIES: %w", err)
		}
		cfg.EmailMaxRetries = r
	}

	// Retention
	if days := os.Getenv("RETENTION_DAYS"); days != "" {
		d, err := strconv.Atoi(days)
		if err != nil {
			return nil, fmt.Errorf("invalid RETENTION_DAYS: %w", err)
		}
		cfg.RetentionDays = d
	}

	if schedule := os.Getenv("RETENTION_SCHEDULE"); schedule != "" {
		cfg.RetentionSchedule = schedule
	}

	return cfg, nil
}

// RetentionMaxAge is the age past which notifications are swept.
func (c *Config) RetentionMaxAge() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
