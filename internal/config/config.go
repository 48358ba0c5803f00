package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	RabbitMQ RabbitMQConfig
	Queue    QueueConfig
	Webhook  WebhookConfig
}

type AppConfig struct {
	Environment string // "production" enforces HTTPS webhook targets
	LogLevel    string
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RabbitMQConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	VHost    string
}

type QueueConfig struct {
	// Driver selects the job queue implementation: "memory" or "amqp"
	Driver        string
	ReadyQueue    string
	WaitQueue     string
	Exchange      string
	RoutingKey    string
	PrefetchCount int
}

type WebhookConfig struct {
	// MaxAttempts is the number of delivery attempts per job before it is
	// terminally failed.
	MaxAttempts int
	// KillThreshold is the failure_count value at which a subscription is
	// automatically deactivated. Independent of MaxAttempts even though both
	// default to 5.
	KillThreshold int
	// MaxPerUser caps subscriptions per owner
	MaxPerUser int
	// HTTPTimeout bounds every delivery attempt
	HTTPTimeout time.Duration
	// RetryDelays is the backoff table indexed by attempts already made
	RetryDelays []time.Duration
}

// DefaultRetryDelays is the production backoff schedule: 1m, 5m, 30m, 2h, 6h.
var DefaultRetryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	6 * time.Hour,
}

func Load() (*Config, error) {
	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	getDefault := func(key, def string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		return def
	}

	getInt := func(key string, def int) int {
		val := os.Getenv(key)
		if val == "" {
			return def
		}
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			return def
		}
		return n
	}

	config := &Config{
		App: AppConfig{
			Environment: getDefault("APP_ENV", "development"),
			LogLevel:    getDefault("LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Port: get("SERVER_PORT"),
			Host: get("SERVER_HOST"),
		},
		Database: DatabaseConfig{
			Host:     get("DB_HOST"),
			Port:     get("DB_PORT"),
			User:     get("DB_USER"),
			Password: get("DB_PASSWORD"),
			DBName:   get("DB_NAME"),
			SSLMode:  get("DB_SSLMODE"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      os.Getenv("RABBITMQ_URL"),
			Host:     os.Getenv("RABBITMQ_HOST"),
			Port:     os.Getenv("RABBITMQ_PORT"),
			User:     os.Getenv("RABBITMQ_USER"),
			Password: os.Getenv("RABBITMQ_PASSWORD"),
			VHost:    os.Getenv("RABBITMQ_VHOST"),
		},
		Queue: QueueConfig{
			Driver:        getDefault("QUEUE_DRIVER", "memory"),
			ReadyQueue:    getDefault("QUEUE_READY", "webhook.delivery.ready"),
			WaitQueue:     getDefault("QUEUE_WAIT", "webhook.delivery.wait"),
			Exchange:      getDefault("QUEUE_EXCHANGE", "webhook.delivery"),
			RoutingKey:    getDefault("QUEUE_ROUTING_KEY", "deliver"),
			PrefetchCount: getInt("QUEUE_PREFETCH", 10),
		},
		Webhook: WebhookConfig{
			MaxAttempts:   getInt("WEBHOOK_MAX_ATTEMPTS", 5),
			KillThreshold: getInt("WEBHOOK_KILL_THRESHOLD", 5),
			MaxPerUser:    getInt("WEBHOOK_MAX_PER_USER", 10),
			HTTPTimeout:   time.Duration(getInt("WEBHOOK_HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
			RetryDelays:   DefaultRetryDelays,
		},
	}

	// RabbitMQ settings are only required when the amqp queue driver is active
	if config.Queue.Driver == "amqp" && config.RabbitMQ.URL == "" {
		for _, key := range []string{"RABBITMQ_HOST", "RABBITMQ_PORT", "RABBITMQ_USER", "RABBITMQ_PASSWORD", "RABBITMQ_VHOST"} {
			if os.Getenv(key) == "" {
				missing = append(missing, key)
			}
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return config, nil
}

// IsProduction reports whether HTTPS-only validation applies
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// ConnectionString returns a DSN string for GORM
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

// MigrationURL returns the URL-form DSN golang-migrate expects
func (c *DatabaseConfig) MigrationURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

func (c *RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s%s",
		c.User, c.Password, c.Host, c.Port, c.VHost)
}
