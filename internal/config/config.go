package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// QueueBackendRabbitMQ selects the RabbitMQ queue client
	QueueBackendRabbitMQ = "rabbitmq"
	// QueueBackendRedis selects the Redis list queue client
	QueueBackendRedis = "redis"

	// MaxBatchSize is the largest receive batch a queue accepts
	MaxBatchSize = 10
)

// Config represents the complete application configuration
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Database        DatabaseConfig        `yaml:"database"`
	RabbitMQ        RabbitMQConfig        `yaml:"rabbitmq"`
	Redis           RedisConfig           `yaml:"redis"`
	Queue           QueueBackendConfig    `yaml:"queue"`
	Logging         LoggingConfig         `yaml:"logging"`
	App             AppConfig             `yaml:"app"`
	Worker          WorkerConfig          `yaml:"worker"`
	SemanticScholar SemanticScholarConfig `yaml:"semantic_scholar"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// QueueBackendConfig selects which broker carries job messages
type QueueBackendConfig struct {
	Backend string `yaml:"backend"` // rabbitmq or redis
	Name    string `yaml:"name"`    // queue name for the redis backend
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	MaxConcurrentJobs  int           `yaml:"max_concurrent_jobs"`
	MaxBatchSize       int           `yaml:"max_batch_size"`
	WaitTime           time.Duration `yaml:"wait_time"`
	VisibilityTimeout  time.Duration `yaml:"visibility_timeout"`
	IdleBackoff        time.Duration `yaml:"idle_backoff"`
	ErrorBackoff       time.Duration `yaml:"error_backoff"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	JobTimeout         time.Duration `yaml:"job_timeout"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	StaleAfter         time.Duration `yaml:"stale_after"`
	StaleCheckInterval time.Duration `yaml:"stale_check_interval"`
	PrintNumbersDelay  time.Duration `yaml:"print_numbers_delay"`
	HealthPort         int           `yaml:"health_port"`
}

// SemanticScholarConfig holds Semantic Scholar API client settings
type SemanticScholarConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyEnvOverrides()

	return &config, nil
}

// ApplyEnvOverrides replaces secrets with values from the environment when set
func (c *Config) ApplyEnvOverrides() {
	overrides := map[string]*string{
		"DATABASE_PASSWORD":        &c.Database.Password,
		"RABBITMQ_PASSWORD":        &c.RabbitMQ.Password,
		"REDIS_PASSWORD":           &c.Redis.Password,
		"SEMANTIC_SCHOLAR_API_KEY": &c.SemanticScholar.APIKey,
	}
	for key, field := range overrides {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*field = v
		}
	}
}

// ApplyWorkerDefaults fills unset worker and queue settings
func (c *Config) ApplyWorkerDefaults() {
	w := &c.Worker
	if w.MaxConcurrentJobs == 0 {
		w.MaxConcurrentJobs = 20
	}
	if w.MaxBatchSize == 0 {
		w.MaxBatchSize = MaxBatchSize
	}
	if w.WaitTime == 0 {
		w.WaitTime = time.Second
	}
	if w.VisibilityTimeout == 0 {
		w.VisibilityTimeout = 300 * time.Second
	}
	if w.IdleBackoff == 0 {
		w.IdleBackoff = 100 * time.Millisecond
	}
	if w.ErrorBackoff == 0 {
		w.ErrorBackoff = time.Second
	}
	if w.ShutdownTimeout == 0 {
		w.ShutdownTimeout = 10 * time.Second
	}
	if w.PrintNumbersDelay == 0 {
		w.PrintNumbersDelay = 50 * time.Millisecond
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = QueueBackendRabbitMQ
	}
	if c.Queue.Name == "" {
		c.Queue.Name = c.RabbitMQ.Queue.Name
	}
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	return c.validateQueue()
}

// ValidateWorkerConfig checks the settings the worker service needs. Call
// ApplyWorkerDefaults first.
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateQueue(); err != nil {
		return err
	}

	w := c.Worker
	if w.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("worker max_concurrent_jobs must be greater than 0")
	}

	if w.MaxBatchSize < 1 || w.MaxBatchSize > MaxBatchSize {
		return fmt.Errorf("worker max_batch_size must be between 1 and %d", MaxBatchSize)
	}

	if w.WaitTime < 0 {
		return fmt.Errorf("worker wait_time must not be negative")
	}

	if w.VisibilityTimeout <= 0 {
		return fmt.Errorf("worker visibility_timeout must be greater than 0")
	}

	if w.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if w.JobTimeout < 0 {
		return fmt.Errorf("worker job_timeout must not be negative")
	}

	if w.StaleAfter > 0 && (w.HeartbeatInterval <= 0 || w.HeartbeatInterval >= w.StaleAfter) {
		return fmt.Errorf("worker heartbeat_interval must be set and shorter than stale_after")
	}

	if w.HealthPort != 0 && (w.HealthPort < MinPort || w.HealthPort > MaxPort) {
		return fmt.Errorf("invalid worker health port: %d (must be between %d and %d)", w.HealthPort, MinPort, MaxPort)
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Backend {
	case QueueBackendRabbitMQ, "":
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}

		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}

		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}

		if c.RabbitMQ.Queue.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
	case QueueBackendRedis:
		if c.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}

		if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
			return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
		}

		if c.Queue.Name == "" {
			return fmt.Errorf("queue name is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown queue backend: %q", c.Queue.Backend)
	}

	return nil
}
