package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"avito-realtime-relay/internal/infrastructure/logger"
)

var (
	ErrMissingConfig = errors.New("missing required configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

const (
	DefaultExchange       = "avito_exchange"
	DefaultProgressKey    = "progress.*"
	DefaultResultKey      = "result.*"
	DefaultQueueSize      = 256
	DefaultDispatchLimit  = 64
	DefaultHTTPAddr       = ":8081"
	DefaultShutdownWindow = 5 * time.Second
)

type Config struct {
	HTTPAddr       string
	AllowedOrigins []string

	RabbitMQURL        string
	Exchange           string
	ProgressBindingKey string
	ResultBindingKey   string

	ConnectionQueueSize int
	DispatchConcurrency int

	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ShutdownTimeout       time.Duration

	// OperatorToken guards /api/v1/events. Empty disables those routes.
	OperatorToken string

	Log *logger.Config
}

// Load reads configuration from the environment. A local .env file is loaded
// first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:            getenvDefault("HTTP_ADDR", DefaultHTTPAddr),
		AllowedOrigins:      getenvCSV("ALLOWED_ORIGINS"),
		RabbitMQURL:         strings.TrimSpace(os.Getenv("RABBITMQ_URL")),
		Exchange:            getenvDefault("AMQP_EXCHANGE", DefaultExchange),
		ProgressBindingKey:  getenvDefault("PROGRESS_BINDING_KEY", DefaultProgressKey),
		ResultBindingKey:    getenvDefault("RESULT_BINDING_KEY", DefaultResultKey),
		OperatorToken:       strings.TrimSpace(os.Getenv("OPERATOR_TOKEN")),
		Log:                 logger.NewDefaultConfig(),
	}

	var err error
	if cfg.ConnectionQueueSize, err = getenvInt("CONNECTION_QUEUE_SIZE", DefaultQueueSize); err != nil {
		return Config{}, err
	}
	if cfg.DispatchConcurrency, err = getenvInt("DISPATCH_CONCURRENCY", DefaultDispatchLimit); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectInitialDelay, err = getenvDuration("RECONNECT_INITIAL_DELAY", 500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectMaxDelay, err = getenvDuration("RECONNECT_MAX_DELAY", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = getenvDuration("SHUTDOWN_TIMEOUT", DefaultShutdownWindow); err != nil {
		return Config{}, err
	}

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		level, err := logger.ParseLevel(lvl)
		if err != nil {
			return Config{}, fmt.Errorf("%w: LOG_LEVEL: %v", ErrInvalidConfig, err)
		}
		cfg.Log.Level = level
	}
	cfg.Log.Format = getenvDefault("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Output = getenvDefault("LOG_OUTPUT", cfg.Log.Output)
	cfg.Log.FilePath = strings.TrimSpace(os.Getenv("LOG_FILE"))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.RabbitMQURL == "" {
		return fmt.Errorf("%w: RABBITMQ_URL must be set", ErrMissingConfig)
	}
	if c.Exchange == "" {
		return fmt.Errorf("%w: AMQP_EXCHANGE cannot be empty", ErrInvalidConfig)
	}
	if c.ProgressBindingKey == "" || c.ResultBindingKey == "" {
		return fmt.Errorf("%w: binding keys cannot be empty", ErrInvalidConfig)
	}
	if c.ConnectionQueueSize < 1 {
		return fmt.Errorf("%w: CONNECTION_QUEUE_SIZE must be >= 1", ErrInvalidConfig)
	}
	if c.DispatchConcurrency < 1 {
		return fmt.Errorf("%w: DISPATCH_CONCURRENCY must be >= 1", ErrInvalidConfig)
	}
	if c.ReconnectInitialDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectInitialDelay {
		return fmt.Errorf("%w: reconnect delays must satisfy 0 < initial <= max", ErrInvalidConfig)
	}
	return nil
}

func getenvDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return d, nil
}

func getenvCSV(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
