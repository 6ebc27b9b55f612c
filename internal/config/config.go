// Package config loads the service configuration: environment variables for
// wiring (ports, DSNs, feature toggles) and a YAML policy file for the
// withdrawal limits operators tune without redeploying.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/satsboard/ledger-service/internal/limits"
	"github.com/satsboard/ledger-service/internal/threshold"
)

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Logging   LoggingConfig
	Reconcile ReconcileConfig
	Alerts    AlertConfig
	Payment   PaymentConfig

	PolicyFile string `env:"LEDGER_POLICY_FILE,default=config/policy.yaml"`

	// Policy is populated from PolicyFile, not the environment.
	Policy Policy
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `env:"LEDGER_HTTP_ADDR,default=:8080"`
	ReadTimeout     time.Duration `env:"LEDGER_HTTP_READ_TIMEOUT,default=10s"`
	WriteTimeout    time.Duration `env:"LEDGER_HTTP_WRITE_TIMEOUT,default=30s"`
	ShutdownTimeout time.Duration `env:"LEDGER_SHUTDOWN_TIMEOUT,default=15s"`
	EdgeRPS         float64       `env:"LEDGER_EDGE_RPS,default=20"`
	EdgeBurst       int           `env:"LEDGER_EDGE_BURST,default=40"`
}

// DatabaseConfig selects the persistence backend. An empty DSN runs the
// in-memory store, which is only suitable for development.
type DatabaseConfig struct {
	DSN          string `env:"LEDGER_DATABASE_DSN"`
	MaxOpenConns int    `env:"LEDGER_DATABASE_MAX_OPEN_CONNS,default=25"`
	MaxIdleConns int    `env:"LEDGER_DATABASE_MAX_IDLE_CONNS,default=5"`
	AutoMigrate  bool   `env:"LEDGER_DATABASE_AUTO_MIGRATE,default=true"`
}

// RedisConfig optionally backs the admission-control counters so several
// instances share them. Empty Addr keeps counters in process memory.
type RedisConfig struct {
	Addr     string `env:"LEDGER_REDIS_ADDR"`
	Password string `env:"LEDGER_REDIS_PASSWORD"`
	DB       int    `env:"LEDGER_REDIS_DB,default=0"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `env:"LEDGER_LOG_LEVEL,default=info"`
	Format string `env:"LEDGER_LOG_FORMAT,default=json"`
}

// ReconcileConfig schedules the background drift sweep.
type ReconcileConfig struct {
	SweepSchedule string `env:"LEDGER_RECONCILE_SCHEDULE,default=@every 1h"`
}

// AlertConfig configures operator notification channels.
type AlertConfig struct {
	WebhookURL string `env:"LEDGER_ALERT_WEBHOOK_URL"`
}

// PaymentConfig bounds the Lightning payment call.
type PaymentConfig struct {
	Timeout time.Duration `env:"LEDGER_PAYMENT_TIMEOUT,default=30s"`
}

// Duration accepts YAML scalars in time.ParseDuration form, such as "30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Policy is the operator-tunable part of the pipeline, loaded from YAML.
type Policy struct {
	Limits    limits.Config `yaml:"limits"`
	Threshold struct {
		Ceiling int64    `yaml:"ceiling"`
		Window  Duration `yaml:"window"`
	} `yaml:"threshold"`
	RateLimit struct {
		WithdrawPerMinute int `yaml:"withdraw_per_minute"`
		WithdrawPerHour   int `yaml:"withdraw_per_hour"`
		TransferPerMinute int `yaml:"transfer_per_minute"`
		TransferPerHour   int `yaml:"transfer_per_hour"`
	} `yaml:"rate_limit"`
}

// ThresholdConfig converts the YAML block into the guard's config.
func (p Policy) ThresholdConfig() threshold.Config {
	return threshold.Config{Ceiling: p.Threshold.Ceiling, Window: time.Duration(p.Threshold.Window)}
}

// DefaultPolicy is applied when no policy file exists.
func DefaultPolicy() Policy {
	var p Policy
	p.Limits = limits.Config{
		MaxPerTransaction: 100_000,
		DailyCeiling:      250_000,
		ApprovalThreshold: 50_000,
	}
	p.Threshold.Ceiling = 2_000_000
	p.Threshold.Window = Duration(time.Hour)
	p.RateLimit.WithdrawPerMinute = 5
	p.RateLimit.WithdrawPerHour = 20
	p.RateLimit.TransferPerMinute = 10
	p.RateLimit.TransferPerHour = 60
	return p
}

// Load reads .env (when present), decodes the environment and loads the
// policy file.
func Load() (*Config, error) {
	// Missing .env is fine; deployments set real environment variables.
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	policy, err := LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	cfg.Policy = policy
	return &cfg, nil
}

// LoadPolicy reads the YAML policy file, falling back to defaults when the
// file does not exist.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultPolicy(), nil
	}
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}

	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	if err := policy.Limits.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid limits policy: %w", err)
	}
	if policy.Threshold.Ceiling <= 0 {
		return Policy{}, fmt.Errorf("threshold ceiling must be positive")
	}
	return policy, nil
}
