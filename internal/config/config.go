// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/DeeparthGupta/dharaniDairyWeb/internal/database"
)

// Environments recognised by the service.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Notification backends.
const (
	NotifyNone   = "none"
	NotifyMemory = "memory"
	NotifyPubSub = "pubsub"
	NotifyKafka  = "kafka"
	NotifyEmail  = "email"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Environment string           `mapstructure:"environment"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	Validation  ValidationConfig `mapstructure:"validation"`
	Notify      NotifyConfig     `mapstructure:"notify"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int    `mapstructure:"port"`
	StaticDir              string `mapstructure:"static_dir"`
	RequestTimeoutSeconds  int    `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
	MaxBodyBytes           int64  `mapstructure:"max_body_bytes"`
}

// DatabaseConfig controls access to Postgres. DSN wins over the discrete fields.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	Table    string `mapstructure:"table"`

	MaxConns              int  `mapstructure:"max_conns"`
	IdleTimeoutSeconds    int  `mapstructure:"idle_timeout_seconds"`
	ConnectTimeoutSeconds int  `mapstructure:"connect_timeout_seconds"`
	AcquireTimeoutSeconds int  `mapstructure:"acquire_timeout_seconds"`
	ShutdownGraceSeconds  int  `mapstructure:"shutdown_grace_seconds"`
	ConnectOnStart        bool `mapstructure:"connect_on_start"`
}

// LoggingConfig selects level, encoding and sinks. Empty values resolve per environment.
type LoggingConfig struct {
	Level   string        `mapstructure:"level"`
	Format  string        `mapstructure:"format"`
	Console bool          `mapstructure:"console"`
	File    FileLogConfig `mapstructure:"file"`
}

// FileLogConfig configures the rotating file sink. A nil Enabled means "on in production".
type FileLogConfig struct {
	Enabled    *bool  `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ValidationConfig tunes input validation.
type ValidationConfig struct {
	PhoneLocale string `mapstructure:"phone_locale"`
}

// NotifyConfig selects where accepted submissions are announced.
type NotifyConfig struct {
	Backend        string       `mapstructure:"backend"`
	Topic          string       `mapstructure:"topic"`
	TimeoutSeconds int          `mapstructure:"timeout_seconds"`
	PubSub         PubSubConfig `mapstructure:"pubsub"`
	Kafka          KafkaConfig  `mapstructure:"kafka"`
	Email          EmailConfig  `mapstructure:"email"`
}

// PubSubConfig holds metadata for Google Cloud Pub/Sub notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// KafkaConfig configures the Kafka producer.
type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	BatchTimeoutMs int      `mapstructure:"batch_timeout_ms"`
}

// EmailConfig configures SMTP delivery to the site owner.
type EmailConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
	Subject  string   `mapstructure:"subject"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CONTACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindAliases(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.Notify.Backend = strings.ToLower(strings.TrimSpace(cfg.Notify.Backend))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvDevelopment)
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("server.max_body_bytes", 64<<10)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("database.sslmode", "")
	v.SetDefault("database.table", "contact_form")
	v.SetDefault("database.max_conns", int(database.DefaultMaxConns))
	v.SetDefault("database.idle_timeout_seconds", int(database.DefaultIdleTimeout/time.Second))
	v.SetDefault("database.connect_timeout_seconds", int(database.DefaultConnectTimeout/time.Second))
	v.SetDefault("database.acquire_timeout_seconds", int(database.DefaultAcquireTimeout/time.Second))
	v.SetDefault("database.shutdown_grace_seconds", int(database.DefaultShutdownGrace/time.Second))
	v.SetDefault("database.connect_on_start", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.format", "")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file.path", "logs/contactd.log")
	v.SetDefault("logging.file.max_size_mb", 10)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 28)
	v.SetDefault("logging.file.compress", true)
	v.SetDefault("validation.phone_locale", "en-IN")
	v.SetDefault("notify.backend", NotifyNone)
	v.SetDefault("notify.topic", "contact-submissions")
	v.SetDefault("notify.timeout_seconds", 5)
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.kafka.brokers", []string{})
	v.SetDefault("notify.kafka.batch_timeout_ms", 10)
	v.SetDefault("notify.email.host", "")
	v.SetDefault("notify.email.port", 587)
	v.SetDefault("notify.email.username", "")
	v.SetDefault("notify.email.password", "")
	v.SetDefault("notify.email.from", "")
	v.SetDefault("notify.email.to", []string{})
	v.SetDefault("notify.email.subject", "New contact form submission")
}

// bindAliases maps the conventional platform variables onto their keys. The prefixed
// name is listed first so it wins when both are set.
func bindAliases(v *viper.Viper) error {
	aliases := map[string][]string{
		"environment":          {"CONTACT_ENVIRONMENT", "APP_ENV"},
		"server.port":          {"CONTACT_SERVER_PORT", "PORT"},
		"database.dsn":         {"CONTACT_DATABASE_DSN", "DATABASE_URL"},
		"logging.file.enabled": {"CONTACT_LOGGING_FILE_ENABLED"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("environment must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Environment)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("server.shutdown_timeout_seconds must be > 0")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be > 0")
	}
	if err := c.Database.validate(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console")
	}
	if c.Validation.PhoneLocale == "" {
		return fmt.Errorf("validation.phone_locale is required")
	}
	return c.Notify.validate()
}

func (d DatabaseConfig) validate() error {
	if d.DSN == "" && (d.Host == "" || d.Name == "") {
		return fmt.Errorf("database.dsn or database.host and database.name are required")
	}
	if d.MaxConns <= 0 || d.MaxConns > math.MaxInt32 {
		return fmt.Errorf("database.max_conns must be between 1 and %d", math.MaxInt32)
	}
	if d.IdleTimeoutSeconds <= 0 || d.ConnectTimeoutSeconds <= 0 || d.AcquireTimeoutSeconds <= 0 {
		return fmt.Errorf("database timeouts must be > 0")
	}
	if d.ShutdownGraceSeconds <= 0 {
		return fmt.Errorf("database.shutdown_grace_seconds must be > 0")
	}
	return nil
}

func (n NotifyConfig) validate() error {
	switch n.Backend {
	case "", NotifyNone, NotifyMemory:
		return nil
	case NotifyPubSub:
		if n.PubSub.ProjectID == "" {
			return fmt.Errorf("notify.pubsub.project_id is required for the pubsub backend")
		}
	case NotifyKafka:
		if len(n.Kafka.Brokers) == 0 {
			return fmt.Errorf("notify.kafka.brokers is required for the kafka backend")
		}
	case NotifyEmail:
		if n.Email.Host == "" || n.Email.From == "" || len(n.Email.To) == 0 {
			return fmt.Errorf("notify.email.host, from and to are required for the email backend")
		}
		return nil
	default:
		return fmt.Errorf("unknown notify.backend %q", n.Backend)
	}
	if n.Topic == "" {
		return fmt.Errorf("notify.topic is required for the %s backend", n.Backend)
	}
	return nil
}

// IsProduction reports whether the service runs with production behaviour (generic
// client errors, JSON logs, file sink).
func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// RequestTimeout bounds a single HTTP request.
func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds HTTP server drain on shutdown.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}

// ConnString returns DSN when set, otherwise a postgres URL assembled from the discrete
// fields. A host starting with "/" is treated as a unix socket directory.
func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	u := url.URL{Scheme: "postgres", Path: "/" + d.Name}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	q := url.Values{}
	if strings.HasPrefix(d.Host, "/") {
		q.Set("host", d.Host)
		if d.Port > 0 {
			q.Set("port", strconv.Itoa(d.Port))
		}
	} else {
		host := d.Host
		if d.Port > 0 {
			host = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		}
		u.Host = host
	}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Pool converts the pool knobs into a database.Config.
func (d DatabaseConfig) Pool() database.Config {
	return database.Config{
		MaxConns:       int32(d.MaxConns),
		IdleTimeout:    time.Duration(d.IdleTimeoutSeconds) * time.Second,
		ConnectTimeout: time.Duration(d.ConnectTimeoutSeconds) * time.Second,
		AcquireTimeout: time.Duration(d.AcquireTimeoutSeconds) * time.Second,
		ShutdownGrace:  time.Duration(d.ShutdownGraceSeconds) * time.Second,
	}
}

// Timeout bounds a single notification publish.
func (n NotifyConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutSeconds) * time.Second
}

// Enabled reports whether a notification backend is configured.
func (n NotifyConfig) Enabled() bool {
	return n.Backend != "" && n.Backend != NotifyNone
}
