package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"arbiter/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Booking    BookingConfig    `yaml:"booking"`
	API        APIConfig        `yaml:"api"`
	Events     EventsConfig     `yaml:"events"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Exports    ExportConfig     `yaml:"exports"`
	Rooms      []models.Room    `yaml:"rooms"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

const (
	DriverSQLite   = "sqlite3"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BookingConfig struct {
	LockWait    time.Duration `yaml:"lock_wait"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
	UnitTimeout time.Duration `yaml:"unit_timeout"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIGRPCConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIHTTPConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

type APIAuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
	Issuer  string `yaml:"issuer"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

const (
	SinkNone  = "none"
	SinkAMQP  = "amqp"
	SinkKafka = "kafka"
)

type EventsConfig struct {
	Sink         string        `yaml:"sink"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	Retry        RetryConfig   `yaml:"retry"`
	AMQP         AMQPConfig    `yaml:"amqp"`
	Kafka        KafkaConfig   `yaml:"kafka"`
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type TelegramConfig struct {
	BotToken     string  `yaml:"bot_token"`
	AdminChatIDs []int64 `yaml:"admin_chat_ids"`
	Debug        bool    `yaml:"debug"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; values already in the environment win.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required for sqlite3")
		}
	case DriverMySQL, DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.API.Auth.Enabled && c.API.Auth.Secret == "" {
		return errors.New("api auth secret is required when auth is enabled")
	}

	if c.API.GRPC.Enabled && c.API.GRPC.Port == c.API.HTTP.Port {
		return fmt.Errorf("api grpc and http ports must differ: %d", c.API.GRPC.Port)
	}

	if c.Booking.LockWait > c.Booking.UnitTimeout {
		return errors.New("booking lock_wait must not exceed unit_timeout")
	}

	switch c.Events.Sink {
	case SinkNone:
	case SinkAMQP:
		if c.Events.AMQP.URL == "" {
			return errors.New("events.amqp.url is required for amqp sink")
		}
	case SinkKafka:
		if len(c.Events.Kafka.Brokers) == 0 || c.Events.Kafka.Topic == "" {
			return errors.New("events.kafka brokers and topic are required for kafka sink")
		}
	default:
		return fmt.Errorf("unsupported events sink: %q", c.Events.Sink)
	}

	return ValidateRooms(c.Rooms)
}

func ValidateRooms(rooms []models.Room) error {
	roomIDs := make(map[int64]bool)
	for _, room := range rooms {
		if room.ID == 0 {
			return fmt.Errorf("room '%s' has invalid ID 0", room.Name)
		}
		if strings.TrimSpace(room.Name) == "" {
			return fmt.Errorf("room %d has empty name", room.ID)
		}
		if roomIDs[room.ID] {
			return fmt.Errorf("duplicate room ID found: %d", room.ID)
		}
		roomIDs[room.ID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "arbiter"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = "data/arbiter.db"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}

	if c.Booking.UnitTimeout == 0 {
		c.Booking.UnitTimeout = models.DefaultUnitTimeout
	}
	if c.Booking.LockWait == 0 {
		c.Booking.LockWait = models.DefaultLockWait
	}
	if c.Booking.LockTTL == 0 {
		c.Booking.LockTTL = models.DefaultLockTTL
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 3000
	}
	if c.API.HTTP.ReadHeaderTimeout == 0 {
		c.API.HTTP.ReadHeaderTimeout = 5 * time.Second
	}
	if c.API.HTTP.WriteTimeout == 0 {
		c.API.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 9091
	}
	if c.API.Auth.Issuer == "" {
		c.API.Auth.Issuer = c.App.Name
	}

	if c.Events.Sink == "" {
		c.Events.Sink = SinkNone
	}
	if c.Events.PollInterval == 0 {
		c.Events.PollInterval = models.DefaultOutboxPollInterval
	}
	if c.Events.BatchSize == 0 {
		c.Events.BatchSize = models.DefaultOutboxBatchSize
	}
	if c.Events.AMQP.Exchange == "" {
		c.Events.AMQP.Exchange = "arbiter.bookings"
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

type roomEntry struct {
	ID       int64  `yaml:"id"`
	Name     string `yaml:"name"`
	Capacity int64  `yaml:"capacity"`
	Location string `yaml:"location"`
	IsActive *bool  `yaml:"is_active"`
}

// LoadRooms reads the rooms catalog. Rooms without an explicit is_active are
// treated as active.
func LoadRooms(path string) ([]models.Room, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file struct {
		Rooms []roomEntry `yaml:"rooms"`
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &file); err != nil {
		return nil, fmt.Errorf("parse rooms: %w", err)
	}

	rooms := make([]models.Room, 0, len(file.Rooms))
	for _, r := range file.Rooms {
		rooms = append(rooms, models.Room{
			ID:       r.ID,
			Name:     r.Name,
			Capacity: r.Capacity,
			Location: r.Location,
			IsActive: r.IsActive == nil || *r.IsActive,
		})
	}

	if err := ValidateRooms(rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}
