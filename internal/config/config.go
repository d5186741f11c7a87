package config

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort   string `env:"HTTP_PORT"   envDefault:"8090"`
	ServiceURL string `env:"SERVICE_URL" envDefault:"http://localhost:8000"`
	// HealthGRPCAddr enables the gRPC health probe of the processing service when set.
	HealthGRPCAddr string `env:"HEALTH_GRPC_ADDR"`

	TickRateHz         int           `env:"TICK_RATE_HZ"          envDefault:"60"`
	ReconnectDelay     time.Duration `env:"RECONNECT_DELAY"       envDefault:"3s"`
	ErrorCooldown      time.Duration `env:"ERROR_COOLDOWN"        envDefault:"2s"`
	JPEGQuality        int           `env:"JPEG_QUALITY"          envDefault:"30"`
	UploadPlaybackRate float64       `env:"UPLOAD_PLAYBACK_RATE"  envDefault:"0.5"`
	WriteTimeout       time.Duration `env:"WS_WRITE_TIMEOUT"      envDefault:"10s"`
	PongWait           time.Duration `env:"WS_PONG_WAIT"          envDefault:"60s"`
	MaxMessageSizeMB   int           `env:"MAX_MESSAGE_SIZE_MB"   envDefault:"50"`
	SelectTimeout      time.Duration `env:"SELECT_TIMEOUT"        envDefault:"5s"`

	LogLevel       string `env:"LOG_LEVEL"       envDefault:"info"`
	Environment    string `env:"ENVIRONMENT"     envDefault:"production"`
	TracingEnabled bool   `env:"TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint   string `env:"OTLP_ENDPOINT"   envDefault:"http://localhost:4318/v1/traces"`

	// Session recording is disabled unless DB_HOST is set.
	DBName     string `env:"DB_NAME"     envDefault:"ai_tracking"`
	DBHost     string `env:"DB_HOST"`
	DBPort     string `env:"DB_PORT"     envDefault:"5432"`
	DBUser     string `env:"DB_USER"     envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD"`
	DBSSLMode  string `env:"DB_SSLMODE"  envDefault:"disable"`
}

func (p *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.DBHost, p.DBPort, p.DBUser, p.DBPassword, p.DBName, p.DBSSLMode)
}

// DSNForLog returns the DSN with the password masked.
func (p *Config) DSNForLog() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=*** dbname=%s sslmode=%s",
		p.DBHost, p.DBPort, p.DBUser, p.DBName, p.DBSSLMode)
}

func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

func (c *Config) RecordingEnabled() bool {
	return c.DBHost != ""
}

// TickInterval converts TickRateHz into the streaming loop period.
func (c *Config) TickInterval() time.Duration {
	if c.TickRateHz <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(c.TickRateHz)
}

// StreamURL returns the websocket endpoint for the given client id.
func (c *Config) StreamURL(clientID string) (string, error) {
	u, err := url.Parse(c.ServiceURL)
	if err != nil {
		return "", fmt.Errorf("parse service url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws", "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported service url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/webcam/" + url.PathEscape(clientID)
	return u.String(), nil
}

// SelectURL returns the selection endpoint of the processing service.
func (c *Config) SelectURL() (string, error) {
	u, err := url.Parse(c.ServiceURL)
	if err != nil {
		return "", fmt.Errorf("parse service url: %w", err)
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws", "":
		u.Scheme = "http"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/select_object"
	return u.String(), nil
}

func (c *Config) Validate() error {
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be within 1..100, got %d", c.JPEGQuality)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY must be positive, got %s", c.ReconnectDelay)
	}
	if c.ErrorCooldown <= 0 {
		return fmt.Errorf("ERROR_COOLDOWN must be positive, got %s", c.ErrorCooldown)
	}
	if c.PongWait <= 0 {
		return fmt.Errorf("WS_PONG_WAIT must be positive, got %s", c.PongWait)
	}
	if c.UploadPlaybackRate <= 0 {
		return fmt.Errorf("UPLOAD_PLAYBACK_RATE must be positive, got %v", c.UploadPlaybackRate)
	}
	return nil
}

func LoadConfig() (*Config, error) {
	// Загрузка .env файла (если существует)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.RecordingEnabled() && cfg.DBPassword == "" {
		fmt.Println("WARNING: DB_PASSWORD is not set!")
	}

	return cfg, nil
}
