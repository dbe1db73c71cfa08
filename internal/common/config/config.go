package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Database struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"gt=0,lte=65535"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password" validate:"required"`
	Name     string `yaml:"database" validate:"required"`
}

type RabbitMQ struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"gt=0,lte=65535"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password" validate:"required"`
}

type Server struct {
	Port      int    `yaml:"port" validate:"gt=0,lte=65535"`
	JWTSecret string `yaml:"jwt_secret" validate:"required"`
}

// Agent configures the device-side tracker process.
type Agent struct {
	ServerURL string `yaml:"server_url" validate:"required,url"`
	SessionID string `yaml:"session_id" validate:"required"`
	Token     string `yaml:"token" validate:"required"`

	// Publish cadence while the agent is in the foreground / background.
	VisibleIntervalMS int `yaml:"visible_interval_ms" validate:"gte=0"`
	HiddenIntervalMS  int `yaml:"hidden_interval_ms" validate:"gte=0"`

	// Off-route classification knob.
	OffRouteThresholdM float64 `yaml:"off_route_threshold_m" validate:"gte=0"`

	// Position sampling.
	SampleTimeoutMS int     `yaml:"sample_timeout_ms" validate:"gte=0"`
	StartLat        float64 `yaml:"start_lat" validate:"gte=-90,lte=90"`
	StartLon        float64 `yaml:"start_lon" validate:"gte=-180,lte=180"`
}

type Config struct {
	Database Database `yaml:"database"`
	RabbitMQ RabbitMQ `yaml:"rabbitmq"`
	Server   Server   `yaml:"server"`
	Agent    Agent    `yaml:"agent"`
}

var validate = validator.New()

// Load reads and defaults the YAML config file at path. Callers validate the
// sections they actually use with ValidateServer or ValidateAgent, so a
// server deployment does not need agent settings and vice versa.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// ValidateServer checks the sections the location service needs.
func (c *Config) ValidateServer() error {
	for name, section := range map[string]any{
		"database": c.Database,
		"rabbitmq": c.RabbitMQ,
		"server":   c.Server,
	} {
		if err := validate.Struct(section); err != nil {
			return fmt.Errorf("invalid [%s] config: %w", name, err)
		}
	}
	return nil
}

// ValidateAgent checks the section the track agent needs.
func (c *Config) ValidateAgent() error {
	if err := validate.Struct(c.Agent); err != nil {
		return fmt.Errorf("invalid [agent] config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}

	if c.RabbitMQ.Host == "" {
		c.RabbitMQ.Host = "localhost"
	}
	if c.RabbitMQ.Port == 0 {
		c.RabbitMQ.Port = 5672
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	if c.Agent.VisibleIntervalMS == 0 {
		c.Agent.VisibleIntervalMS = 3000
	}
	if c.Agent.HiddenIntervalMS == 0 {
		c.Agent.HiddenIntervalMS = 10000
	}
	if c.Agent.OffRouteThresholdM == 0 {
		c.Agent.OffRouteThresholdM = 50
	}
	if c.Agent.SampleTimeoutMS == 0 {
		c.Agent.SampleTimeoutMS = 10000
	}
}
