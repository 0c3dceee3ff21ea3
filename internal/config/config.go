package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models courierline.yml.
type Config struct {
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
		Path   string `yaml:"path"`
	} `yaml:"database"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret          string `yaml:"jwt_secret"`
		TokenTTLMinutes    int    `yaml:"token_ttl_minutes"`
		AllowLegacyHeaders bool   `yaml:"allow_legacy_headers"`
	} `yaml:"auth"`
	Redis struct {
		Addr             string `yaml:"addr"`
		ReportTTLSeconds int    `yaml:"report_ttl_seconds"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Logging struct {
		Mode string `yaml:"mode"`
	} `yaml:"logging"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Bootstrap struct {
		Email    string `yaml:"email"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
	} `yaml:"bootstrap"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Load reads and validates config from path. A missing file yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" && c.Database.DSN == "" {
			return fmt.Errorf("config.database.path is required for sqlite")
		}
	case "mysql":
		if c.Database.DSN == "" {
			return fmt.Errorf("config.database.dsn is required for mysql")
		}
	default:
		return fmt.Errorf("config.database.driver must be sqlite or mysql, got %q", c.Database.Driver)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Auth.TokenTTLMinutes < 0 {
		return fmt.Errorf("config.auth.token_ttl_minutes must not be negative")
	}
	if c.Redis.ReportTTLSeconds < 0 {
		return fmt.Errorf("config.redis.report_ttl_seconds must not be negative")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("config.kafka.topic is required when brokers are set")
	}
	switch c.Logging.Mode {
	case "", "development", "production":
	default:
		return fmt.Errorf("config.logging.mode must be development or production")
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes. Keys absent from data keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DataDir returns the directory holding the sqlite file.
func (c *Config) DataDir() string {
	return filepath.Dir(c.Database.Path)
}

const defaultTemplate = `database:
  driver: sqlite
  path: .courierline/courierline.db

server:
  addr: 127.0.0.1:8080
  base_path: /v1

auth:
  token_ttl_minutes: 720
  allow_legacy_headers: false

redis:
  report_ttl_seconds: 60

kafka:
  topic: courierline.events

logging:
  mode: production

rbac:
  roles:
    super_admin:
      description: "Manages branches and every branch's data"
      permissions: [branch.manage, user.manage, location.manage, product.manage, shipment.manage, shipment.update, task.assign, task.update, task.cancel, report.view]
    branch_admin:
      description: "Runs one branch"
      permissions: [user.manage, location.manage, product.manage, shipment.manage, shipment.update, task.assign, task.update, task.cancel, report.view]
    delivery_user:
      description: "Delivers assigned work"
      permissions: [task.update, shipment.update]
`
