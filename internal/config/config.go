package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stackpilot/stackpilot/internal/preflight"
)

// Config represents the application configuration
type Config struct {
	Stack    StackConfig   `yaml:"stack" json:"stack"`
	Backup   BackupConfig  `yaml:"backup" json:"backup"`
	Database DBConfig      `yaml:"database" json:"database"`
	API      APIConfig     `yaml:"api" json:"api"`
	Logging  LoggingConfig `yaml:"logging" json:"logging"`
	Metrics  MetricsConfig `yaml:"metrics" json:"metrics"`
}

// StackConfig names the managed containers and their wiring
type StackConfig struct {
	Network             string `yaml:"network" json:"network"`
	MySQLContainer      string `yaml:"mysql_container" json:"mysql_container"`
	ApacheContainer     string `yaml:"apache_container" json:"apache_container"`
	PHPMyAdminContainer string `yaml:"phpmyadmin_container" json:"phpmyadmin_container"`
	MySQLImage          string `yaml:"mysql_image" json:"mysql_image"`
	ApacheImage         string `yaml:"apache_image" json:"apache_image"`
	PHPMyAdminImage     string `yaml:"phpmyadmin_image" json:"phpmyadmin_image"`
	MySQLUser           string `yaml:"mysql_user" json:"mysql_user"`
	MySQLPassword       string `yaml:"mysql_password" json:"mysql_password"`
	MySQLRootPassword   string `yaml:"mysql_root_password" json:"mysql_root_password"`
	MySQLDatabase       string `yaml:"mysql_database" json:"mysql_database"`
	WebRoot             string `yaml:"web_root" json:"web_root"`
	CertDir             string `yaml:"cert_dir" json:"cert_dir"`
	SSLConfPath         string `yaml:"ssl_conf_path" json:"ssl_conf_path"`
	Domain              string `yaml:"domain" json:"domain"`
	Email               string `yaml:"email" json:"email"`
	UnitDir             string `yaml:"unit_dir" json:"unit_dir"`
}

// BackupConfig controls the backup/restore lifecycle
type BackupConfig struct {
	Root          string              `yaml:"root" json:"root"`
	RetentionDays int                 `yaml:"retention_days" json:"retention_days"`
	Schedule      string              `yaml:"schedule" json:"schedule"`
	RenewSchedule string              `yaml:"renew_schedule" json:"renew_schedule"`
	LogFile       string              `yaml:"log_file" json:"log_file"`
	Destinations  []DestinationConfig `yaml:"destinations" json:"destinations"`
}

// DestinationConfig describes an off-host replication target
type DestinationConfig struct {
	Type string `yaml:"type" json:"type"` // "local", "sftp", "s3"
	Path string `yaml:"path" json:"path"`

	SFTPHost        string `yaml:"sftp_host" json:"sftp_host"`
	SFTPPort        int    `yaml:"sftp_port" json:"sftp_port"`
	SFTPUsername    string `yaml:"sftp_username" json:"sftp_username"`
	SFTPPassword    string `yaml:"sftp_password" json:"sftp_password"`
	SFTPKeyPath     string `yaml:"sftp_key_path" json:"sftp_key_path"`
	KnownHostsPath  string `yaml:"known_hosts_path" json:"known_hosts_path"`
	TrustOnFirstUse bool   `yaml:"trust_on_first_use" json:"trust_on_first_use"`

	S3Bucket    string `yaml:"s3_bucket" json:"s3_bucket"`
	S3Region    string `yaml:"s3_region" json:"s3_region"`
	S3AccessKey string `yaml:"s3_access_key" json:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key" json:"s3_secret_key"`
	S3Endpoint  string `yaml:"s3_endpoint" json:"s3_endpoint"`
}

// DBConfig contains database settings
type DBConfig struct {
	Path string `yaml:"path" json:"path"`
}

// APIConfig contains serve-mode HTTP settings
type APIConfig struct {
	Host          string `yaml:"host" json:"host"`
	Port          int    `yaml:"port" json:"port"`
	JWTSecret     string `yaml:"jwt_secret" json:"jwt_secret"`
	TokenDuration string `yaml:"token_duration" json:"token_duration"`
	AdminUser     string `yaml:"admin_user" json:"admin_user"`
	// Bcrypt hash of the admin password. Generated with `stackpilot hash`.
	AdminPasswordHash string `yaml:"admin_password_hash" json:"admin_password_hash"`
	BcryptCost        int    `yaml:"bcrypt_cost" json:"bcrypt_cost"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// MetricsConfig contains host metrics collection settings
type MetricsConfig struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	IntervalSecs  int  `yaml:"interval_seconds" json:"interval_seconds"`
	RetentionDays int  `yaml:"retention_days" json:"retention_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Stack: StackConfig{
			Network:             "lamp_network",
			MySQLContainer:      "mysql_server",
			ApacheContainer:     "apache2_server",
			PHPMyAdminContainer: "phpmyadmin",
			MySQLImage:          "docker.io/library/mysql:8.0",
			ApacheImage:         "docker.io/library/httpd:2.4",
			PHPMyAdminImage:     "docker.io/phpmyadmin/phpmyadmin:latest",
			MySQLUser:           "user",
			MySQLDatabase:       "testdb",
			WebRoot:             "/opt/apache-ssl/www",
			CertDir:             "/opt/apache-ssl/certs",
			SSLConfPath:         "/opt/apache-ssl/ssl.conf",
			UnitDir:             "/etc/systemd/system",
		},
		Backup: BackupConfig{
			Root:          "/opt/podman-backups",
			RetentionDays: 30,
			Schedule:      "0 2 * * *",
			RenewSchedule: "0 3 * * *",
			LogFile:       "/var/log/stackpilot-backup.log",
		},
		Database: DBConfig{
			Path: "/var/lib/stackpilot/stackpilot.db",
		},
		API: APIConfig{
			Host:          "127.0.0.1",
			Port:          8081,
			JWTSecret:     getEnv("STACKPILOT_JWT_SECRET", ""),
			TokenDuration: "1h",
			AdminUser:     "admin",
			BcryptCost:    12,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			IntervalSecs:  30,
			RetentionDays: 7,
		},
	}
}

// Load loads configuration from the given file over the defaults.
// An empty path checks the usual locations and falls back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range []string{"./stackpilot.yaml", "/etc/stackpilot/config.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STACKPILOT_MYSQL_ROOT_PASSWORD"); v != "" {
		cfg.Stack.MySQLRootPassword = v
	}
	if v := os.Getenv("STACKPILOT_MYSQL_PASSWORD"); v != "" {
		cfg.Stack.MySQLPassword = v
	}
	if v := os.Getenv("STACKPILOT_JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}
	if v := os.Getenv("STACKPILOT_BACKUP_ROOT"); v != "" {
		cfg.Backup.Root = v
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Stack.Network == "" {
		return fmt.Errorf("stack.network must not be empty")
	}
	if c.Stack.MySQLContainer == "" || c.Stack.ApacheContainer == "" {
		return fmt.Errorf("stack container names must not be empty")
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("backup.retention_days must not be negative")
	}
	if !filepath.IsAbs(c.Backup.Root) {
		return fmt.Errorf("backup.root must be an absolute path")
	}
	for i, dest := range c.Backup.Destinations {
		switch dest.Type {
		case "local", "sftp", "s3":
		default:
			return fmt.Errorf("backup.destinations[%d]: unsupported type %q", i, dest.Type)
		}
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	return nil
}

// RequireStackCredentials fails when the MySQL passwords are unset. The
// MySQL image refuses to initialize with an empty root password, so
// commands that deploy, back up or restore the stack check this first.
func (c *Config) RequireStackCredentials() error {
	if c.Stack.MySQLRootPassword == "" {
		return fmt.Errorf("%w: stack.mysql_root_password is not set (config file or STACKPILOT_MYSQL_ROOT_PASSWORD)", preflight.ErrPrerequisite)
	}
	if c.Stack.MySQLPassword == "" {
		return fmt.Errorf("%w: stack.mysql_password is not set (config file or STACKPILOT_MYSQL_PASSWORD)", preflight.ErrPrerequisite)
	}
	return nil
}

// Save writes the configuration to the given path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
