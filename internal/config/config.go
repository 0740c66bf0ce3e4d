package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`

	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`

	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`

	Auth struct {
		Issuer        string `mapstructure:"issuer"`
		DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	} `mapstructure:"auth"`

	LLM struct {
		APIKey  string `mapstructure:"api_key"`
		BaseURL string `mapstructure:"base_url"`
		Model   string `mapstructure:"model"`
	} `mapstructure:"llm"`

	SMTP struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		From     string `mapstructure:"from"`
	} `mapstructure:"smtp"`

	Slack struct {
		WebhookURL string `mapstructure:"webhook_url"`
	} `mapstructure:"slack"`

	Scheduler struct {
		PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
		WorkerCount         int `mapstructure:"worker_count"`
	} `mapstructure:"scheduler"`

	Script struct {
		Interpreter    string `mapstructure:"interpreter"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	} `mapstructure:"script"`

	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// PollInterval returns the scheduler poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.PollIntervalSeconds) * time.Second
}

// ScriptTimeout returns the script step wall-clock limit as a duration.
func (c *Config) ScriptTimeout() time.Duration {
	return time.Duration(c.Script.TimeoutSeconds) * time.Second
}

// LoadConfig loads the configuration from a file and the environment. An
// empty path falls back to config.yaml in the working directory or ./config.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Missing file is fine, env vars and defaults still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Auth.Issuer = normalizeIssuer(config.Auth.Issuer)

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "DEV")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("scheduler.poll_interval_seconds", 60)
	viper.SetDefault("scheduler.worker_count", 4)
	viper.SetDefault("script.interpreter", "python3")
	viper.SetDefault("script.timeout_seconds", 300)
	viper.SetDefault("smtp.port", 587)
}

// normalizeIssuer ensures the provided OIDC issuer string is in a predictable
// form. It removes any trailing slash and leaves the scheme and path intact,
// so users can paste the full URL from their provider's admin console.
func normalizeIssuer(input string) string {
	iss := strings.TrimSpace(input)
	if strings.HasSuffix(iss, "/") {
		iss = strings.TrimRight(iss, "/")
	}
	return iss
}
