package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		// DSN is usually left empty here and supplied via DATABASE_URL.
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	Sources struct {
		LearningSuite struct {
			AgentURL            string `yaml:"agent_url"`
			LoginTimeoutMinutes int    `yaml:"login_timeout_minutes"`
			PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
		} `yaml:"learningsuite"`
		Canvas struct {
			BaseURL   string `yaml:"base_url"`
			TokenFile string `yaml:"token_file"`
		} `yaml:"canvas"`
	} `yaml:"sources"`

	Sync struct {
		TaskRetentionMinutes int `yaml:"task_retention_minutes"`
	} `yaml:"sync"`
}

func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Sources.LearningSuite.AgentURL == "" {
		cfg.Sources.LearningSuite.AgentURL = "http://127.0.0.1:9007"
	}
	if cfg.Sources.LearningSuite.LoginTimeoutMinutes == 0 {
		cfg.Sources.LearningSuite.LoginTimeoutMinutes = 5
	}
	if cfg.Sources.LearningSuite.PollIntervalSeconds == 0 {
		cfg.Sources.LearningSuite.PollIntervalSeconds = 2
	}
	if cfg.Sources.Canvas.BaseURL == "" {
		cfg.Sources.Canvas.BaseURL = "https://canvas.instructure.com"
	}
	if cfg.Sources.Canvas.TokenFile == "" {
		cfg.Sources.Canvas.TokenFile = ".canvas_token.json"
	}
	if cfg.Sync.TaskRetentionMinutes == 0 {
		cfg.Sync.TaskRetentionMinutes = 60
	}
}

// applyEnv lets deployment-specific secrets override the yaml file.
func applyEnv(cfg *Config) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
}

func (c *Config) LoginTimeout() time.Duration {
	return time.Duration(c.Sources.LearningSuite.LoginTimeoutMinutes) * time.Minute
}

func (c *Config) LoginPollInterval() time.Duration {
	return time.Duration(c.Sources.LearningSuite.PollIntervalSeconds) * time.Second
}

func (c *Config) TaskRetention() time.Duration {
	return time.Duration(c.Sync.TaskRetentionMinutes) * time.Minute
}
