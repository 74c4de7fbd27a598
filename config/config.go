package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "CKD_"

type Config struct {
	Server ServerConfig `yaml:"server"`
	Remote RemoteConfig `yaml:"remote"`
	JWT    JWTConfig    `yaml:"jwt"`
	Chat   ChatConfig   `yaml:"chat"`
	Naming NamingConfig `yaml:"naming"`
	Log    LogConfig    `yaml:"log"`
	CORS   CORSConfig   `yaml:"cors"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RemoteConfig 远端问答服务
type RemoteConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	ReadAttempts uint          `yaml:"read_attempts"`
}

type JWTConfig struct {
	SecretKey string        `yaml:"secret_key"`
	TTL       time.Duration `yaml:"ttl"`
}

// ChatConfig 占位与失败提示文本
type ChatConfig struct {
	PendingText     string `yaml:"pending_text"`
	FailureOutline  string `yaml:"failure_outline"`
	FailureDetail   string `yaml:"failure_detail"`
	NameLimit       int    `yaml:"name_limit"`
	MaxLineSize     int    `yaml:"max_line_size"`
	SubscriberQueue int    `yaml:"subscriber_queue"`
}

type NamingConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type CORSConfig struct {
	AllowOrigins []string `yaml:"allow_origins"`
}

var Cfg *Config

// Default 未提供配置文件时使用的默认值
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Remote: RemoteConfig{
			BaseURL:      "http://localhost:8000",
			Timeout:      30 * time.Second,
			ReadAttempts: 3,
		},
		JWT: JWTConfig{
			TTL: 24 * time.Hour,
		},
		Chat: ChatConfig{
			PendingText:     "思考中...",
			FailureOutline:  "系統發生錯誤",
			FailureDetail:   "系統發生錯誤，請稍後再試。",
			NameLimit:       30,
			MaxLineSize:     1 << 20,
			SubscriberQueue: 64,
		},
		Naming: NamingConfig{
			Workers:   4,
			QueueSize: 100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"http://localhost:5173"},
		},
	}
}

// Load 读取 YAML 配置，path 为空时只使用默认值和环境变量。
// 加载成功后设置全局 Cfg。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	Cfg = cfg
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(envPrefix + "PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv(envPrefix + "REMOTE_BASE_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv(envPrefix + "JWT_SECRET"); v != "" {
		c.JWT.SecretKey = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(envPrefix + "NAMING_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sNAMING_WORKERS: %w", envPrefix, err)
		}
		c.Naming.Workers = n
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Remote.BaseURL == "" {
		errs = append(errs, errors.New("remote.base_url is required"))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Chat.NameLimit <= 0 {
		errs = append(errs, errors.New("chat.name_limit must be positive"))
	}
	if c.Naming.Workers <= 0 || c.Naming.QueueSize <= 0 {
		errs = append(errs, errors.New("naming.workers and naming.queue_size must be positive"))
	}
	return errors.Join(errs...)
}

// Addr 网关监听地址
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
