package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"PenPal/pkg/logger"
	"PenPal/pkg/plugin"
)

// EnvPath 指定配置文件路径的环境变量。
const EnvPath = "PENPAL_CONFIG"

// DefaultPath 是未设置 EnvPath 时使用的配置文件。
const DefaultPath = "configs/penpal.yaml"

// Config 描述了 PenPal 守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Logging  logger.Config        `yaml:"logging"`
	Plugins  plugin.ManagerConfig `yaml:"plugins"`
	Registry RegistryConfig       `yaml:"registry"`
	Events   EventsConfig         `yaml:"events"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// RegistryConfig 选择插件快照的存储后端。
type RegistryConfig struct {
	Driver string      `yaml:"driver"`
	MySQL  MySQLConfig `yaml:"mysql"`
	Redis  RedisConfig `yaml:"redis"`
}

// MySQLConfig 描述 MySQL 连接信息。
type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig 描述 Redis 连接信息以及快照键。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
	History  int    `yaml:"history"`
}

// EventsConfig 选择生命周期事件的发布方式。
type EventsConfig struct {
	Driver   string         `yaml:"driver"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig 描述事件投递的 RabbitMQ 参数。
type RabbitMQConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// Path 返回配置文件路径，优先读取环境变量。
func Path() string {
	if path := strings.TrimSpace(os.Getenv(EnvPath)); path != "" {
		return path
	}
	return DefaultPath
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查驱动名称与必填字段。
func (c *Config) Validate() error {
	switch c.Registry.Driver {
	case "memory":
	case "mysql":
		if c.Registry.MySQL.DSN == "" {
			return errors.New("registry.mysql.dsn 不能为空")
		}
	case "redis":
		if c.Registry.Redis.Address == "" {
			return errors.New("registry.redis.address 不能为空")
		}
	default:
		return fmt.Errorf("未知的 registry.driver: %s", c.Registry.Driver)
	}

	switch c.Events.Driver {
	case "memory", "none":
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("events.rabbitmq.url 不能为空")
		}
	default:
		return fmt.Errorf("未知的 events.driver: %s", c.Events.Driver)
	}

	return c.Plugins.Validate()
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}

	if c.Plugins.PluginDir == "" {
		c.Plugins.PluginDir = filepath.Join(baseDir, "plugins")
	} else if !filepath.IsAbs(c.Plugins.PluginDir) {
		c.Plugins.PluginDir = filepath.Join(baseDir, c.Plugins.PluginDir)
	}

	if c.Registry.Driver == "" {
		c.Registry.Driver = "memory"
	}
	if c.Registry.Redis.Key == "" {
		c.Registry.Redis.Key = "penpal:registry"
	}
	if c.Registry.Redis.History <= 0 {
		c.Registry.Redis.History = 20
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "penpal.plugin.events"
	}
}
