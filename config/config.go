// Package config 读取审计组件的 YAML 配置，并据此组装审计存储与控制器
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"audittrail/audit/notify/natsnotify"
	"audittrail/audit/store/redisstore"
	"audittrail/audit/store/sqlstore"
	"audittrail/codegen/snowflake"
	core "audittrail/data/db"
	"audittrail/errors"
	"audittrail/retry"
)

// 存储类型
const (
	StoreMemory = "memory"
	StoreSQL    = "sql"
	StoreRedis  = "redis"
)

// Config 顶层配置
type Config struct {
	Audit  AuditConfig  `yaml:"audit"`
	Store  StoreConfig  `yaml:"store"`
	Notify NotifyConfig `yaml:"notify"`
	Log    LogConfig    `yaml:"log"`
}

// AuditConfig 控制器行为
type AuditConfig struct {
	DisableTimeTaken bool `yaml:"disable_time_taken"`
	// Metrics 为 true 时向默认 Prometheus 注册表注册指标
	Metrics bool `yaml:"metrics"`
	// Fields 默认原型上的自定义字段
	Fields map[string]any `yaml:"fields"`
}

// StoreConfig 审计存储
type StoreConfig struct {
	Kind  string      `yaml:"kind"`
	SQL   SQLConfig   `yaml:"sql"`
	Redis RedisConfig `yaml:"redis"`
}

// SQLConfig SQL 存储
type SQLConfig struct {
	core.DBConfig   `yaml:",inline"`
	sqlstore.Config `yaml:",inline"`

	// AutoMigrate 为 true 时启动时建表
	AutoMigrate bool `yaml:"auto_migrate"`
}

// RedisConfig Redis 存储
type RedisConfig struct {
	redisstore.Config `yaml:",inline"`

	Addrs    []string         `yaml:"addrs"`
	Username string           `yaml:"username"`
	Password string           `yaml:"password"`
	DB       int              `yaml:"db"`
	IDs      snowflake.Config `yaml:"ids"`
}

// NotifyConfig 通知
type NotifyConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig NATS 通知
type NATSConfig struct {
	natsnotify.Config `yaml:",inline"`

	Enabled bool `yaml:"enabled"`
}

// LogConfig 日志
type LogConfig struct {
	Level  string `yaml:"level"`
	Prefix string `yaml:"prefix"`
}

// Default 返回默认配置：内存存储、info 级别日志
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Kind: StoreMemory,
			SQL: SQLConfig{
				DBConfig:    core.DBConfig{Driver: "sqlite", Database: "audit.db"},
				AutoMigrate: true,
			},
			Redis: RedisConfig{Addrs: []string{"127.0.0.1:6379"}},
		},
		Notify: NotifyConfig{NATS: NATSConfig{Config: natsnotify.Config{
			ConnectTimeout: 5 * time.Second,
			Retry:          retry.DefaultConfig(),
		}}},
		Log:    LogConfig{Level: "info", Prefix: "audittrail"},
	}
}

// Load 从文件读取配置，未出现的键保持默认值
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidConfig, "read config file").WithContext("path", path)
	}
	return Parse(data)
}

// Parse 解析 YAML 内容
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidConfig, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	switch c.Store.Kind {
	case StoreMemory, StoreSQL, StoreRedis:
	default:
		return errors.Newf(errors.ErrCodeInvalidConfig, "unknown store kind %q", c.Store.Kind)
	}
	if c.Store.Kind == StoreRedis && len(c.Store.Redis.Addrs) == 0 {
		return errors.NewError(errors.ErrCodeInvalidConfig, "redis store requires at least one address")
	}
	if c.Store.Kind == StoreSQL && c.Store.SQL.Database == "" {
		return errors.NewError(errors.ErrCodeInvalidConfig, "sql store requires a dsn")
	}
	if c.Notify.NATS.Enabled && c.Notify.NATS.URL == "" {
		return errors.NewError(errors.ErrCodeInvalidConfig, "nats notify requires a url")
	}
	return nil
}

// Save 写回 YAML 文件
func Save(c *Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
