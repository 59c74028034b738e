package engine

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/XXueTu/graph_automation/domain/retry"
	"github.com/XXueTu/graph_automation/infrastructure/notification"
	"github.com/XXueTu/graph_automation/types"
)

// 存储驱动
const (
	DriverMemory = "memory"
	DriverBadger = "badger"
	DriverMySQL  = "mysql"
)

// EnvPrefix 环境变量覆盖前缀
const EnvPrefix = "AUTOMATION_"

// Config 引擎配置
type Config struct {
	Storage  StorageConfig           `yaml:"storage"`
	Workers  WorkerConfig            `yaml:"workers"`
	Retry    map[string]retry.Policy `yaml:"retry"`
	HTTP     HTTPConfig              `yaml:"http"`
	Actions  ActionsConfig           `yaml:"actions"`
	Triggers TriggersConfig          `yaml:"triggers"`
	Records  RecordsConfig           `yaml:"records"`
	Logging  LoggingConfig           `yaml:"logging"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Driver    string         `yaml:"driver"`
	Badger    BadgerConfig   `yaml:"badger"`
	MySQL     MySQLConfig    `yaml:"mysql"`
	DedupeTTL types.Duration `yaml:"dedupe_ttl"`
}

// BadgerConfig 嵌入式存储配置
type BadgerConfig struct {
	Dir        string         `yaml:"dir"`
	SyncWrites bool           `yaml:"sync_writes"`
	GCInterval types.Duration `yaml:"gc_interval"`
}

// MySQLConfig MySQL 配置
type MySQLConfig struct {
	DSN             string         `yaml:"dsn"`
	MaxOpenConns    int            `yaml:"max_open_conns"`
	MaxIdleConns    int            `yaml:"max_idle_conns"`
	ConnMaxLifetime types.Duration `yaml:"conn_max_lifetime"`
}

// WorkerConfig 工作者与调度配置
type WorkerConfig struct {
	Count           int            `yaml:"count"`
	PollInterval    types.Duration `yaml:"poll_interval"`
	Visibility      types.Duration `yaml:"visibility"`
	LeaseTTL        types.Duration `yaml:"lease_ttl"`
	LeaseRetryDelay types.Duration `yaml:"lease_retry_delay"`
	ReapInterval    types.Duration `yaml:"reap_interval"`
	ErrorBackoff    types.Duration `yaml:"error_backoff"`
	ActionTimeout   types.Duration `yaml:"action_timeout"`
	// RecoverInterval 待处理运行恢复扫描间隔，RecoverAfter 之前就绪却仍未开始的运行重新入队
	RecoverInterval types.Duration `yaml:"recover_interval"`
	RecoverAfter    types.Duration `yaml:"recover_after"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr            string         `yaml:"addr"`
	MaxBodyBytes    int64          `yaml:"max_body_bytes"`
	ReadTimeout     types.Duration `yaml:"read_timeout"`
	WriteTimeout    types.Duration `yaml:"write_timeout"`
	ShutdownTimeout types.Duration `yaml:"shutdown_timeout"`
}

// ActionsConfig 内置动作配置
type ActionsConfig struct {
	Webhook       WebhookActionConfig     `yaml:"webhook"`
	SMTP          notification.SMTPConfig `yaml:"smtp"`
	ChatURL       string                  `yaml:"chat_url"`
	NotifyURL     string                  `yaml:"notify_url"`
	NotifyTimeout types.Duration          `yaml:"notify_timeout"`
	RowStore      RowStoreConfig          `yaml:"row_store"`
}

// WebhookActionConfig 出站 Webhook 动作配置
type WebhookActionConfig struct {
	Timeout        types.Duration `yaml:"timeout"`
	MaxRetries     int            `yaml:"max_retries"`
	InitialBackoff types.Duration `yaml:"initial_backoff"`
	MaxBackoff     types.Duration `yaml:"max_backoff"`
}

// RowStoreConfig 行存储，URL 为空时使用内存实现
type RowStoreConfig struct {
	URL     string         `yaml:"url"`
	Token   string         `yaml:"token"`
	Timeout types.Duration `yaml:"timeout"`
}

// TriggersConfig 触发器配置，TickInterval 为 0 时不启动内部时钟
type TriggersConfig struct {
	TickInterval types.Duration `yaml:"tick_interval"`
	TickWindow   types.Duration `yaml:"tick_window"`
}

// RecordsConfig 执行记录保留，Retention 为 0 时不清理
type RecordsConfig struct {
	Retention     types.Duration `yaml:"retention"`
	PurgeInterval types.Duration `yaml:"purge_interval"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:    DriverMemory,
			Badger:    BadgerConfig{Dir: "data/automation", GCInterval: types.Duration(10 * time.Minute)},
			MySQL:     MySQLConfig{MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: types.Duration(30 * time.Minute)},
			DedupeTTL: types.Duration(30 * 24 * time.Hour),
		},
		Workers: WorkerConfig{
			Count:           4,
			PollInterval:    types.Duration(500 * time.Millisecond),
			Visibility:      types.Duration(time.Minute),
			LeaseTTL:        types.Duration(45 * time.Second),
			LeaseRetryDelay: types.Duration(time.Second),
			ReapInterval:    types.Duration(10 * time.Second),
			ErrorBackoff:    types.Duration(time.Second),
			ActionTimeout:   types.Duration(30 * time.Second),
			RecoverInterval: types.Duration(time.Minute),
			RecoverAfter:    types.Duration(5 * time.Minute),
		},
		Retry: map[string]retry.Policy{
			"default": retry.DefaultPolicy(),
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			MaxBodyBytes:    1 << 20,
			ReadTimeout:     types.Duration(15 * time.Second),
			WriteTimeout:    types.Duration(30 * time.Second),
			ShutdownTimeout: types.Duration(10 * time.Second),
		},
		Actions: ActionsConfig{
			Webhook: WebhookActionConfig{
				Timeout:        types.Duration(10 * time.Second),
				MaxRetries:     2,
				InitialBackoff: types.Duration(200 * time.Millisecond),
				MaxBackoff:     types.Duration(2 * time.Second),
			},
			NotifyTimeout: types.Duration(10 * time.Second),
			RowStore:      RowStoreConfig{Timeout: types.Duration(10 * time.Second)},
		},
		Triggers: TriggersConfig{
			TickInterval: types.Duration(time.Minute),
			TickWindow:   types.Duration(time.Hour),
		},
		Records: RecordsConfig{
			PurgeInterval: types.Duration(time.Hour),
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig 读取 YAML 配置，未设置的字段取默认值，最后应用环境变量
// path 为空时只使用默认值和环境变量
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := mergo.Merge(cfg, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("merge config defaults: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv 应用 AUTOMATION_* 环境变量覆盖
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"STORAGE_DRIVER": &c.Storage.Driver,
		"BADGER_DIR":     &c.Storage.Badger.Dir,
		"MYSQL_DSN":      &c.Storage.MySQL.DSN,
		"HTTP_ADDR":      &c.HTTP.Addr,
		"LOG_LEVEL":      &c.Logging.Level,
		"LOG_FORMAT":     &c.Logging.Format,
		"ROWSTORE_URL":   &c.Actions.RowStore.URL,
		"ROWSTORE_TOKEN": &c.Actions.RowStore.Token,
		"SMTP_HOST":      &c.Actions.SMTP.Host,
		"SMTP_USERNAME":  &c.Actions.SMTP.Username,
		"SMTP_PASSWORD":  &c.Actions.SMTP.Password,
		"SMTP_FROM":      &c.Actions.SMTP.From,
		"CHAT_URL":       &c.Actions.ChatURL,
		"NOTIFY_URL":     &c.Actions.NotifyURL,
	}
	for name, target := range strs {
		if value, ok := lookup(EnvPrefix + name); ok {
			*target = value
		}
	}

	if value, ok := lookup(EnvPrefix + "WORKERS"); ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%sWORKERS: %w", EnvPrefix, err)
		}
		c.Workers.Count = n
	}
	if value, ok := lookup(EnvPrefix + "SMTP_PORT"); ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%sSMTP_PORT: %w", EnvPrefix, err)
		}
		c.Actions.SMTP.Port = n
	}

	durations := map[string]*types.Duration{
		"POLL_INTERVAL":    &c.Workers.PollInterval,
		"TICK_INTERVAL":    &c.Triggers.TickInterval,
		"RECORD_RETENTION": &c.Records.Retention,
	}
	for name, target := range durations {
		value, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*target = types.Duration(parsed)
	}
	return nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverBadger:
		if c.Storage.Badger.Dir == "" {
			return fmt.Errorf("storage.badger.dir is required for the badger driver")
		}
	case DriverMySQL:
		if c.Storage.MySQL.DSN == "" {
			return fmt.Errorf("storage.mysql.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be positive, got %d", c.Workers.Count)
	}
	// 动作必须在租约内结束，租约必须在工作项重新可见之前过期
	if c.Workers.LeaseTTL <= c.Workers.ActionTimeout+c.Workers.LeaseRetryDelay {
		return fmt.Errorf("workers.lease_ttl (%s) must exceed workers.action_timeout (%s) plus workers.lease_retry_delay (%s)",
			c.Workers.LeaseTTL, c.Workers.ActionTimeout, c.Workers.LeaseRetryDelay)
	}
	if c.Workers.Visibility < c.Workers.LeaseTTL {
		return fmt.Errorf("workers.visibility (%s) must be at least workers.lease_ttl (%s)", c.Workers.Visibility, c.Workers.LeaseTTL)
	}
	for kind, policy := range c.Retry {
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("retry.%s: %w", kind, err)
		}
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// NewLogger 按日志配置创建 slog 日志器
func (c *Config) NewLogger() *slog.Logger {
	level, _ := parseLevel(c.Logging.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}
