package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DefaultPath 是未指定配置文件时尝试读取的位置。
	DefaultPath = "configs/cryptonite.json"
	// DefaultAPIBaseURL 是助手后端的默认地址。
	DefaultAPIBaseURL = "http://localhost:3001/api"
)

// 环境变量名称。
const (
	EnvConfigPath    = "CRYPTONITE_CONFIG"
	EnvAPIBaseURL    = "CRYPTONITE_API_BASE_URL"
	EnvLegacyBaseURL = "NEXT_PUBLIC_API_BASE_URL"
	EnvRPCURL        = "CRYPTONITE_RPC_URL"
	EnvCluster       = "CRYPTONITE_CLUSTER"
	EnvWalletKeypair = "CRYPTONITE_WALLET_KEYPAIR"
	EnvLogLevel      = "CRYPTONITE_LOG_LEVEL"
)

// Config 描述了客户端在启动阶段需要加载的核心配置。
type Config struct {
	Assistant  AssistantConfig  `json:"assistant"`
	Ledger     LedgerConfig     `json:"ledger"`
	Wallet     WalletConfig     `json:"wallet"`
	Transcript TranscriptConfig `json:"transcript"`
	Events     EventsConfig     `json:"events"`
	Metrics    MetricsConfig    `json:"metrics"`
	Log        LogConfig        `json:"log"`
	Runtime    RuntimeConfig    `json:"runtime"`
}

// AssistantConfig 描述助手后端的访问方式。
type AssistantConfig struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回 HTTP 请求超时时间。
func (c AssistantConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LedgerConfig 包含访问 Solana 集群所需的参数。
type LedgerConfig struct {
	Cluster               string `json:"cluster"`
	RPCURL                string `json:"rpc_url"`
	ClusterConfig         string `json:"cluster_config"`
	ConfirmTimeoutSeconds int    `json:"confirm_timeout_seconds"`
	ProbeTimeoutSeconds   int    `json:"probe_timeout_seconds"`
	PollIntervalMillis    int    `json:"poll_interval_ms"`
}

// ConfirmTimeout 返回等待交易确认的上限。
func (c LedgerConfig) ConfirmTimeout() time.Duration {
	if c.ConfirmTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.ConfirmTimeoutSeconds) * time.Second
}

// ProbeTimeout 返回确认失败后状态探测的上限。
func (c LedgerConfig) ProbeTimeout() time.Duration {
	if c.ProbeTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// PollInterval 返回轮询签名状态的间隔。
func (c LedgerConfig) PollInterval() time.Duration {
	if c.PollIntervalMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// WalletConfig 指定本地密钥钱包。
type WalletConfig struct {
	KeypairPath string `json:"keypair_path"`
	LegacyOnly  bool   `json:"legacy_only"`
}

// TranscriptConfig 控制对话记录的持久化方式。
type TranscriptConfig struct {
	Driver          string      `json:"driver"`
	DSN             string      `json:"dsn"`
	MaxOpenConns    int         `json:"max_open_conns"`
	MaxIdleConns    int         `json:"max_idle_conns"`
	ConnMaxLifetime int         `json:"conn_max_lifetime_seconds"`
	Redis           RedisConfig `json:"redis"`
	DataDir         string      `json:"data_dir"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// EventsConfig 控制交易结果事件的投递。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 交换机。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

// MetricsConfig 指定 Prometheus 指标的监听地址，为空表示不启动。
type MetricsConfig struct {
	Address string `json:"address"`
}

// LogConfig 对应 pkg/logger 的配置。
type LogConfig struct {
	Level   string         `json:"level"`
	Format  string         `json:"format"`
	Outputs []string       `json:"outputs"`
	Audit   AuditLogConfig `json:"audit"`
}

// AuditLogConfig 控制审计日志。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir     string `json:"data_dir"`
	PresetsFile string `json:"presets_file"`
}

// Resolve 读取 .env、确定配置文件路径并加载配置。path 为空时依次使用
// CRYPTONITE_CONFIG 与默认路径，默认路径不存在时回落到默认值。
func Resolve(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("加载 .env 失败: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if !explicit {
		path = DefaultPath
	}

	cfg, err := Load(path)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = &Config{}
		cfg.applyDefaults(".")
	}
	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 检查互相依赖的字段。
func (c *Config) Validate() error {
	switch c.Transcript.Driver {
	case "memory", "file":
	case "mysql":
		if c.Transcript.DSN == "" {
			return errors.New("transcript.driver 为 mysql 时必须提供 dsn")
		}
	case "redis":
		if c.Transcript.Redis.Address == "" {
			return errors.New("transcript.driver 为 redis 时必须提供 redis.address")
		}
	default:
		return fmt.Errorf("不支持的 transcript.driver: %s", c.Transcript.Driver)
	}

	switch c.Events.Driver {
	case "none":
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("events.driver 为 rabbitmq 时必须提供 url")
		}
	default:
		return fmt.Errorf("不支持的 events.driver: %s", c.Events.Driver)
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Assistant.BaseURL == "" {
		c.Assistant.BaseURL = DefaultAPIBaseURL
	}

	if c.Transcript.Driver == "" {
		c.Transcript.Driver = "memory"
	}
	if c.Transcript.Redis.Prefix == "" {
		c.Transcript.Redis.Prefix = "cryptonite"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}
	if c.Events.RabbitMQ.Exchange == "" {
		c.Events.RabbitMQ.Exchange = "cryptonite.events"
	}
	if c.Events.RabbitMQ.RoutingKey == "" {
		c.Events.RabbitMQ.RoutingKey = "transaction.outcome"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir, "data")
	if c.Transcript.DataDir == "" {
		c.Transcript.DataDir = c.Runtime.DataDir
	} else {
		c.Transcript.DataDir = resolvePath(baseDir, c.Transcript.DataDir, "")
	}
	if c.Log.Audit.Enabled {
		if c.Log.Audit.Path == "" {
			c.Log.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
		} else {
			c.Log.Audit.Path = resolvePath(baseDir, c.Log.Audit.Path, "")
		}
	}
	if c.Ledger.ClusterConfig != "" {
		c.Ledger.ClusterConfig = resolvePath(baseDir, c.Ledger.ClusterConfig, "")
	}
	if c.Runtime.PresetsFile != "" {
		c.Runtime.PresetsFile = resolvePath(baseDir, c.Runtime.PresetsFile, "")
	}
	if c.Wallet.KeypairPath != "" {
		c.Wallet.KeypairPath = expandHome(c.Wallet.KeypairPath)
	}
}

// applyEnv 使用环境变量覆盖文件配置。
func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvAPIBaseURL)); v != "" {
		c.Assistant.BaseURL = v
	} else if v := strings.TrimSpace(getenv(EnvLegacyBaseURL)); v != "" {
		c.Assistant.BaseURL = v
	}
	if v := strings.TrimSpace(getenv(EnvRPCURL)); v != "" {
		c.Ledger.RPCURL = v
	}
	if v := strings.TrimSpace(getenv(EnvCluster)); v != "" {
		c.Ledger.Cluster = v
	}
	if v := strings.TrimSpace(getenv(EnvWalletKeypair)); v != "" {
		c.Wallet.KeypairPath = expandHome(v)
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		c.Log.Level = v
	}
}

func resolvePath(baseDir, value, fallback string) string {
	if value == "" {
		value = fallback
	}
	if value == "" || filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
