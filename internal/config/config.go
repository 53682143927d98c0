package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Storage   StorageConfig
	Tracing   TracingConfig `mapstructure:"tracing"`
	Redis     RedisConfig
	Ranking   RankingConfig   `mapstructure:"ranking"`
	Bulk      BulkConfig      `mapstructure:"bulk"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool `mapstructure:"-"` // 强制执行数据库迁移
	MigrateOnly  bool `mapstructure:"-"` // 仅迁移模式（迁移后退出）
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

type StorageConfig struct {
	Type          string `mapstructure:"type"`
	LocalPath     string `mapstructure:"local_path"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

// RankingConfig 排名计算相关配置
type RankingConfig struct {
	ComputeTimeoutSeconds int `mapstructure:"compute_timeout_seconds"` // 单次排名计算超时（秒）
	StalenessMinutes      int `mapstructure:"staleness_minutes"`       // 排名过期窗口（分钟），过期后由后台任务重算
	WorkerQueueSize       int `mapstructure:"worker_queue_size"`       // 后台排名调度器队列长度
}

func (c RankingConfig) ComputeTimeout() time.Duration {
	if c.ComputeTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.ComputeTimeoutSeconds) * time.Second
}

func (c RankingConfig) Staleness() time.Duration {
	if c.StalenessMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.StalenessMinutes) * time.Minute
}

func (c RankingConfig) QueueSize() int {
	if c.WorkerQueueSize <= 0 {
		return 256
	}
	return c.WorkerQueueSize
}

// BulkConfig 批量写入相关配置
type BulkConfig struct {
	ChunkSize           int    `mapstructure:"chunk_size"`            // 每个事务最多操作数（存储层硬限制500）
	MaxRetries          int    `mapstructure:"max_retries"`           // 每个块失败后的额外重试次数
	RetryBackoffSeconds int    `mapstructure:"retry_backoff_seconds"` // 重试基础延迟，实际延迟 = 尝试次数 × 基础延迟
	AdminKeyHash        string `mapstructure:"admin_key_hash"`        // 管理批量接口 API key 的 bcrypt 哈希
}

func (c BulkConfig) EffectiveChunkSize() int {
	if c.ChunkSize <= 0 || c.ChunkSize > 500 {
		return 500
	}
	return c.ChunkSize
}

func (c BulkConfig) EffectiveRetries() int {
	if c.MaxRetries <= 0 {
		return 3
	}
	return c.MaxRetries
}

func (c BulkConfig) RetryBackoff() time.Duration {
	if c.RetryBackoffSeconds <= 0 {
		return time.Second
	}
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}

// MigrateOnStartup release 模式默认跳过自动迁移，需通过 -migrate 显式触发；
// 其余模式启动即迁移，方便本地联调
func (c *Config) MigrateOnStartup() bool {
	return c.ForceMigrate || c.Server.Mode != "release"
}

// Store 持有当前生效的配置快照。热更新用整体替换而不是原地覆写，
// 请求处理方每次 Load 拿到的都是一致的完整快照
type Store struct {
	p atomic.Pointer[Config]
}

func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.p.Store(cfg)
	return s
}

func (s *Store) Load() *Config {
	return s.p.Load()
}

func (s *Store) Replace(cfg *Config) {
	s.p.Store(cfg)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("EDURANK")
	viper.AutomaticEnv()

	// Database
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	viper.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	viper.BindEnv("server.mode", "SERVER_MODE")

	// Storage
	viper.BindEnv("storage.type", "STORAGE_TYPE")
	viper.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	viper.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	viper.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	viper.BindEnv("storage.minio_bucket", "MINIO_BUCKET")

	// Tracing
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	// Bulk
	viper.BindEnv("bulk.admin_key_hash", "BULK_ADMIN_KEY_HASH")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour

	// 生产环境校验 JWT Secret 强度
	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	if cfg.Storage.Type == "local" {
		if _, err := os.Stat(cfg.Storage.LocalPath); os.IsNotExist(err) {
			os.MkdirAll(cfg.Storage.LocalPath, 0755)
		}
	}

	return &cfg, nil
}
