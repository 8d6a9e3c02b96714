package conf

import (
	"fmt"
	"os"
	"time"

	"mediavault/cmd/collection-index/internal/data"
	"mediavault/pkg/config"
	"mediavault/pkg/logger"
	"mediavault/pkg/observability"
	"mediavault/pkg/resilience"
)

// Config 应用配置
type Config struct {
	Server        ServerConfig             `mapstructure:"server"`
	Database      DatabaseConfig           `mapstructure:"database"`
	Redis         data.RedisConfig         `mapstructure:"redis"`
	Minio         MinioConfig              `mapstructure:"minio"`
	Kafka         KafkaConfig              `mapstructure:"kafka"`
	Index         IndexConfig              `mapstructure:"index"`
	Breaker       resilience.BreakerConfig `mapstructure:"thumbnail_breaker"`
	Observability ObservabilityConfig      `mapstructure:"observability"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 文档库连接配置
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN 拼接postgres连接串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// MinioConfig 缩略图对象存储配置
type MinioConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// KafkaConfig 事件消费配置
type KafkaConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`
	GroupID       string   `mapstructure:"group_id"`
	Topic         string   `mapstructure:"topic"`
	InitialOffset string   `mapstructure:"initial_offset"` // newest, oldest
}

// IndexConfig 索引行为配置
type IndexConfig struct {
	// ThumbnailTTL 缩略图缓存键过期时间
	ThumbnailTTL time.Duration `mapstructure:"thumbnail_ttl"`

	// DashboardWindow 仪表盘统计的新鲜度窗口
	DashboardWindow time.Duration `mapstructure:"dashboard_window"`

	// DashboardRefreshInterval 周期全量重算间隔，0关闭
	DashboardRefreshInterval time.Duration `mapstructure:"dashboard_refresh_interval"`

	// RebuildOnStart 启动时重建模式：changed/full/force/verify/off
	RebuildOnStart string `mapstructure:"rebuild_on_start"`

	// RebuildBatchSize 重建扫描批大小
	RebuildBatchSize int `mapstructure:"rebuild_batch_size"`

	// WarmThumbnails 重建时是否预热缩略图
	WarmThumbnails bool `mapstructure:"warm_thumbnails"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	ServiceName    string                      `mapstructure:"service_name"`
	ServiceVersion string                      `mapstructure:"service_version"`
	Environment    string                      `mapstructure:"environment"`
	Log            logger.Config               `mapstructure:"log"`
	Tracing        observability.TracingConfig `mapstructure:"tracing"`
}

// Load 加载配置
// 文件缺省时使用默认值，环境变量（MEDIAVAULT_前缀）覆盖任意配置项
func Load(configFile string) (*Config, error) {
	mgr, err := config.NewManager(config.Options{
		ConfigFile: configFile,
		Defaults:   defaults(),
	})
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := mgr.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// 敏感配置允许独立环境变量覆盖
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Minio.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Minio.SecretKey = v
	}
	if v := os.Getenv("OTEL_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}

	return &cfg, nil
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.http_addr":        ":8080",
		"server.mode":             "release",
		"server.read_timeout":     "15s",
		"server.write_timeout":    "30s",
		"server.request_timeout":  "30s",
		"server.shutdown_timeout": "30s",

		"database.host":              "localhost",
		"database.port":              5432,
		"database.user":              "mediavault",
		"database.password":          "mediavault",
		"database.dbname":            "mediavault",
		"database.sslmode":           "disable",
		"database.max_open_conns":    25,
		"database.max_idle_conns":    5,
		"database.conn_max_lifetime": "30m",
		"database.log_level":         "warn",

		"redis.addr":           "localhost:6379",
		"redis.db":             0,
		"redis.pool_size":      20,
		"redis.min_idle_conns": 5,
		"redis.dial_timeout":   "5s",
		"redis.read_timeout":   "3s",
		"redis.write_timeout":  "3s",

		"minio.enabled":  true,
		"minio.endpoint": "localhost:9000",
		"minio.bucket":   "media-thumbs",
		"minio.use_ssl":  false,

		"kafka.enabled":        true,
		"kafka.brokers":        []string{"localhost:9092"},
		"kafka.group_id":       "collection-index",
		"kafka.topic":          "collection.events",
		"kafka.initial_offset": "newest",

		"index.thumbnail_ttl":              "24h",
		"index.dashboard_window":           "1m",
		"index.dashboard_refresh_interval": "5m",
		"index.rebuild_on_start":           "changed",
		"index.rebuild_batch_size":         500,
		"index.warm_thumbnails":            true,

		"thumbnail_breaker.max_requests":  3,
		"thumbnail_breaker.interval":      "10s",
		"thumbnail_breaker.timeout":       "30s",
		"thumbnail_breaker.min_requests":  5,
		"thumbnail_breaker.failure_ratio": 0.6,

		"observability.service_name":          "collection-index",
		"observability.service_version":       "dev",
		"observability.environment":           "dev",
		"observability.log.level":             "info",
		"observability.log.format":            "json",
		"observability.tracing.enabled":       false,
		"observability.tracing.service_name":  "collection-index",
		"observability.tracing.endpoint":      "localhost:4317",
		"observability.tracing.sampling_rate": 1.0,
	}
}
