package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"tfs-insight/backend/internal/reconcile"
)

// Config 应用全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port        int             `mapstructure:"port"`
	CORS        CORSConfig      `mapstructure:"cors"`
	MaxUploadMB int             `mapstructure:"max_upload_mb"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// RateLimitConfig 导入/重算接口的限流配置
type RateLimitConfig struct {
	Requests      int `mapstructure:"requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

// DatabaseConfig PostgreSQL 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 分钟
}

// DSN 生成 PostgreSQL 连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.Timezone,
	)
}

// RedisConfig Redis 配置（任务写锁 + 限流）
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// ReconcileConfig 对账流水线业务规则
type ReconcileConfig struct {
	Policy             string                   `mapstructure:"policy"`
	SkipActivities     []string                 `mapstructure:"skip_activities"`
	IDRange            IDRangeConfig            `mapstructure:"id_range"`
	SpecialContributor SpecialContributorConfig `mapstructure:"special_contributor"`
	UploadDir          string                   `mapstructure:"upload_dir"`
}

// IDRangeConfig 纯数字 TFS ID 的有效区间
type IDRangeConfig struct {
	Min int64 `mapstructure:"min"`
	Max int64 `mapstructure:"max"`
}

// SpecialContributorConfig 特殊贡献者规则；Name 为空表示不启用
type SpecialContributorConfig struct {
	Name           string `mapstructure:"name"`
	DefaultQuality int    `mapstructure:"default_quality"`
	FallbackTaskID int64  `mapstructure:"fallback_task_id"`
}

// PipelineConfig 转换为流水线配置
func (c *ReconcileConfig) PipelineConfig() reconcile.Config {
	policy, _ := reconcile.ParsePolicy(c.Policy)
	return reconcile.Config{
		Policy:                    policy,
		SkipActivities:            c.SkipActivities,
		Contributor:               c.SpecialContributor.Name,
		ContributorFallbackTaskID: c.SpecialContributor.FallbackTaskID,
		MinID:                     c.IDRange.Min,
		MaxID:                     c.IDRange.Max,
	}
}

// Load 从配置文件与环境变量加载配置
// 优先级：环境变量 > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	v := viper.New()

	// ── 默认值 ──
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors.allow_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.max_upload_mb", 20)
	v.SetDefault("server.rate_limit.requests", 10)
	v.SetDefault("server.rate_limit.window_seconds", 60)

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "tfs_insight")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", 60)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_paths", []string{"stdout"})

	v.SetDefault("reconcile.policy", string(reconcile.PolicyDeveloperSplit))
	v.SetDefault("reconcile.skip_activities", reconcile.DefaultSkipActivities)
	v.SetDefault("reconcile.id_range.min", reconcile.DefaultMinID)
	v.SetDefault("reconcile.id_range.max", reconcile.DefaultMaxID)
	v.SetDefault("reconcile.special_contributor.name", "")
	v.SetDefault("reconcile.special_contributor.default_quality", 4)
	v.SetDefault("reconcile.special_contributor.fallback_task_id", 7300)
	v.SetDefault("reconcile.upload_dir", "")

	// ── 配置文件 ──
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// ── 环境变量 ──
	v.SetEnvPrefix("TFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件不存在时仅依赖默认值和环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验关键配置项
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("配置校验失败: server.port 必须在 1-65535 之间")
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("配置校验失败: server.max_upload_mb 必须大于 0")
	}
	if _, err := reconcile.ParsePolicy(c.Reconcile.Policy); err != nil {
		return fmt.Errorf("配置校验失败: reconcile.policy: %w", err)
	}
	if c.Reconcile.IDRange.Min > 0 && c.Reconcile.IDRange.Max > 0 && c.Reconcile.IDRange.Min > c.Reconcile.IDRange.Max {
		return fmt.Errorf("配置校验失败: reconcile.id_range.min 不能大于 max")
	}
	if q := c.Reconcile.SpecialContributor.DefaultQuality; q < 0 || q > 5 {
		return fmt.Errorf("配置校验失败: reconcile.special_contributor.default_quality 必须在 1-5 之间")
	}
	return nil
}
