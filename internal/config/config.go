// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 当前配置的单例实例
var (
	currentConfig *Config
	configMutex   sync.RWMutex
)

// Config 服务启动配置。用户可编辑的 API 设置保存在存储里，不在这里。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DataDir  string         `mapstructure:"data_dir"`
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Image    ImageConfig    `mapstructure:"image"`
	Security SecurityConfig `mapstructure:"security"`
}

type ServerConfig struct {
	Port          string `mapstructure:"port"`
	DebugMode     bool   `mapstructure:"debug"`
	RatePerMinute int    `mapstructure:"rate_per_minute"`

	// AllowedOrigins 允许跨域和建立 WebSocket 的浏览器来源
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// StoreConfig 存储后端：file 或 redis
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AnalysisConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type ImageConfig struct {
	MaxBytes     int64         `mapstructure:"max_bytes"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// SecurityConfig Secret 非空时存储中的 API Key 会被加密；RequireAuth 时同一口令用于签发访问令牌
type SecurityConfig struct {
	Secret      string        `mapstructure:"secret"`
	RequireAuth bool          `mapstructure:"require_auth"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.rate_per_minute", 120)
	v.SetDefault("server.allowed_origins", []string{"http://localhost", "http://127.0.0.1", "chrome-extension://*"})
	v.SetDefault("data_dir", "data")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("store.backend", "file")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("analysis.timeout", 120*time.Second)
	v.SetDefault("image.max_bytes", int64(20<<20))
	v.SetDefault("image.fetch_timeout", 30*time.Second)
	v.SetDefault("security.secret", "")
	v.SetDefault("security.require_auth", false)
	v.SetDefault("security.token_ttl", time.Hour)
}

// Load 按 默认值 < 配置文件 < 环境变量 的顺序加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("hoverlens")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	if dir := os.Getenv("HOVERLENS_CONFIG_DIR"); dir != "" {
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix("HOVERLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMutex.Lock()
	currentConfig = &cfg
	configMutex.Unlock()

	return &cfg, nil
}

// Validate 检查配置是否可用
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("不支持的存储后端: %s", c.Store.Backend)
	}
	if c.Server.Port == "" {
		return fmt.Errorf("端口不能为空")
	}
	if c.Analysis.Timeout <= 0 {
		return fmt.Errorf("分析超时必须大于0")
	}
	if c.Image.MaxBytes <= 0 {
		return fmt.Errorf("图片大小上限必须大于0")
	}
	if c.Security.RequireAuth && c.Security.Secret == "" {
		return fmt.Errorf("启用访问令牌时必须设置 security.secret")
	}
	return nil
}

// EnsureDirs 创建数据目录
func (c *Config) EnsureDirs() error {
	dirs := []string{c.DataDir}
	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败 %s: %w", dir, err)
		}
	}
	return nil
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 未加载时返回默认配置
		v := viper.New()
		setDefaults(v)
		var cfg Config
		_ = v.Unmarshal(&cfg)
		return &cfg
	}

	configCopy := *currentConfig
	return &configCopy
}
