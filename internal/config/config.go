package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/life2you_mini/pledgeflow/internal/model"
)

// Config 应用配置结构
type Config struct {
	System       SystemConfig       `mapstructure:"system" yaml:"system"`
	Storage      StorageConfig      `mapstructure:"storage" yaml:"storage"`
	Redis        RedisConfig        `mapstructure:"redis" yaml:"redis"`
	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Plans        []PlanConfig       `mapstructure:"plans" yaml:"plans"`
	Features     FeaturesConfig     `mapstructure:"features" yaml:"features"`
	Notification NotificationConfig `mapstructure:"notification" yaml:"notification"`
}

// SystemConfig 系统配置
type SystemConfig struct {
	LogLevel        string `mapstructure:"log_level" yaml:"log_level"`
	LogDir          string `mapstructure:"log_dir" yaml:"log_dir"`
	ExpirySweepSpec string `mapstructure:"expiry_sweep_spec" yaml:"expiry_sweep_spec"` // 订单过期扫描，cron 表达式
	PledgeSweepSpec string `mapstructure:"pledge_sweep_spec" yaml:"pledge_sweep_spec"` // 质押到期结算，cron 表达式
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type string `mapstructure:"type" yaml:"type"` // memory, redis, postgres, sqlite
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	Password  string `mapstructure:"password" yaml:"password"` // 从配置文件或环境变量中读取
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// DatabaseConfig 关系型数据库配置
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"` // 从配置文件或环境变量中读取
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	Mode string `mapstructure:"mode" yaml:"mode"` // gin 运行模式: debug, release, test
}

// PlanConfig 质押计划
type PlanConfig struct {
	ID                string  `mapstructure:"id" yaml:"id"`
	Name              string  `mapstructure:"name" yaml:"name"`
	Min               float64 `mapstructure:"min" yaml:"min"`
	Max               float64 `mapstructure:"max" yaml:"max"`
	DailyYieldPercent float64 `mapstructure:"daily_yield_percent" yaml:"daily_yield_percent"`
	CycleDays         int     `mapstructure:"cycle_days" yaml:"cycle_days"`
}

// FeaturesConfig 期权订单配置
type FeaturesConfig struct {
	DefaultLever     string  `mapstructure:"default_lever" yaml:"default_lever"`
	MaxPeriodSeconds int64   `mapstructure:"max_period_seconds" yaml:"max_period_seconds"` // 下单周期上限(秒)
	MaxPeriodPercent float64 `mapstructure:"max_period_percent" yaml:"max_period_percent"` // 收益率上限(%)
	MaxLever         float64 `mapstructure:"max_lever" yaml:"max_lever"`                   // 杠杆倍数上限
}

// NotificationConfig 通知配置
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Queue   string `mapstructure:"queue" yaml:"queue"` // Redis 队列名
}

// LoadConfig 从文件加载配置
func LoadConfig(filePath string) (*Config, error) {
	// 使用Viper读取配置
	v := viper.New()
	v.SetConfigFile(filePath)
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 环境变量覆盖，如 PLEDGEFLOW_SERVER_ADDR
	v.SetEnvPrefix("PLEDGEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 特定环境变量映射，如果存在这些环境变量则优先使用
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		v.Set("redis.password", redisPassword)
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		v.Set("database.dsn", dsn)
	}

	// 解析配置到结构体
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if len(config.Plans) == 0 {
		config.Plans = defaultPlanConfigs()
	}

	// 验证配置有效性
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

// LoadConfigFromYAML 不经过viper直接解析YAML，缺省项使用默认值
func LoadConfigFromYAML(filePath string) (*Config, error) {
	yamlFile, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := GetDefaultConfig()
	config.Plans = nil
	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if len(config.Plans) == 0 {
		config.Plans = defaultPlanConfigs()
	}

	// 验证配置有效性
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	def := GetDefaultConfig()
	v.SetDefault("system.log_level", def.System.LogLevel)
	v.SetDefault("system.log_dir", def.System.LogDir)
	v.SetDefault("system.expiry_sweep_spec", def.System.ExpirySweepSpec)
	v.SetDefault("system.pledge_sweep_spec", def.System.PledgeSweepSpec)
	v.SetDefault("storage.type", def.Storage.Type)
	v.SetDefault("redis.host", def.Redis.Host)
	v.SetDefault("redis.port", def.Redis.Port)
	v.SetDefault("redis.key_prefix", def.Redis.KeyPrefix)
	v.SetDefault("database.max_open_conns", def.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", def.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", def.Database.ConnMaxLifetime)
	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.mode", def.Server.Mode)
	v.SetDefault("features.default_lever", def.Features.DefaultLever)
	v.SetDefault("features.max_period_seconds", def.Features.MaxPeriodSeconds)
	v.SetDefault("features.max_period_percent", def.Features.MaxPeriodPercent)
	v.SetDefault("features.max_lever", def.Features.MaxLever)
	v.SetDefault("notification.queue", def.Notification.Queue)
}

// maxPeriodSeconds time.Duration 能表示的最大秒数
const maxPeriodSeconds = int64(math.MaxInt64 / int64(time.Second))

// validateConfig 验证配置有效性
func validateConfig(config *Config) error {
	switch config.Storage.Type {
	case "memory":
	case "redis":
		// 验证Redis配置
		if config.Redis.Host == "" {
			return fmt.Errorf("Redis主机不能为空")
		}
		if config.Redis.Port <= 0 || config.Redis.Port > 65535 {
			return fmt.Errorf("无效的Redis端口")
		}
	case "postgres", "sqlite":
		if config.Database.DSN == "" {
			return fmt.Errorf("%s 存储需要配置 database.dsn", config.Storage.Type)
		}
	default:
		return fmt.Errorf("不支持的存储类型: %s", config.Storage.Type)
	}

	// Redis 通知需要 Redis 连接
	if config.Notification.Enabled && (config.Redis.Host == "" || config.Redis.Port <= 0) {
		return fmt.Errorf("启用通知时必须配置Redis")
	}

	if config.Server.Addr == "" {
		return fmt.Errorf("服务监听地址不能为空")
	}

	// cron 表达式带秒字段
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"system.expiry_sweep_spec": config.System.ExpirySweepSpec,
		"system.pledge_sweep_spec": config.System.PledgeSweepSpec,
	} {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("无效的 %s: %w", name, err)
		}
	}

	// 周期换算成 time.Duration 不能溢出
	if config.Features.MaxPeriodSeconds <= 0 || config.Features.MaxPeriodSeconds > maxPeriodSeconds {
		return fmt.Errorf("features.max_period_seconds 须在 1 到 %d 之间", maxPeriodSeconds)
	}
	if config.Features.MaxPeriodPercent <= 0 {
		return fmt.Errorf("features.max_period_percent 必须大于0")
	}
	if config.Features.MaxLever <= 0 {
		return fmt.Errorf("features.max_lever 必须大于0")
	}

	// 验证质押计划
	seen := make(map[string]bool)
	for _, p := range config.Plans {
		if p.ID == "" {
			return fmt.Errorf("质押计划ID不能为空")
		}
		if seen[p.ID] {
			return fmt.Errorf("质押计划ID重复: %s", p.ID)
		}
		seen[p.ID] = true
		if p.Min <= 0 || p.Max < p.Min {
			return fmt.Errorf("质押计划 %s 的金额区间无效", p.ID)
		}
		if p.DailyYieldPercent < 0 {
			return fmt.Errorf("质押计划 %s 的日收益率不能为负数", p.ID)
		}
		if p.CycleDays <= 0 {
			return fmt.Errorf("质押计划 %s 的周期必须大于0", p.ID)
		}
	}

	return nil
}

// ToPlans 转换为质押计划模型
func (c *Config) ToPlans() []model.Plan {
	plans := make([]model.Plan, 0, len(c.Plans))
	for _, p := range c.Plans {
		plans = append(plans, model.Plan{
			ID:                p.ID,
			Name:              p.Name,
			Min:               decimal.NewFromFloat(p.Min),
			Max:               decimal.NewFromFloat(p.Max),
			DailyYieldPercent: decimal.NewFromFloat(p.DailyYieldPercent),
			CycleDays:         p.CycleDays,
		})
	}
	return plans
}

func defaultPlanConfigs() []PlanConfig {
	defaults := model.DefaultPlans()
	plans := make([]PlanConfig, 0, len(defaults))
	for _, p := range defaults {
		plans = append(plans, PlanConfig{
			ID:                p.ID,
			Name:              p.Name,
			Min:               p.Min.InexactFloat64(),
			Max:               p.Max.InexactFloat64(),
			DailyYieldPercent: p.DailyYieldPercent.InexactFloat64(),
			CycleDays:         p.CycleDays,
		})
	}
	return plans
}

// GetDefaultConfig 获取默认配置（用于生成示例配置）
func GetDefaultConfig() *Config {
	return &Config{
		System: SystemConfig{
			LogLevel:        "INFO",
			LogDir:          "./logs",
			ExpirySweepSpec: "@every 1s",
			PledgeSweepSpec: "@every 1m",
		},
		Storage: StorageConfig{
			Type: "memory",
		},
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			Password:  "",
			DB:        0,
			KeyPrefix: "pledgeflow:",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Server: ServerConfig{
			Addr: ":8080",
			Mode: "release",
		},
		Plans: defaultPlanConfigs(),
		Features: FeaturesConfig{
			DefaultLever:     "1x",
			MaxPeriodSeconds: 30 * 24 * 3600,
			MaxPeriodPercent: 1000,
			MaxLever:         100,
		},
		Notification: NotificationConfig{
			Enabled: false,
			Queue:   "notifications",
		},
	}
}

// SaveConfigToFile 将配置保存到文件
func SaveConfigToFile(config *Config, filePath string) error {
	v := viper.New()
	v.SetConfigFile(filePath)

	plans := make([]map[string]interface{}, 0, len(config.Plans))
	for _, p := range config.Plans {
		plans = append(plans, map[string]interface{}{
			"id":                  p.ID,
			"name":                p.Name,
			"min":                 p.Min,
			"max":                 p.Max,
			"daily_yield_percent": p.DailyYieldPercent,
			"cycle_days":          p.CycleDays,
		})
	}

	// 将配置转换为map
	// 注意：这里不包含敏感信息
	configMap := map[string]interface{}{
		"system": map[string]interface{}{
			"log_level":         config.System.LogLevel,
			"log_dir":           config.System.LogDir,
			"expiry_sweep_spec": config.System.ExpirySweepSpec,
			"pledge_sweep_spec": config.System.PledgeSweepSpec,
		},
		"storage": map[string]interface{}{
			"type": config.Storage.Type,
		},
		"redis": map[string]interface{}{
			"host":       config.Redis.Host,
			"port":       config.Redis.Port,
			"db":         config.Redis.DB,
			"key_prefix": config.Redis.KeyPrefix,
		},
		"database": map[string]interface{}{
			"max_open_conns":    config.Database.MaxOpenConns,
			"max_idle_conns":    config.Database.MaxIdleConns,
			"conn_max_lifetime": config.Database.ConnMaxLifetime.String(),
		},
		"server": map[string]interface{}{
			"addr": config.Server.Addr,
			"mode": config.Server.Mode,
		},
		"plans": plans,
		"features": map[string]interface{}{
			"default_lever":      config.Features.DefaultLever,
			"max_period_seconds": config.Features.MaxPeriodSeconds,
			"max_period_percent": config.Features.MaxPeriodPercent,
			"max_lever":          config.Features.MaxLever,
		},
		"notification": map[string]interface{}{
			"enabled": config.Notification.Enabled,
			"queue":   config.Notification.Queue,
		},
	}

	for k, val := range configMap {
		v.Set(k, val)
	}

	// 写入文件
	return v.WriteConfigAs(filePath)
}
