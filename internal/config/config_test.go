package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
system:
  log_level: DEBUG
  log_dir: /tmp/pledgeflow-logs
  expiry_sweep_spec: "*/2 * * * * *"
storage:
  type: sqlite
database:
  dsn: "file:pledgeflow.db"
  conn_max_lifetime: 10m
server:
  addr: ":9090"
plans:
  - id: plan-a
    name: 测试
    min: 100
    max: 999
    daily_yield_percent: 1.2
    cycle_days: 7
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.System.LogLevel)
	assert.Equal(t, "*/2 * * * * *", cfg.System.ExpirySweepSpec)
	// 未配置的项使用默认值
	assert.Equal(t, "@every 1m", cfg.System.PledgeSweepSpec)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, 10*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "1x", cfg.Features.DefaultLever)

	plans := cfg.ToPlans()
	require.Len(t, plans, 1)
	assert.Equal(t, "plan-a", plans[0].ID)
	assert.True(t, decimal.RequireFromString("1.2").Equal(plans[0].DailyYieldPercent))
	assert.True(t, decimal.NewFromInt(999).Equal(plans[0].Max))
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("DATABASE_DSN", "file:override.db")
	t.Setenv("PLEDGEFLOW_SERVER_ADDR", ":7070")

	cfg, err := LoadConfig(writeFile(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "file:override.db", cfg.Database.DSN)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestLoadConfigFromYAML(t *testing.T) {
	cfg, err := LoadConfigFromYAML(writeFile(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, 10*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, "@every 1m", cfg.System.PledgeSweepSpec)
	require.Len(t, cfg.Plans, 1)
}

func TestLoadConfig_DefaultPlans(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, "storage:\n  type: memory\n"))
	require.NoError(t, err)

	plans := cfg.ToPlans()
	require.Len(t, plans, 4)
	assert.Equal(t, "plan-1", plans[0].ID)
	assert.True(t, decimal.RequireFromString("1.5").Equal(plans[0].DailyYieldPercent))
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "默认配置有效", mutate: func(c *Config) {}, wantErr: false},
		{name: "未知存储类型", mutate: func(c *Config) { c.Storage.Type = "mongo" }, wantErr: true},
		{name: "数据库缺少DSN", mutate: func(c *Config) { c.Storage.Type = "postgres" }, wantErr: true},
		{name: "Redis端口无效", mutate: func(c *Config) { c.Storage.Type = "redis"; c.Redis.Port = 0 }, wantErr: true},
		{name: "通知需要Redis", mutate: func(c *Config) { c.Notification.Enabled = true; c.Redis.Host = "" }, wantErr: true},
		{name: "cron表达式无效", mutate: func(c *Config) { c.System.ExpirySweepSpec = "every second" }, wantErr: true},
		{name: "计划ID重复", mutate: func(c *Config) { c.Plans = append(c.Plans, c.Plans[0]) }, wantErr: true},
		{name: "计划区间无效", mutate: func(c *Config) { c.Plans[0].Max = c.Plans[0].Min - 1 }, wantErr: true},
		{name: "计划周期为零", mutate: func(c *Config) { c.Plans[0].CycleDays = 0 }, wantErr: true},
		{name: "监听地址为空", mutate: func(c *Config) { c.Server.Addr = "" }, wantErr: true},
		{name: "订单周期上限为零", mutate: func(c *Config) { c.Features.MaxPeriodSeconds = 0 }, wantErr: true},
		{name: "订单周期上限溢出", mutate: func(c *Config) { c.Features.MaxPeriodSeconds = 10_000_000_000 }, wantErr: true},
		{name: "收益率上限为零", mutate: func(c *Config) { c.Features.MaxPeriodPercent = 0 }, wantErr: true},
		{name: "杠杆上限为负", mutate: func(c *Config) { c.Features.MaxLever = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveConfigToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := GetDefaultConfig()
	cfg.Server.Addr = ":6060"
	require.NoError(t, SaveConfigToFile(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":6060", loaded.Server.Addr)
	assert.Equal(t, 30*time.Minute, loaded.Database.ConnMaxLifetime)
	assert.Len(t, loaded.Plans, 4)
	assert.Equal(t, int64(30*24*3600), loaded.Features.MaxPeriodSeconds)
	assert.Equal(t, 100.0, loaded.Features.MaxLever)
}
