// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证服务器默认值
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)

	// 验证引擎默认值
	assert.Equal(t, 1000, cfg.Engine.MaxSteps)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Zero(t, cfg.Engine.RateLimitRPS)

	// 验证检查点默认值
	assert.Equal(t, "memory", cfg.Checkpoint.Backend)

	// 验证 Redis 默认值
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "taskflow:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 0, cfg.Redis.DB)

	// 验证数据库默认值
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "sqlite", cfg.Database.Driver)

	// 验证日志默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 1000, cfg.Engine.MaxSteps)
	assert.Equal(t, "memory", cfg.Checkpoint.Backend)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	// 创建临时配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "taskflow.yaml")

	yamlContent := `
engine:
  max_steps: 50
  workers: 8
  node_timeout: 30s
  rate_limit_rps: 2.5

checkpoint:
  backend: file
  dir: /var/lib/taskflow

redis:
  addr: "redis.internal:6380"
  db: 3

database:
  enabled: true
  dsn: runs.db

log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Engine.MaxSteps)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 30*time.Second, cfg.Engine.NodeTimeout)
	assert.Equal(t, 2.5, cfg.Engine.RateLimitRPS)
	assert.Equal(t, "file", cfg.Checkpoint.Backend)
	assert.Equal(t, "/var/lib/taskflow", cfg.Checkpoint.Dir)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "runs.db", cfg.Database.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	// 未覆盖的字段保持默认值
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, "taskflow:", cfg.Redis.KeyPrefix)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/taskflow.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Engine.MaxSteps)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("engine: [not a map"), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config from file")
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("TASKFLOW_ENGINE_MAX_STEPS", "25")
	t.Setenv("TASKFLOW_ENGINE_NODE_TIMEOUT", "45s")
	t.Setenv("TASKFLOW_CHECKPOINT_BACKEND", "redis")
	t.Setenv("TASKFLOW_REDIS_ADDR", "env-redis:6379")
	t.Setenv("TASKFLOW_DATABASE_ENABLED", "true")
	t.Setenv("TASKFLOW_LOG_OUTPUT_PATHS", "stdout, /var/log/taskflow.log")
	t.Setenv("TASKFLOW_TELEMETRY_SAMPLE_RATE", "0.25")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Engine.MaxSteps)
	assert.Equal(t, 45*time.Second, cfg.Engine.NodeTimeout)
	assert.Equal(t, "redis", cfg.Checkpoint.Backend)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, []string{"stdout", "/var/log/taskflow.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, 0.25, cfg.Telemetry.SampleRate)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "taskflow.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("engine:\n  workers: 2\n"), 0o644))

	t.Setenv("TASKFLOW_ENGINE_WORKERS", "16")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Engine.Workers)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("TF_ENGINE_MAX_STEPS", "7")

	cfg, err := NewLoader().WithEnvPrefix("TF").Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Engine.MaxSteps)
}

// --- 验证器测试 ---

func TestValidate(t *testing.T) {
	t.Run("default config is valid", func(t *testing.T) {
		assert.NoError(t, Validate(DefaultConfig()))
	})

	t.Run("rejects non-positive max steps", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Engine.MaxSteps = 0
		assert.ErrorContains(t, Validate(cfg), "max_steps")
	})

	t.Run("rejects unknown checkpoint backend", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Checkpoint.Backend = "s3"
		assert.ErrorContains(t, Validate(cfg), "checkpoint backend")
	})

	t.Run("file backend requires dir", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Checkpoint.Backend = "file"
		assert.ErrorContains(t, Validate(cfg), "checkpoint.dir")
	})

	t.Run("redis backend requires addr", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Checkpoint.Backend = "redis"
		cfg.Redis.Addr = ""
		assert.ErrorContains(t, Validate(cfg), "redis.addr")
	})

	t.Run("enabled database requires dsn", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Database.Enabled = true
		cfg.Database.DSN = ""
		assert.ErrorContains(t, Validate(cfg), "database.dsn")
	})
}

func TestLoader_ValidatorFailureSurfaces(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(cfg *Config) error {
			cfg.Engine.MaxSteps = 0
			return Validate(cfg)
		}).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}
