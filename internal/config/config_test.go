package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) *pflag.FlagSet {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse([]string{"--config", path}))
	return fs
}

const baseYAML = `
app:
  env: development
  port: 7000
  chat_list_limit: 5
storage:
  driver: memory
redis:
  addr: localhost:6380
jwt:
  alg: HS256
  secret: file-secret
otp:
  provider: console
`

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseYAML))
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.App.Port)
	assert.Equal(t, int64(5), cfg.App.ChatListLimit)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "file-secret", cfg.JWT.Secret)
	assert.Equal(t, 30*24*time.Hour, cfg.JWT.TTL)
	assert.Equal(t, 10*time.Second, cfg.OTP.RequestTimeout)
	assert.Equal(t, "ws:global", cfg.Realtime.Channel)
	assert.Equal(t, ":7000", cfg.App.Addr())
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("OTP_RATE_LIMIT_PER_HOUR", "9")

	cfg, err := Load(writeConfig(t, baseYAML))
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.JWT.Secret)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 9, cfg.OTP.RateLimitPerHour)
}

func TestFlagOverridesPort(t *testing.T) {
	fs := writeConfig(t, baseYAML)
	require.NoError(t, fs.Parse([]string{"--port", "8088"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, 8088, cfg.App.Port)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:     AppConf{Env: "development", Port: 5000, ChatListLimit: 20},
			Storage: StorageConf{Driver: "memory"},
			Redis:   RedisConf{Addr: "localhost:6379"},
			JWT:     JWTConf{Alg: "HS256", Secret: "s", TTL: time.Hour},
			OTP:     OTPConf{Provider: "console", RequestTimeout: time.Second},
		}
	}
	require.NoError(t, valid().Validate())

	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"mongo without uri", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }},
		{"rs256 without keys", func(c *Config) { c.JWT.Alg = "RS256" }},
		{"hs256 without secret", func(c *Config) { c.JWT.Secret = "" }},
		{"bad alg", func(c *Config) { c.JWT.Alg = "none" }},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Topic = "t" }},
		{"twilio without creds", func(c *Config) { c.OTP.Provider = "twilio" }},
		{"twofactor without key", func(c *Config) { c.OTP.Provider = "twofactor" }},
		{"console in production", func(c *Config) { c.App.Env = "production" }},
		{"media without bucket", func(c *Config) { c.Media.Enabled = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
