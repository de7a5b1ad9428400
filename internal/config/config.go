package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type AppConf struct {
	Env             string        `mapstructure:"env"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
	ChatListLimit   int64         `mapstructure:"chat_list_limit"`
}

func (a *AppConf) Addr() string { return fmt.Sprintf(":%d", a.Port) }

type StorageConf struct {
	// Driver is "mongo" or "memory".
	Driver string `mapstructure:"driver"`
}

type MongoConf struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConf struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConf struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type JWTConf struct {
	Alg            string        `mapstructure:"alg"`
	Secret         string        `mapstructure:"secret"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	TTL            time.Duration `mapstructure:"ttl"`
}

type TwilioConf struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
}

type TwoFactorConf struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type OTPConf struct {
	// Provider is "twilio", "twofactor" or "console".
	Provider           string        `mapstructure:"provider"`
	TTL                time.Duration `mapstructure:"ttl"`
	Length             int           `mapstructure:"length"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	RateLimitPerHour   int           `mapstructure:"rate_limit_per_hour"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	DefaultCountryCode string        `mapstructure:"default_country_code"`
	Twilio             TwilioConf    `mapstructure:"twilio"`
	TwoFactor          TwoFactorConf `mapstructure:"twofactor"`
}

type RealtimeConf struct {
	RateLimitPerSec int    `mapstructure:"rate_limit_per_sec"`
	SendBuffer      int    `mapstructure:"send_buffer"`
	MaxMessageBytes int64  `mapstructure:"max_message_bytes"`
	Channel         string `mapstructure:"channel"`
}

type MediaConf struct {
	Enabled        bool          `mapstructure:"enabled"`
	Region         string        `mapstructure:"region"`
	Bucket         string        `mapstructure:"bucket"`
	Endpoint       string        `mapstructure:"endpoint"`
	PublicRead     bool          `mapstructure:"public_read"`
	PresignTTL     time.Duration `mapstructure:"presign_ttl"`
	AvatarSize     int           `mapstructure:"avatar_size"`
	MaxUploadBytes int           `mapstructure:"max_upload_bytes"`
}

type ConsulConf struct {
	Addr           string `mapstructure:"addr"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceAddress string `mapstructure:"service_address"`
}

type Config struct {
	App      AppConf      `mapstructure:"app"`
	Storage  StorageConf  `mapstructure:"storage"`
	Mongo    MongoConf    `mapstructure:"mongo"`
	Redis    RedisConf    `mapstructure:"redis"`
	Kafka    KafkaConf    `mapstructure:"kafka"`
	JWT      JWTConf      `mapstructure:"jwt"`
	OTP      OTPConf      `mapstructure:"otp"`
	Realtime RealtimeConf `mapstructure:"realtime"`
	Media    MediaConf    `mapstructure:"media"`
	Consul   ConsulConf   `mapstructure:"consul"`
}

func (c *Config) IsDevelopment() bool { return c.App.Env == "development" }

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 5000)
	v.SetDefault("app.read_timeout", 15*time.Second)
	v.SetDefault("app.write_timeout", 15*time.Second)
	v.SetDefault("app.idle_timeout", 60*time.Second)
	v.SetDefault("app.shutdown_timeout", 10*time.Second)
	v.SetDefault("app.rate_limit_per_min", 300)
	v.SetDefault("app.chat_list_limit", 20)

	v.SetDefault("storage.driver", "mongo")
	v.SetDefault("mongo.database", "connectu")
	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("kafka.topic", "chat.message-events")

	v.SetDefault("jwt.alg", "HS256")
	v.SetDefault("jwt.ttl", 30*24*time.Hour)

	v.SetDefault("otp.provider", "console")
	v.SetDefault("otp.ttl", 5*time.Minute)
	v.SetDefault("otp.length", 6)
	v.SetDefault("otp.max_attempts", 5)
	v.SetDefault("otp.rate_limit_per_hour", 5)
	v.SetDefault("otp.request_timeout", 10*time.Second)
	v.SetDefault("otp.default_country_code", "+91")
	v.SetDefault("otp.twofactor.base_url", "https://2factor.in/API/V1")

	v.SetDefault("realtime.rate_limit_per_sec", 20)
	v.SetDefault("realtime.send_buffer", 256)
	v.SetDefault("realtime.max_message_bytes", 64*1024)
	v.SetDefault("realtime.channel", "ws:global")

	v.SetDefault("media.presign_ttl", 10*time.Minute)
	v.SetDefault("media.avatar_size", 512)
	v.SetDefault("media.max_upload_bytes", 16<<20)

	v.SetDefault("consul.service_name", "connectu-backend")
}

// Flags registers the command line flags understood by Load.
func Flags(flags *pflag.FlagSet) {
	flags.String("config", "config.yaml", "path to the YAML config file")
	flags.Int("port", 0, "override app.port")
	flags.String("env", "", "override app.env")
}

// Load reads .env, the YAML file named by the --config flag (optional when
// missing), environment variables (MONGO_URI, JWT_SECRET, ...) and flags, in
// increasing order of precedence.
func Load(flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := "config.yaml"
	if flags != nil {
		if p, err := flags.GetString("config"); err == nil && p != "" {
			path = p
		}
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		if f := flags.Lookup("port"); f != nil && f.Changed {
			_ = v.BindPFlag("app.port", f)
		}
		if f := flags.Lookup("env"); f != nil && f.Changed {
			_ = v.BindPFlag("app.env", f)
		}
	}

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"jwt.secret", "jwt.private_key_path", "jwt.public_key_path",
		"mongo.uri", "redis.password", "kafka.brokers", "kafka.enabled",
		"otp.twilio.account_sid", "otp.twilio.auth_token", "otp.twilio.from",
		"otp.twofactor.api_key",
		"media.enabled", "media.region", "media.bucket", "media.endpoint", "media.public_read",
		"consul.addr", "consul.service_address",
	} {
		_ = v.BindEnv(key)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.App.Port <= 0 {
		return errors.New("app.port missing or invalid")
	}
	if c.App.ChatListLimit <= 0 {
		return errors.New("app.chat_list_limit must be positive")
	}

	switch c.Storage.Driver {
	case "mongo":
		if c.Mongo.URI == "" {
			return errors.New("mongo.uri missing")
		}
		if c.Mongo.Database == "" {
			return errors.New("mongo.database missing")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid storage.driver %q (use mongo or memory)", c.Storage.Driver)
	}

	if c.Redis.Addr == "" {
		return errors.New("redis.addr missing")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers missing")
		}
		if c.Kafka.Topic == "" {
			return errors.New("kafka.topic missing")
		}
	}

	switch strings.ToUpper(c.JWT.Alg) {
	case "RS256":
		if c.JWT.PrivateKeyPath == "" || c.JWT.PublicKeyPath == "" {
			return errors.New("jwt.private_key_path and jwt.public_key_path required for RS256")
		}
	case "HS256":
		if c.JWT.Secret == "" {
			return errors.New("jwt.secret required for HS256")
		}
	default:
		return errors.New("invalid jwt.alg (use RS256 or HS256)")
	}
	if c.JWT.TTL <= 0 {
		return errors.New("jwt.ttl must be positive")
	}

	switch c.OTP.Provider {
	case "twilio":
		if c.OTP.Twilio.AccountSID == "" || c.OTP.Twilio.AuthToken == "" || c.OTP.Twilio.From == "" {
			return errors.New("otp.twilio account_sid, auth_token and from are required")
		}
	case "twofactor":
		if c.OTP.TwoFactor.APIKey == "" {
			return errors.New("otp.twofactor.api_key required")
		}
	case "console":
		if !c.IsDevelopment() {
			return errors.New("otp.provider console is only allowed in development")
		}
	default:
		return fmt.Errorf("invalid otp.provider %q", c.OTP.Provider)
	}
	if c.OTP.RequestTimeout <= 0 {
		return errors.New("otp.request_timeout must be positive")
	}

	if c.Media.Enabled && c.Media.Bucket == "" {
		return errors.New("media.bucket required when media is enabled")
	}
	return nil
}
