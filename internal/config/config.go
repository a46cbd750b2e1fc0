// Package config loads server configuration from defaults, an optional
// config file, .env files and FILESHARE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/and161185/fileshare/internal/blob"
	"github.com/and161185/fileshare/internal/cache"
	"github.com/and161185/fileshare/internal/limiter"
)

// EnvPrefix prefixes every environment override, e.g. FILESHARE_DB_DSN.
const EnvPrefix = "FILESHARE"

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Health  HealthConfig  `mapstructure:"health"`
	DB      DBConfig      `mapstructure:"db"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Storage StorageConfig `mapstructure:"storage"`
	Share   ShareConfig   `mapstructure:"share"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"             validate:"required"`
	PublicBaseURL   string        `mapstructure:"public_base_url"  validate:"required,url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// TrustedProxies lists CIDRs or addresses whose X-Forwarded-For is believed.
	TrustedProxies []string `mapstructure:"trusted_proxies" validate:"dive,cidr|ip"`
}

// HealthConfig configures the gRPC health endpoint; an empty address disables it.
type HealthConfig struct {
	GRPCAddr string `mapstructure:"grpc_addr"`
}

type DBConfig struct {
	DSN      string `mapstructure:"dsn"       validate:"required"`
	MaxConns int32  `mapstructure:"max_conns" validate:"gte=0"`
}

type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"        validate:"required,min=16"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"       validate:"gt=0"`
	LimiterEnabled  bool          `mapstructure:"limiter_enabled"`
	LimiterWindow   time.Duration `mapstructure:"limiter_window"    validate:"gt=0"`
	LimiterMaxFails int           `mapstructure:"limiter_max_fails" validate:"gte=1"`
	LimiterBlockFor time.Duration `mapstructure:"limiter_block_for" validate:"gt=0"`
}

type StorageConfig struct {
	Backend        string      `mapstructure:"backend"          validate:"oneof=disk minio s3"`
	Dir            string      `mapstructure:"dir"              validate:"required_if=Backend disk"`
	MaxUploadBytes int64       `mapstructure:"max_upload_bytes" validate:"gt=0"`
	Minio          MinioConfig `mapstructure:"minio"`
	S3             S3Config    `mapstructure:"s3"`
}

type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type S3Config struct {
	Region       string `mapstructure:"region"`
	Bucket       string `mapstructure:"bucket"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	MaxBuffer    int64  `mapstructure:"max_buffer"`
}

type ShareConfig struct {
	// DefaultExpiry applies when a share request has none; 0 means never.
	DefaultExpiry time.Duration `mapstructure:"default_expiry" validate:"gte=0"`
	// Retention keeps lapsed grants around so their tokens answer "expired".
	Retention time.Duration `mapstructure:"retention" validate:"gte=0"`
}

type CacheConfig struct {
	MaxSize       int           `mapstructure:"max_size" validate:"gte=0"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

type JobsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	SessionCleanup time.Duration `mapstructure:"session_cleanup" validate:"gt=0"`
	ShareCleanup   time.Duration `mapstructure:"share_cleanup"   validate:"gt=0"`
	RunTimeout     time.Duration `mapstructure:"run_timeout"     validate:"gt=0"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"    validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAge     int    `mapstructure:"max_age"     validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Read loads .env files and the config file into v. path may be empty, in
// which case fileshare.{yaml,json,toml} is searched in the usual places and
// its absence is not an error.
func Read(v *viper.Viper, path string) error {
	envFiles := []string{".env", ".env.local"}
	for _, f := range envFiles {
		// missing .env files are fine
		_ = godotenv.Load(f)
	}

	if path != "" {
		v.SetConfigFile(path)
		for _, f := range envFiles {
			_ = godotenv.Load(filepath.Join(filepath.Dir(path), f))
		}
	} else {
		v.SetConfigName("fileshare")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/fileshare")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// Decode unmarshals v without validation. Commands that touch only part of
// the config (migrations) use it.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Load unmarshals and validates v.
func Load(v *viper.Viper) (*Config, error) {
	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			f := ve[0]
			return fmt.Errorf("config: %s fails %q", f.Namespace(), f.Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	switch c.Storage.Backend {
	case blob.BackendMinio:
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			return errors.New("config: storage.minio.endpoint and storage.minio.bucket are required")
		}
	case blob.BackendS3:
		if c.Storage.S3.Region == "" || c.Storage.S3.Bucket == "" {
			return errors.New("config: storage.s3.region and storage.s3.bucket are required")
		}
	}
	return nil
}

// BlobConfig maps storage settings onto the blob package.
func (c *Config) BlobConfig() blob.Config {
	s := c.Storage
	return blob.Config{
		Backend: s.Backend,
		Dir:     s.Dir,
		Minio: blob.MinioConfig{
			Endpoint:  s.Minio.Endpoint,
			AccessKey: s.Minio.AccessKey,
			SecretKey: s.Minio.SecretKey,
			Bucket:    s.Minio.Bucket,
			UseSSL:    s.Minio.UseSSL,
		},
		S3: blob.S3Config{
			Region:       s.S3.Region,
			Bucket:       s.S3.Bucket,
			AccessKey:    s.S3.AccessKey,
			SecretKey:    s.S3.SecretKey,
			BaseEndpoint: s.S3.Endpoint,
			UsePathStyle: s.S3.UsePathStyle,
			MaxBuffer:    s.S3.MaxBuffer,
		},
	}
}

// CacheConfig maps cache settings onto the cache package.
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		MaxSize:       c.Cache.MaxSize,
		RedisAddr:     c.Cache.RedisAddr,
		RedisPassword: c.Cache.RedisPassword,
		Prefix:        c.Cache.Prefix,
	}
}

// LimiterPolicy returns the login lockout policy.
func (c *Config) LimiterPolicy() limiter.Policy {
	return limiter.Policy{
		Window:   c.Auth.LimiterWindow,
		MaxFails: c.Auth.LimiterMaxFails,
		BlockFor: c.Auth.LimiterBlockFor,
	}
}
