package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default returns the built-in configuration. DB DSN and JWT secret have no
// usable defaults and must be provided.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			PublicBaseURL:   "http://localhost:8080",
			ReadTimeout:     time.Minute,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Health: HealthConfig{GRPCAddr: ":8081"},
		DB:     DBConfig{MaxConns: 10},
		Auth: AuthConfig{
			SessionTTL:      24 * time.Hour,
			LimiterEnabled:  true,
			LimiterWindow:   15 * time.Minute,
			LimiterMaxFails: 5,
			LimiterBlockFor: 15 * time.Minute,
		},
		Storage: StorageConfig{
			Backend:        "disk",
			Dir:            "./data/blobs",
			MaxUploadBytes: 100 << 20,
			S3:             S3Config{MaxBuffer: 32 << 20},
		},
		Share: ShareConfig{
			DefaultExpiry: 24 * time.Hour,
			Retention:     7 * 24 * time.Hour,
		},
		Cache: CacheConfig{
			MaxSize: 10 << 20,
			Prefix:  "fileshare:",
			TTL:     time.Minute,
		},
		Jobs: JobsConfig{
			Enabled:        true,
			SessionCleanup: time.Hour,
			ShareCleanup:   6 * time.Hour,
			RunTimeout:     time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// SetDefaults registers every key with viper so env overrides are picked up on Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.public_base_url", d.Server.PublicBaseURL)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("health.grpc_addr", d.Health.GRPCAddr)

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", d.DB.MaxConns)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.session_ttl", d.Auth.SessionTTL)
	v.SetDefault("auth.limiter_enabled", d.Auth.LimiterEnabled)
	v.SetDefault("auth.limiter_window", d.Auth.LimiterWindow)
	v.SetDefault("auth.limiter_max_fails", d.Auth.LimiterMaxFails)
	v.SetDefault("auth.limiter_block_for", d.Auth.LimiterBlockFor)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.dir", d.Storage.Dir)
	v.SetDefault("storage.max_upload_bytes", d.Storage.MaxUploadBytes)
	v.SetDefault("storage.minio.endpoint", "")
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.bucket", "")
	v.SetDefault("storage.minio.use_ssl", false)
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.use_path_style", false)
	v.SetDefault("storage.s3.max_buffer", d.Storage.S3.MaxBuffer)

	v.SetDefault("share.default_expiry", d.Share.DefaultExpiry)
	v.SetDefault("share.retention", d.Share.Retention)

	v.SetDefault("cache.max_size", d.Cache.MaxSize)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.prefix", d.Cache.Prefix)
	v.SetDefault("cache.ttl", d.Cache.TTL)

	v.SetDefault("jobs.enabled", d.Jobs.Enabled)
	v.SetDefault("jobs.session_cleanup", d.Jobs.SessionCleanup)
	v.SetDefault("jobs.share_cleanup", d.Jobs.ShareCleanup)
	v.SetDefault("jobs.run_timeout", d.Jobs.RunTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", d.Log.MaxSize)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age", d.Log.MaxAge)
	v.SetDefault("log.compress", d.Log.Compress)
}
