package config

import (
	"github.com/spf13/viper"
	"github.com/transitpay/backoffice/internal/logger"
)

var envBindings = map[string]string{
	"server.port": "PORT",

	"database.host":     "DATABASE_HOST",
	"database.port":     "DATABASE_PORT",
	"database.user":     "DATABASE_USER",
	"database.password": "DATABASE_PASSWORD",
	"database.name":     "DATABASE_NAME",
	"database.ssl_mode": "DATABASE_SSL_MODE",

	"redis.host":     "REDIS_HOST",
	"redis.port":     "REDIS_PORT",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",

	"jwt.secret_key":   "JWT_SECRET_KEY",
	"jwt.expiry_hours": "JWT_EXPIRY_HOURS",

	"argon2.time":        "ARGON2_TIME",
	"argon2.memory":      "ARGON2_MEMORY",
	"argon2.threads":     "ARGON2_THREADS",
	"argon2.key_length":  "ARGON2_KEY_LENGTH",
	"argon2.salt_length": "ARGON2_SALT_LENGTH",

	"reconciliation.identity_min_digits":  "RECON_IDENTITY_MIN_DIGITS",
	"reconciliation.identity_max_digits":  "RECON_IDENTITY_MAX_DIGITS",
	"reconciliation.max_batch_lines":      "RECON_MAX_BATCH_LINES",
	"reconciliation.credit_workers":       "RECON_CREDIT_WORKERS",
	"reconciliation.proposal_ttl":         "RECON_PROPOSAL_TTL",
	"reconciliation.directory_cache_ttl":  "RECON_DIRECTORY_CACHE_TTL",
	"reconciliation.idempotency_ttl":      "RECON_IDEMPOTENCY_TTL",
	"reconciliation.max_upload_bytes":     "RECON_MAX_UPLOAD_BYTES",
	"reconciliation.directory_timeout":    "RECON_DIRECTORY_TIMEOUT",
	"reconciliation.history_default_size": "RECON_HISTORY_DEFAULT_SIZE",

	"log.level": "LOG_LEVEL",
}

// Load reads the .env file and binds environment variables to config keys.
func Load() {
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	for key, env := range envBindings {
		viper.BindEnv(key, env)
	}

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("jwt.expiry_hours", 12)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)
	viper.SetDefault("log.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		l := logger.Default()
		l.Warn().Err(err).Msg("[CONFIG] Config file not found, using defaults")
	}
}
