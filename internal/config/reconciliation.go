package config

import (
	"time"

	"github.com/spf13/viper"
)

type ReconciliationConfig struct {
	IdentityMinDigits  int
	IdentityMaxDigits  int
	MaxBatchLines      int
	CreditWorkers      int
	ProposalTTL        time.Duration
	DirectoryCacheTTL  time.Duration
	DirectoryTimeout   time.Duration
	IdempotencyTTL     time.Duration
	MaxUploadBytes     int64
	HistoryDefaultSize int
}

// LoadReconciliationConfig returns the reconciliation settings with defaults
func LoadReconciliationConfig() *ReconciliationConfig {
	viper.SetDefault("reconciliation.identity_min_digits", 6)
	viper.SetDefault("reconciliation.identity_max_digits", 10)
	viper.SetDefault("reconciliation.max_batch_lines", 500)
	viper.SetDefault("reconciliation.credit_workers", 8)
	viper.SetDefault("reconciliation.proposal_ttl", 10*time.Minute)
	viper.SetDefault("reconciliation.directory_cache_ttl", 15*time.Minute)
	viper.SetDefault("reconciliation.directory_timeout", 5*time.Second)
	viper.SetDefault("reconciliation.idempotency_ttl", 24*time.Hour)
	viper.SetDefault("reconciliation.max_upload_bytes", 10<<20)
	viper.SetDefault("reconciliation.history_default_size", 100)

	cfg := &ReconciliationConfig{
		IdentityMinDigits:  viper.GetInt("reconciliation.identity_min_digits"),
		IdentityMaxDigits:  viper.GetInt("reconciliation.identity_max_digits"),
		MaxBatchLines:      viper.GetInt("reconciliation.max_batch_lines"),
		CreditWorkers:      viper.GetInt("reconciliation.credit_workers"),
		ProposalTTL:        viper.GetDuration("reconciliation.proposal_ttl"),
		DirectoryCacheTTL:  viper.GetDuration("reconciliation.directory_cache_ttl"),
		DirectoryTimeout:   viper.GetDuration("reconciliation.directory_timeout"),
		IdempotencyTTL:     viper.GetDuration("reconciliation.idempotency_ttl"),
		MaxUploadBytes:     viper.GetInt64("reconciliation.max_upload_bytes"),
		HistoryDefaultSize: viper.GetInt("reconciliation.history_default_size"),
	}
	if cfg.CreditWorkers < 1 {
		cfg.CreditWorkers = 1
	}
	if cfg.IdentityMinDigits < 1 {
		cfg.IdentityMinDigits = 1
	}
	if cfg.IdentityMaxDigits < cfg.IdentityMinDigits {
		cfg.IdentityMaxDigits = cfg.IdentityMinDigits
	}
	return cfg
}
