package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoadReconciliationConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		viper.Reset()

		cfg := LoadReconciliationConfig()

		assert.Equal(t, 6, cfg.IdentityMinDigits)
		assert.Equal(t, 10, cfg.IdentityMaxDigits)
		assert.Equal(t, 500, cfg.MaxBatchLines)
		assert.Equal(t, 8, cfg.CreditWorkers)
		assert.Equal(t, 10*time.Minute, cfg.ProposalTTL)
		assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	})

	t.Run("overrides are clamped", func(t *testing.T) {
		viper.Reset()
		viper.Set("reconciliation.credit_workers", 0)
		viper.Set("reconciliation.identity_min_digits", 8)
		viper.Set("reconciliation.identity_max_digits", 4)
		viper.Set("reconciliation.proposal_ttl", "2m")

		cfg := LoadReconciliationConfig()

		assert.Equal(t, 1, cfg.CreditWorkers)
		assert.Equal(t, 8, cfg.IdentityMinDigits)
		assert.Equal(t, 8, cfg.IdentityMaxDigits)
		assert.Equal(t, 2*time.Minute, cfg.ProposalTTL)
	})
}
