package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveBeforeInitIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		ObserveCreditLine("APPLIED", 100)
		ObserveBatch("", time.Second)
		IncMatch(true)
	})
}

func TestCreditCounters(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(creditOutcomes.WithLabelValues("APPLIED"))
	ObserveCreditLine("APPLIED", 2500)
	ObserveCreditLine("APPLIED", 0)
	assert.Equal(t, before+2, testutil.ToFloat64(creditOutcomes.WithLabelValues("APPLIED")))

	beforeUnknown := testutil.ToFloat64(creditOutcomes.WithLabelValues("unknown"))
	ObserveCreditLine("", 0)
	assert.Equal(t, beforeUnknown+1, testutil.ToFloat64(creditOutcomes.WithLabelValues("unknown")))

	beforeMatched := testutil.ToFloat64(matchResults.WithLabelValues("unmatched"))
	IncMatch(false)
	assert.Equal(t, beforeMatched+1, testutil.ToFloat64(matchResults.WithLabelValues("unmatched")))
}
