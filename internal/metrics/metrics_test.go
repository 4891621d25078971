package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Generation("succeeded")
	m.Generation("succeeded")
	m.LedgerOp("debit", "granted")
	m.RateLimitDecision("generate", false)
	m.RateLimitError()
	m.WebhookEvent("duplicate")
	m.Extraction("failed")
	m.PipelineDuration("succeeded", 2*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.generations.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerOps.WithLabelValues("debit", "granted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimit.WithLabelValues("generate", "deny")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.extractions.WithLabelValues("failed")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Generation("failed")
		m.LedgerOp("credit", "applied")
		m.RateLimitDecision("extract", true)
		m.RateLimitError()
		m.WebhookEvent("applied")
		m.Extraction("succeeded")
		m.PipelineDuration("failed", time.Second)
	})
}
