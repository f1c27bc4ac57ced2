package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)

	m.Transition("PENDING", "ACTIVE")
	m.Transition("PENDING", "ACTIVE")
	m.AutoPay("paid")
	m.ConflictRetry("freeze")
	m.Webhook("duplicate")
	m.JobItem("expire", "ok")
	m.ObserveOperation("freeze", errors.New("boom"), time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("PENDING", "ACTIVE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.autoPay.WithLabelValues("paid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflictRetries.WithLabelValues("freeze")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhooks.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobItems.WithLabelValues("expire", "ok")))
}

func TestMustNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNew(reg)
	second := MustNew(reg)

	first.AutoPay("paid")
	second.AutoPay("paid")

	assert.Equal(t, 2.0, testutil.ToFloat64(first.autoPay.WithLabelValues("paid")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transition("ACTIVE", "FROZEN")
		m.AutoPay("paid")
		m.ObserveOperation("x", nil, time.Second)
	})
}
