package obsmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAttempt_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordAttempt("blocked", "none")
	m.RecordAttempt("blocked", "none")
	m.RecordAttempt("failed", "rate_limit")

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() != "twitter_bulk_blocker_attempts_total" {
			continue
		}
		found = true
		var total float64
		for _, metric := range f.Metric {
			total += metric.GetCounter().GetValue()
		}
		assert.Equal(t, 3.0, total)
	}
	assert.True(t, found)
}

func TestRecordBackoff_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordBackoff("rate_limit", 60)

	families, err := reg.Gather()
	require.NoError(t, err)

	var hist *dto.Histogram
	for _, f := range families {
		if f.GetName() == "twitter_bulk_blocker_retry_backoff_seconds" {
			hist = f.Metric[0].GetHistogram()
		}
	}
	require.NotNil(t, hist)
	assert.Equal(t, uint64(1), hist.GetSampleCount())
}
