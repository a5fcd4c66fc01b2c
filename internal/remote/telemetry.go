package remote

import "sync"

// telemetry tracks the enhanced-header effectiveness comparison described
// in §4.F's last paragraph: a rolling count of outcomes with and without
// enhancement enabled, exposing a recommendation and quality score. It is
// in-process only (spec open question 3: never persisted across runs).
type telemetry struct {
	mu                 sync.Mutex
	enhancedTotal      int
	enhancedSuccess    int
	unenhancedTotal    int
	unenhancedSuccess  int
}

func newTelemetry() *telemetry {
	return &telemetry{}
}

func (t *telemetry) record(enhanced, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if enhanced {
		t.enhancedTotal++
		if success {
			t.enhancedSuccess++
		}
		return
	}
	t.unenhancedTotal++
	if success {
		t.unenhancedSuccess++
	}
}

// Report is the telemetry snapshot exposed for --stats.
type Report struct {
	EnhancedSuccessRate   float64
	UnenhancedSuccessRate float64
	QualityScore          float64
	Recommendation        string
}

func (t *telemetry) report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	var enhancedRate, unenhancedRate float64
	if t.enhancedTotal > 0 {
		enhancedRate = float64(t.enhancedSuccess) / float64(t.enhancedTotal)
	}
	if t.unenhancedTotal > 0 {
		unenhancedRate = float64(t.unenhancedSuccess) / float64(t.unenhancedTotal)
	}

	quality := enhancedRate - unenhancedRate
	recommendation := "insufficient_data"
	switch {
	case t.enhancedTotal < 10 || t.unenhancedTotal < 10:
		recommendation = "insufficient_data"
	case quality > 0.05:
		recommendation = "enable_enhancement"
	case quality < -0.05:
		recommendation = "disable_enhancement"
	default:
		recommendation = "no_significant_difference"
	}

	return Report{
		EnhancedSuccessRate:   enhancedRate,
		UnenhancedSuccessRate: unenhancedRate,
		QualityScore:          quality,
		Recommendation:        recommendation,
	}
}

// Telemetry returns a snapshot of the enhanced-header effectiveness
// comparison.
func (c *Client) Telemetry() Report {
	return c.telemetry.report()
}
