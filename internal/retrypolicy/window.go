package retrypolicy

import (
	"time"

	"github.com/book000/twitter-bulk-blocker/internal/domain"
)

// successWindow is milliseconds is a 5-minute rolling history of attempts,
// keyed implicitly by ErrorKind at read time. It is in-memory only and
// intentionally not persisted (spec open question 3 territory: telemetry
// that does not need to survive a process restart).
const windowSpan = 5 * time.Minute

type windowEntry struct {
	at      time.Time
	kind    domain.ErrorKind
	success bool
}

// Window tracks recent attempts so the backoff calculation can react to a
// kind's recent success rate, mirroring
// AdaptiveBackoffStrategy._calculate_recent_success_rate.
type Window struct {
	entries []windowEntry
}

// NewWindow returns an empty attempt window.
func NewWindow() *Window {
	return &Window{}
}

// Record appends an attempt outcome for the given kind.
func (w *Window) Record(kind domain.ErrorKind, success bool, now time.Time) {
	w.entries = append(w.entries, windowEntry{at: now, kind: kind, success: success})
	w.prune(now)
}

// prune drops entries older than windowSpan. Called on every Record so the
// slice never grows unbounded across a long engine run.
func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-windowSpan)
	i := 0
	for ; i < len(w.entries); i++ {
		if w.entries[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}

// SuccessRate returns the fraction of recent same-kind attempts that
// succeeded, defaulting to 0.5 when there is no history yet.
func (w *Window) SuccessRate(kind domain.ErrorKind, now time.Time) float64 {
	cutoff := now.Add(-windowSpan)
	var total, success int
	for _, e := range w.entries {
		if e.kind != kind || e.at.Before(cutoff) {
			continue
		}
		total++
		if e.success {
			success++
		}
	}
	if total == 0 {
		return 0.5
	}
	return float64(success) / float64(total)
}
