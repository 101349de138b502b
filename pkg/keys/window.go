package keys

import "time"

// quotaWindow tracks usage against a fixed time window: the counter resets
// when the window that contained the last reservation has passed. Fixed
// windows match how upstream quota dashboards report "used of total".
type quotaWindow struct {
	limit  int
	length time.Duration
	start  time.Time
	used   int
}

func newQuotaWindow(limit int, length time.Duration) *quotaWindow {
	return &quotaWindow{limit: limit, length: length}
}

// roll resets the counter if now has left the current window. Callers hold
// the manager lock.
func (w *quotaWindow) roll(now time.Time) {
	if w.start.IsZero() || now.Sub(w.start) >= w.length {
		w.start = now
		w.used = 0
	}
}

// hasHeadroom reports whether one more reservation fits.
func (w *quotaWindow) hasHeadroom(now time.Time) bool {
	w.roll(now)
	return w.used < w.limit
}

// reserve consumes one unit. Callers check hasHeadroom first under the
// same lock.
func (w *quotaWindow) reserve(now time.Time) {
	w.roll(now)
	w.used++
}
