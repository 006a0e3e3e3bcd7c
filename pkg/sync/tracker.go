package sync

import (
	"time"

	"parley/pkg/logger"
	"parley/pkg/models"
)

// PlaceholderState tracks the lifecycle of an optimistic send.
type PlaceholderState int

const (
	// PlaceholderPending: awaiting the authoritative record.
	PlaceholderPending PlaceholderState = iota
	// PlaceholderFailed: write failed or the reconciliation window
	// elapsed; surfaced to the caller for retry or discard.
	PlaceholderFailed
)

// Placeholder is a transient, client-only message: identical visible
// shape to a record but with no id, keyed by its correlation token.
type Placeholder struct {
	Token  string
	Viewer string
	Msg    models.Message
	State  PlaceholderState

	timer *time.Timer
}

// Tracker manages optimistic placeholders for one conversation. A token
// is consumed exactly once: either reconciled against an authoritative
// record or failed (write error or timeout), never both. All methods are
// invoked from the session loop; the only concurrency is the timeout
// timer, which fires through the injected post function back onto that
// loop.
type Tracker struct {
	window  time.Duration
	pending map[string]*Placeholder
	// post schedules a closure onto the session loop.
	post func(func())
	// onExpire is called (on the loop) after a placeholder times out.
	onExpire func(ph *Placeholder)
}

// NewTracker builds a tracker with the given reconciliation window.
func NewTracker(window time.Duration, post func(func()), onExpire func(*Placeholder)) *Tracker {
	if window <= 0 {
		window = 10 * time.Second
	}
	return &Tracker{
		window:   window,
		pending:  make(map[string]*Placeholder),
		post:     post,
		onExpire: onExpire,
	}
}

// Begin inserts a placeholder for token. The placeholder carries a
// locally-assigned provisional timestamp and status "sent" so it renders
// immediately. At most one placeholder exists per token.
func (t *Tracker) Begin(token, viewer string, m models.Message) *Placeholder {
	if ph, ok := t.pending[token]; ok {
		return ph
	}
	m.Correlation = token
	m.Status = models.StatusSent
	if m.CreatedAt <= 0 {
		m.CreatedAt = time.Now().UTC().UnixNano()
	}
	ph := &Placeholder{Token: token, Viewer: viewer, Msg: m, State: PlaceholderPending}
	ph.timer = time.AfterFunc(t.window, func() {
		t.post(func() { t.expire(token) })
	})
	t.pending[token] = ph
	return ph
}

// Reconcile consumes the placeholder matching the authoritative record's
// correlation token, if any. Matching is by explicit token only, never by
// content heuristics. Returns true when a placeholder was consumed.
func (t *Tracker) Reconcile(m models.Message) bool {
	if m.Correlation == "" {
		return false
	}
	ph, ok := t.pending[m.Correlation]
	if !ok {
		return false
	}
	ph.timer.Stop()
	delete(t.pending, m.Correlation)
	reconciledTotal.Inc()
	logger.Debug("placeholder_reconciled", "token", ph.Token, "id", m.ID)
	return true
}

// Fail marks a pending placeholder failed after a write error. The
// placeholder stays visible (failed state) so the input is recoverable.
func (t *Tracker) Fail(token string) {
	ph, ok := t.pending[token]
	if !ok || ph.State != PlaceholderPending {
		return
	}
	ph.timer.Stop()
	ph.State = PlaceholderFailed
	logger.Warn("placeholder_failed", "token", token)
}

// expire fires when the reconciliation window elapses. Pending-only: a
// token already reconciled or failed is not consumed twice.
func (t *Tracker) expire(token string) {
	ph, ok := t.pending[token]
	if !ok || ph.State != PlaceholderPending {
		return
	}
	ph.State = PlaceholderFailed
	timedOutTotal.Inc()
	logger.Warn("placeholder_timeout", "token", token)
	if t.onExpire != nil {
		t.onExpire(ph)
	}
}

// TakeForRetry returns the draft message of a failed placeholder and arms
// it pending again with a fresh window. The same token is reused, which
// keeps a duplicate-free reconcile if the original write did land.
func (t *Tracker) TakeForRetry(token string) (models.Message, bool) {
	ph, ok := t.pending[token]
	if !ok || ph.State != PlaceholderFailed {
		return models.Message{}, false
	}
	ph.State = PlaceholderPending
	ph.timer = time.AfterFunc(t.window, func() {
		t.post(func() { t.expire(token) })
	})
	return ph.Msg, true
}

// Discard drops a placeholder without reconciling it.
func (t *Tracker) Discard(token string) {
	if ph, ok := t.pending[token]; ok {
		ph.timer.Stop()
		delete(t.pending, token)
	}
}

// Placeholders returns the placeholders visible to viewer, for merging
// into the projection.
func (t *Tracker) Placeholders(viewer string) []models.Message {
	var out []models.Message
	for _, ph := range t.pending {
		if ph.Viewer == viewer {
			out = append(out, ph.Msg)
		}
	}
	return out
}

// States returns placeholder state by token for viewer, so the view can
// mark pending/failed entries.
func (t *Tracker) States(viewer string) map[string]PlaceholderState {
	out := make(map[string]PlaceholderState)
	for _, ph := range t.pending {
		if ph.Viewer == viewer {
			out[ph.Token] = ph.State
		}
	}
	return out
}
