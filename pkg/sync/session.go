package sync

import (
	gosync "sync"
	"time"

	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/store"
	"parley/pkg/utils"
)

// Identity is the resolved caller: a viewer id and its conversation role.
// It is passed in explicitly; the core reads no ambient identity state.
type Identity struct {
	Viewer string
	Role   models.Role
}

// Options tunes a conversation session.
type Options struct {
	ReconcileWindow    time.Duration
	QueueCapacity      int
	SubscriptionBuffer int
	// Location sets the calendar used for date grouping; nil means local.
	Location *time.Location
	// OnSendFailed, when set, observes failed sends (write errors). The
	// failed placeholder also stays visible in the sender's projection.
	OnSendFailed func(*WriteFailedError)
}

// Session is the façade one conversation presents to a presentation
// layer. It owns one timeline, one tracker and one coordinator, all
// confined to a single event loop goroutine: feed batches, mutation
// results, tracker timeouts and command bodies are posted onto the loop
// as closures, so the record mapping has exactly one writer. Sessions of
// distinct conversations share nothing but the store.
type Session struct {
	conv string
	opts Options

	calls chan func()
	done  chan struct{}
	once  gosync.Once

	timeline *Timeline
	tracker  *Tracker
	coord    *Coordinator
	q        *Queue

	subOut *store.Subscription
	subIn  *store.Subscription

	watchers map[int]*watcher
	nextID   int
}

type watcher struct {
	viewer string
	ch     chan []DayGroup
}

// Open starts a session for one conversation (keyed by agent id). Both
// partition feeds are subscribed; the initial resync batches seed the
// timeline.
func Open(conv string, opts Options) *Session {
	s := &Session{
		conv:     conv,
		opts:     opts,
		calls:    make(chan func(), 256),
		done:     make(chan struct{}),
		timeline: NewTimeline(),
		q:        NewQueue(opts.QueueCapacity),
		watchers: make(map[int]*watcher),
	}
	s.tracker = NewTracker(opts.ReconcileWindow, s.post, func(ph *Placeholder) {
		// timed-out placeholders surface as failed sends
		s.broadcast()
	})
	s.coord = NewCoordinator(conv, s.q, s.timeline, s.tracker, s.post, func(e *WriteFailedError) {
		if opts.OnSendFailed != nil {
			opts.OnSendFailed(e)
		}
		s.broadcast()
	})

	s.subOut = store.Subscribe(models.Partition{Conversation: conv, Direction: models.DirOut}, opts.SubscriptionBuffer)
	s.subIn = store.Subscribe(models.Partition{Conversation: conv, Direction: models.DirIn}, opts.SubscriptionBuffer)

	go s.run()
	go s.pump(models.Partition{Conversation: conv, Direction: models.DirOut}, s.subOut)
	go s.pump(models.Partition{Conversation: conv, Direction: models.DirIn}, s.subIn)
	go s.coord.runWriter()

	sessionsOpen.Inc()
	logger.Info("session_opened", "conversation", conv)
	return s
}

// Close stops the loop, the feeds and the writer. Pending mutations
// already handed to the writer still complete against the store.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		s.subOut.Close()
		s.subIn.Close()
		s.q.Close()
		sessionsOpen.Dec()
		logger.Info("session_closed", "conversation", s.conv)
	})
}

// Conversation returns the conversation key.
func (s *Session) Conversation() string { return s.conv }

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case f := <-s.calls:
			f()
		}
	}
}

// post schedules f onto the session loop; it is dropped if the session
// closed.
func (s *Session) post(f func()) {
	select {
	case s.calls <- f:
	case <-s.done:
	}
}

// call runs f on the loop and waits for it to finish.
func (s *Session) call(f func()) error {
	ran := make(chan struct{})
	s.post(func() {
		f()
		close(ran)
	})
	select {
	case <-ran:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) pump(p models.Partition, sub *store.Subscription) {
	for {
		select {
		case <-s.done:
			return
		case b, ok := <-sub.Events():
			if !ok {
				return
			}
			s.post(func() { s.apply(p, b) })
		}
	}
}

// apply runs on the loop: fold the batch, reconcile placeholders against
// newly added records, then push fresh projections to watchers.
func (s *Session) apply(p models.Partition, b store.Batch) {
	added := s.timeline.Apply(p, b)
	batchesApplied.Inc()
	for _, m := range added {
		s.tracker.Reconcile(m)
	}
	s.broadcast()
}

// Send validates and queues an optimistic send, returning the correlation
// token. Pass a previous token to retry idempotently; an empty token gets
// a fresh one.
func (s *Session) Send(d models.Draft, token string, ident Identity) (string, error) {
	if token == "" {
		token = utils.GenToken()
	}
	d.Conversation = s.conv
	d.Sender = ident.Role
	var err error
	if cerr := s.call(func() { err = s.coord.Send(d, token, ident.Viewer) }); cerr != nil {
		return "", cerr
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// Retry re-issues a failed send under its original token.
func (s *Session) Retry(token string) error {
	var err error
	if cerr := s.call(func() { err = s.coord.Retry(token) }); cerr != nil {
		return cerr
	}
	return err
}

// Discard drops a failed send without retrying.
func (s *Session) Discard(token string) error {
	return s.call(func() {
		s.tracker.Discard(token)
		s.broadcast()
	})
}

// Edit replaces the content of a message the caller sent. The edit flag
// flips once; id, createdAt, sender and the reply snapshot never change.
func (s *Session) Edit(id, newContent string, ident Identity) error {
	return s.mutate(func() (chan error, error) {
		return s.coord.Edit(id, newContent, ident.Role)
	})
}

// HideForViewer removes the message from ident's own projection only.
func (s *Session) HideForViewer(id string, ident Identity) error {
	return s.mutate(func() (chan error, error) {
		return s.coord.Hide(id, ident.Viewer)
	})
}

// DeleteForEveryone hard-deletes a message the caller sent, for both
// parties. Irreversible; callers are expected to have confirmed.
func (s *Session) DeleteForEveryone(id string, ident Identity) error {
	return s.mutate(func() (chan error, error) {
		return s.coord.Remove(id, ident.Role)
	})
}

// MarkDelivered advances status to delivered (no-op if already further).
func (s *Session) MarkDelivered(id string) error {
	return s.mutate(func() (chan error, error) {
		return s.coord.Advance(id, models.StatusDelivered)
	})
}

// MarkSeen advances status to seen.
func (s *Session) MarkSeen(id string) error {
	return s.mutate(func() (chan error, error) {
		return s.coord.Advance(id, models.StatusSeen)
	})
}

// mutate runs the loop-side checks, then awaits the store outcome without
// blocking the loop.
func (s *Session) mutate(issue func() (chan error, error)) error {
	var res chan error
	var err error
	if cerr := s.call(func() { res, err = issue() }); cerr != nil {
		return cerr
	}
	if err != nil {
		return err
	}
	select {
	case werr := <-res:
		return werr
	case <-s.done:
		return ErrSessionClosed
	}
}

// VisibleMessages returns the ordered, day-grouped projection for one
// viewer.
func (s *Session) VisibleMessages(viewer string) ([]DayGroup, error) {
	var out []DayGroup
	if err := s.call(func() { out = s.projection(viewer) }); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch registers a live projection feed for viewer: every change to the
// visible projection delivers the full recomputed sequence (latest wins
// if the consumer lags). The cancel function unregisters.
func (s *Session) Watch(viewer string) (<-chan []DayGroup, func()) {
	w := &watcher{viewer: viewer, ch: make(chan []DayGroup, 1)}
	var id int
	_ = s.call(func() {
		id = s.nextID
		s.nextID++
		s.watchers[id] = w
		// seed with current state
		pushLatest(w.ch, s.projection(viewer))
	})
	cancel := func() {
		s.post(func() { delete(s.watchers, id) })
	}
	return w.ch, cancel
}

// broadcast runs on the loop: recompute and push per-watcher projections.
func (s *Session) broadcast() {
	for _, w := range s.watchers {
		pushLatest(w.ch, s.projection(w.viewer))
	}
}

// pushLatest replaces any undelivered projection with the newest one.
func pushLatest(ch chan []DayGroup, v []DayGroup) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

// projection runs on the loop: pure recompute of the visible sequence.
func (s *Session) projection(viewer string) []DayGroup {
	msgs := s.timeline.Project(viewer, s.tracker.Placeholders(viewer))
	states := s.tracker.States(viewer)
	vms := make([]ViewModel, 0, len(msgs))
	for _, m := range msgs {
		pending, failed := false, false
		if m.ID == "" {
			st, ok := states[m.Correlation]
			pending = ok && st == PlaceholderPending
			failed = ok && st == PlaceholderFailed
		}
		vms = append(vms, toView(m, pending, failed))
	}
	return GroupByDay(vms, s.opts.Location, time.Now())
}

// Manager hands out sessions per conversation key, one session per agent.
type Manager struct {
	mu       gosync.Mutex
	opts     Options
	sessions map[string]*Session
}

// NewManager builds a session manager with shared options.
func NewManager(opts Options) *Manager {
	return &Manager{opts: opts, sessions: make(map[string]*Session)}
}

// Open returns the session for the agent's conversation, creating it on
// first use.
func (m *Manager) Open(agentID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[agentID]; ok {
		return s
	}
	s := Open(agentID, m.opts)
	m.sessions[agentID] = s
	return s
}

// CloseAll shuts every open session down.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, s := range m.sessions {
		s.Close()
		delete(m.sessions, k)
	}
}
