package store

import (
	"sync"
	"time"

	"parley/pkg/logger"
	"parley/pkg/models"
)

// resyncRetryDelay spaces retries when building a resync snapshot fails.
// Without a timed retry a quiet subscription would stall until the next
// unrelated publish.
const resyncRetryDelay = 250 * time.Millisecond

// ChangeKind classifies a feed event.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Change is one record-level feed event.
type Change struct {
	Kind ChangeKind
	Msg  models.Message
}

// Batch is a set of change events delivered together. A Resync batch
// carries the full current partition state (every record as Modified) and
// is authoritative: records missing from it no longer exist. Every batch
// must be idempotently appliable.
type Batch struct {
	Resync  bool
	Changes []Change
}

// Subscription is a live, restartable view over one partition. Events for
// a single record arrive in mutation order; there is no cross-record
// ordering guarantee. When the subscriber falls behind, the backlog is
// collapsed into a synthetic full resync instead of dropped events.
type Subscription struct {
	sel   models.Partition
	ch    chan Batch
	wake  chan struct{}
	done  chan struct{}
	limit int

	mu      sync.Mutex
	queue   []Batch
	resync  bool
	closed  bool
	stopped sync.Once
}

var hub = struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}{subs: make(map[*Subscription]struct{})}

// Subscribe opens a live feed over the partition. The first delivered
// batch is always a full resync so callers start from authoritative state.
// buffer bounds the pending backlog before overflow collapses into a
// resync; values below 1 fall back to 64.
func Subscribe(sel models.Partition, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 64
	}
	s := &Subscription{
		sel:   sel,
		ch:    make(chan Batch),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		limit: buffer,
		// start pending a resync: the initial snapshot
		resync: true,
	}
	hub.mu.Lock()
	hub.subs[s] = struct{}{}
	hub.mu.Unlock()
	go s.deliver()
	s.signal()
	return s
}

// Events returns the batch channel. It is closed when the subscription is
// closed.
func (s *Subscription) Events() <-chan Batch { return s.ch }

// Close detaches the subscription from the hub and closes Events.
func (s *Subscription) Close() {
	s.stopped.Do(func() {
		hub.mu.Lock()
		delete(hub.subs, s)
		hub.mu.Unlock()
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
}

// RequestResync forces the next delivered batch to be a full resync.
// Callers use it after a transport-level reconnect.
func (s *Subscription) RequestResync() {
	s.mu.Lock()
	s.queue = nil
	s.resync = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) enqueue(b Batch) {
	s.mu.Lock()
	if s.closed || s.resync {
		// a pending resync supersedes any individual event
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.limit {
		// subscriber fell behind; recover via full resync rather than
		// silently dropping events
		s.queue = nil
		s.resync = true
		resyncsTotal.Inc()
		logger.Warn("subscription_overflow_resync", "conversation", s.sel.Conversation, "dir", string(s.sel.Direction))
	} else {
		s.queue = append(s.queue, b)
	}
	s.mu.Unlock()
	s.signal()
}

// deliver drains the pending queue onto the (unbuffered) Events channel.
// Running on a dedicated goroutine keeps publishers non-blocking.
func (s *Subscription) deliver() {
	defer close(s.ch)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			var b Batch
			var ok bool
			switch {
			case s.resync:
				s.resync = false
				s.mu.Unlock()
				full, err := ListPartition(s.sel)
				if err != nil {
					logger.Error("resync_list_failed", "conversation", s.sel.Conversation, "error", err)
					// leave the flag set and wake the loop again shortly;
					// waiting for the next publish would stall a quiet
					// subscription
					s.mu.Lock()
					s.resync = true
					s.mu.Unlock()
					time.AfterFunc(resyncRetryDelay, s.signal)
					b, ok = Batch{}, false
				} else {
					changes := make([]Change, 0, len(full))
					for _, m := range full {
						changes = append(changes, Change{Kind: Modified, Msg: m})
					}
					b, ok = Batch{Resync: true, Changes: changes}, true
				}
			case len(s.queue) > 0:
				b, ok = s.queue[0], true
				s.queue = s.queue[1:]
				s.mu.Unlock()
			default:
				s.mu.Unlock()
			}
			if !ok {
				break
			}
			select {
			case s.ch <- b:
				batchesDelivered.WithLabelValues(boolLabel(b.Resync)).Inc()
			case <-s.done:
				return
			}
		}
	}
}

// notify fans a committed change out to every subscription matching the
// record's partition.
func notify(c Change) {
	p := PartitionOf(c.Msg)
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for s := range hub.subs {
		if s.sel == p {
			s.enqueue(Batch{Changes: []Change{c}})
		}
	}
	changesPublished.WithLabelValues(c.Kind.String()).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "resync"
	}
	return "live"
}
