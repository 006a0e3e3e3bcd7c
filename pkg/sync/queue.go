package sync

import (
	gosync "sync"

	"github.com/valyala/bytebufferpool"

	"parley/pkg/models"
)

// OpType represents a mutation kind bound for the store writer.
type OpType string

const (
	OpSend   OpType = "send"
	OpEdit   OpType = "edit"
	OpHide   OpType = "hide"
	OpRemove OpType = "remove"
	OpStatus OpType = "status"
)

// Op is an in-memory representation of one mutation. Payload may be
// backed by a pooled buffer; consumers must call Item.Done() when
// finished with it.
type Op struct {
	Type  OpType
	MsgID string
	// Token is set on sends: the correlation token of the placeholder.
	Token string
	// Actor is the viewer id issuing the op; Role its conversation role.
	Actor string
	Role  models.Role
	// Payload holds op-specific JSON (the full message for sends, the
	// field delta otherwise).
	Payload []byte
	// Res, when non-nil, receives the op outcome exactly once.
	Res chan error
}

// Item wraps an Op and owns its pooled buffer. Call Done() exactly once
// after processing.
type Item struct {
	Op *Op

	buf  *bytebufferpool.ByteBuffer
	once gosync.Once
	q    *Queue
}

// maxPooledBuffer caps what is returned to the pool; bigger payloads
// (large attachments) are dropped so the pool does not pin them.
const maxPooledBuffer = 256 * 1024

// Done releases pooled resources back to their pools.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.buf != nil {
			if cap(it.buf.B) > maxPooledBuffer {
				it.buf = nil
			} else {
				bytebufferpool.Put(it.buf)
				it.buf = nil
			}
		}
		if it.Op != nil {
			it.Op.Payload = nil
			it.Op.Res = nil
			opPool.Put(it.Op)
			it.Op = nil
		}
		itemPool.Put(it)
	})
}

var opPool = gosync.Pool{New: func() any { return &Op{} }}
var itemPool = gosync.Pool{New: func() any { return &Item{} }}

// Queue is a bounded queue of mutations for one conversation. It is safe
// for concurrent producers; the session's writer goroutine is the single
// consumer. mu covers the closed flag and the channel send so Close can
// never race a producer into a closed channel.
type Queue struct {
	ch       chan *Item
	capacity int

	mu      gosync.Mutex
	closed  bool
	dropped uint64
}

// NewQueue creates a bounded Queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{ch: make(chan *Item, capacity), capacity: capacity}
}

// Out returns the consumer channel. Do not close it from callers.
func (q *Queue) Out() <-chan *Item { return q.ch }

// Close marks the queue closed and releases the consumer once drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// TryEnqueue copies the payload into a pooled buffer and enqueues the op
// without blocking. Returns ErrQueueFull when at capacity and
// ErrSessionClosed after Close.
func (q *Queue) TryEnqueue(op *Op) error {
	newOp := opPool.Get().(*Op)
	*newOp = *op
	it := itemPool.Get().(*Item)
	it.Op = newOp
	it.q = q
	it.once = gosync.Once{}
	if len(op.Payload) > 0 {
		buf := bytebufferpool.Get()
		buf.Reset()
		_, _ = buf.Write(op.Payload)
		it.buf = buf
		newOp.Payload = buf.B
	} else {
		it.buf = nil
		newOp.Payload = nil
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		it.Done()
		return ErrSessionClosed
	}
	// non-blocking send under mu; Close cannot slip between the flag
	// check and the send
	select {
	case q.ch <- it:
		q.mu.Unlock()
		return nil
	default:
		q.dropped++
		q.mu.Unlock()
		it.Done()
		return ErrQueueFull
	}
}

// Dropped reports how many ops were rejected for capacity.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
