package sync

import (
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/store"
	"parley/pkg/validation"
)

// replyPreviewRunes caps the denormalized content preview in a reply
// snapshot.
const replyPreviewRunes = 120

// errNoChange aborts a read-modify-write without an error: the mutation
// is already satisfied (idempotent hide, status regression).
var errNoChange = errors.New("no change")

type editDelta struct {
	Content string `json:"content"`
}

type hideDelta struct {
	Viewer string `json:"viewer"`
}

type statusDelta struct {
	Status models.Status `json:"status"`
}

// Coordinator serializes the mutations of one conversation. Command
// methods run on the session loop (they may read the timeline and
// tracker); the store writes themselves happen on the writer goroutine so
// the loop keeps applying feed batches while a mutation is outstanding.
type Coordinator struct {
	conv     string
	q        *Queue
	timeline *Timeline
	tracker  *Tracker
	// post schedules a closure onto the session loop.
	post func(func())
	// onSendFailed runs on the loop after a send write fails.
	onSendFailed func(err *WriteFailedError)
}

// NewCoordinator wires a coordinator to its session's state and queue.
func NewCoordinator(conv string, q *Queue, tl *Timeline, tr *Tracker, post func(func()), onSendFailed func(*WriteFailedError)) *Coordinator {
	return &Coordinator{conv: conv, q: q, timeline: tl, tracker: tr, post: post, onSendFailed: onSendFailed}
}

// Send validates the draft, inserts an optimistic placeholder and queues
// the create. It returns as soon as the op is accepted; the write result
// arrives through reconciliation or a failed placeholder. The token may
// be caller-supplied (idempotent retries) or empty to have one assigned.
func (c *Coordinator) Send(d models.Draft, token, viewer string) error {
	if err := validation.ValidateDraft(d); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	m := models.Message{
		Conversation: d.Conversation,
		Sender:       d.Sender,
		Content:      d.Content,
		Attachment:   d.Attachment,
		Correlation:  token,
	}
	if d.ReplyToID != "" {
		m.ReplyTo = c.replySnapshot(d.ReplyToID)
	}

	c.tracker.Begin(token, viewer, m)
	payload, err := json.Marshal(m)
	if err != nil {
		c.tracker.Discard(token)
		return err
	}
	if err := c.q.TryEnqueue(&Op{Type: OpSend, Token: token, Actor: viewer, Role: d.Sender, Payload: payload}); err != nil {
		c.tracker.Discard(token)
		mutationsTotal.WithLabelValues(string(OpSend), "rejected").Inc()
		return err
	}
	return nil
}

// Retry re-issues a failed send under its original correlation token.
func (c *Coordinator) Retry(token string) error {
	m, ok := c.tracker.TakeForRetry(token)
	if !ok {
		return ErrNotFound
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := c.q.TryEnqueue(&Op{Type: OpSend, Token: token, Payload: payload}); err != nil {
		c.tracker.Fail(token)
		return err
	}
	return nil
}

// Edit queues a content update. Only the original sender may edit; the
// check runs against the cached record before the store is touched, and
// the store resolves any remaining race last-writer-wins.
func (c *Coordinator) Edit(id, newContent string, role models.Role) (chan error, error) {
	if utf8.RuneCountInString(newContent) == 0 {
		return nil, &ValidationError{Reason: "edited content must not be empty"}
	}
	rec, ok := c.timeline.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Sender != role {
		return nil, ErrNotAuthorized
	}
	return c.enqueue(OpEdit, id, editDelta{Content: newContent})
}

// Hide adds viewer to the record's deletedFor set. Idempotent: hiding an
// already-hidden message succeeds without a write.
func (c *Coordinator) Hide(id, viewer string) (chan error, error) {
	if rec, ok := c.timeline.Get(id); ok && rec.HiddenFor(viewer) {
		res := make(chan error, 1)
		res <- nil
		return res, nil
	}
	return c.enqueue(OpHide, id, hideDelta{Viewer: viewer})
}

// Remove hard-deletes the record for everyone. Only the original sender
// may remove. Destructive and irreversible; confirmation is the caller's
// concern.
func (c *Coordinator) Remove(id string, role models.Role) (chan error, error) {
	rec, ok := c.timeline.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Sender != role {
		return nil, ErrNotAuthorized
	}
	return c.enqueue(OpRemove, id, nil)
}

// Advance requests a monotonic status advance. Regressions are silent
// no-ops, preserving the never-regress invariant.
func (c *Coordinator) Advance(id string, to models.Status) (chan error, error) {
	if to.Rank() == 0 {
		return nil, &ValidationError{Reason: "unknown status " + string(to)}
	}
	return c.enqueue(OpStatus, id, statusDelta{Status: to})
}

func (c *Coordinator) enqueue(t OpType, id string, delta any) (chan error, error) {
	var payload []byte
	if delta != nil {
		b, err := json.Marshal(delta)
		if err != nil {
			return nil, err
		}
		payload = b
	}
	res := make(chan error, 1)
	if err := c.q.TryEnqueue(&Op{Type: t, MsgID: id, Payload: payload, Res: res}); err != nil {
		mutationsTotal.WithLabelValues(string(t), "rejected").Inc()
		return nil, err
	}
	return res, nil
}

// replySnapshot captures the reply reference at send time. The snapshot
// never updates afterwards, even if the original is edited.
func (c *Coordinator) replySnapshot(id string) *models.ReplyRef {
	ref := &models.ReplyRef{ID: id}
	if rec, ok := c.timeline.Get(id); ok {
		ref.Sender = string(rec.Sender)
		ref.Preview = preview(rec.Content)
	}
	return ref
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= replyPreviewRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:replyPreviewRunes])
}

// runWriter is the single consumer of the mutation queue. In-flight
// writes are not cancelled once issued; results are posted back onto the
// session loop.
func (c *Coordinator) runWriter() {
	for it := range c.q.Out() {
		op := it.Op
		var err error
		switch op.Type {
		case OpSend:
			err = c.execSend(op)
		case OpEdit:
			err = c.execEdit(op)
		case OpHide:
			err = c.execHide(op)
		case OpRemove:
			err = classify(store.DeleteMessage(op.MsgID))
		case OpStatus:
			err = c.execStatus(op)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		mutationsTotal.WithLabelValues(string(op.Type), outcome).Inc()
		if op.Res != nil {
			op.Res <- err
		}
		it.Done()
	}
}

func (c *Coordinator) execSend(op *Op) error {
	var m models.Message
	if err := json.Unmarshal(op.Payload, &m); err != nil {
		return err
	}
	token := op.Token
	if token == "" {
		token = m.Correlation
	}
	_, err := store.CreateMessage(m)
	if err != nil {
		logger.Error("send_write_failed", "conversation", c.conv, "token", token, "error", err)
		wf := &WriteFailedError{
			Token: token,
			Draft: models.Draft{
				Conversation: m.Conversation,
				Sender:       m.Sender,
				Content:      m.Content,
				Attachment:   m.Attachment,
			},
			Err: classify(err),
		}
		c.post(func() {
			c.tracker.Fail(token)
			if c.onSendFailed != nil {
				c.onSendFailed(wf)
			}
		})
		return err
	}
	return nil
}

func (c *Coordinator) execEdit(op *Op) error {
	var d editDelta
	if err := json.Unmarshal(op.Payload, &d); err != nil {
		return err
	}
	_, err := store.UpdateMessage(op.MsgID, func(m *models.Message) error {
		m.Content = d.Content
		m.Edited = true
		m.EditedAt = time.Now().UTC().UnixNano()
		return nil
	})
	return classify(err)
}

func (c *Coordinator) execHide(op *Op) error {
	var d hideDelta
	if err := json.Unmarshal(op.Payload, &d); err != nil {
		return err
	}
	_, err := store.UpdateMessage(op.MsgID, func(m *models.Message) error {
		if m.HiddenFor(d.Viewer) {
			return errNoChange
		}
		m.DeletedFor = append(m.DeletedFor, d.Viewer)
		return nil
	})
	return classify(err)
}

func (c *Coordinator) execStatus(op *Op) error {
	var d statusDelta
	if err := json.Unmarshal(op.Payload, &d); err != nil {
		return err
	}
	_, err := store.UpdateMessage(op.MsgID, func(m *models.Message) error {
		if d.Status.Rank() <= m.Status.Rank() {
			return errNoChange
		}
		m.Status = d.Status
		return nil
	})
	return classify(err)
}

// classify maps store errors onto the mutation taxonomy.
func classify(err error) error {
	switch {
	case err == nil, errors.Is(err, errNoChange):
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	default:
		return &TransientError{Err: err}
	}
}
