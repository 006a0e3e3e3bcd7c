package sync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRejectsWhenFull(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.TryEnqueue(&Op{Type: OpSend, Payload: []byte("a")}))
	require.NoError(t, q.TryEnqueue(&Op{Type: OpSend, Payload: []byte("b")}))

	err := q.TryEnqueue(&Op{Type: OpSend, Payload: []byte("c")})
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.Equal(t, uint64(1), q.Dropped())
}

func TestQueueRejectsAfterClose(t *testing.T) {
	q := NewQueue(2)
	q.Close()
	err := q.TryEnqueue(&Op{Type: OpSend})
	assert.True(t, errors.Is(err, ErrSessionClosed))
}

func TestQueueCloseDuringEnqueueDoesNotPanic(t *testing.T) {
	// a producer still inside TryEnqueue while the session shuts down
	// must get ErrSessionClosed, never a send on a closed channel
	for i := 0; i < 500; i++ {
		q := NewQueue(2)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				err := q.TryEnqueue(&Op{Type: OpSend, Payload: []byte("x")})
				if errors.Is(err, ErrSessionClosed) {
					return
				}
			}
		}()
		q.Close()
		<-done
		for it := range q.Out() {
			it.Done()
		}
	}
}

func TestQueueCopiesPayload(t *testing.T) {
	q := NewQueue(2)
	payload := []byte("original")
	require.NoError(t, q.TryEnqueue(&Op{Type: OpSend, Payload: payload}))
	payload[0] = 'X'

	it := <-q.Out()
	assert.Equal(t, "original", string(it.Op.Payload), "queue must own its payload copy")
	it.Done()
}

func TestQueueDoneIsSafeToRepeat(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.TryEnqueue(&Op{Type: OpHide, MsgID: "m1", Payload: []byte("{}")}))
	it := <-q.Out()
	it.Done()
	it.Done()
}

func TestQueueDrainsInOrder(t *testing.T) {
	q := NewQueue(4)
	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, q.TryEnqueue(&Op{Type: OpEdit, MsgID: id}))
	}
	q.Close()

	var got []string
	for it := range q.Out() {
		got = append(got, it.Op.MsgID)
		it.Done()
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, got)
}
