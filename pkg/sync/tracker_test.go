package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/pkg/models"
)

// inlinePost runs posted closures synchronously; tracker tests have no
// session loop.
func inlinePost(f func()) { f() }

func draftMsg(conv string) models.Message {
	return models.Message{Conversation: conv, Sender: models.RoleAgent, Content: "hello"}
}

func TestBeginAssignsProvisionalFields(t *testing.T) {
	tr := NewTracker(time.Minute, inlinePost, nil)
	ph := tr.Begin("c_1", "a1", draftMsg("a1"))

	assert.Equal(t, "c_1", ph.Msg.Correlation)
	assert.Equal(t, models.StatusSent, ph.Msg.Status)
	assert.Greater(t, ph.Msg.CreatedAt, int64(0))
	assert.Equal(t, PlaceholderPending, ph.State)
}

func TestBeginIsIdempotentPerToken(t *testing.T) {
	tr := NewTracker(time.Minute, inlinePost, nil)
	first := tr.Begin("c_1", "a1", draftMsg("a1"))
	second := tr.Begin("c_1", "a1", draftMsg("a1"))
	assert.Same(t, first, second)
}

func TestReconcileConsumesExactlyOnce(t *testing.T) {
	tr := NewTracker(time.Minute, inlinePost, nil)
	tr.Begin("c_1", "a1", draftMsg("a1"))

	authoritative := models.Message{ID: "m1", Correlation: "c_1"}
	assert.True(t, tr.Reconcile(authoritative))
	assert.False(t, tr.Reconcile(authoritative), "token already consumed")
	assert.Empty(t, tr.Placeholders("a1"))
}

func TestReconcileMatchesByTokenOnly(t *testing.T) {
	tr := NewTracker(time.Minute, inlinePost, nil)
	tr.Begin("c_1", "a1", draftMsg("a1"))

	assert.False(t, tr.Reconcile(models.Message{ID: "m1"}), "no token, no match")
	assert.False(t, tr.Reconcile(models.Message{ID: "m1", Correlation: "c_other"}))
	assert.Len(t, tr.Placeholders("a1"), 1)
}

func TestTimeoutMarksFailedAndNotifies(t *testing.T) {
	expired := make(chan *Placeholder, 1)
	tr := NewTracker(10*time.Millisecond, inlinePost, func(ph *Placeholder) { expired <- ph })
	tr.Begin("c_1", "a1", draftMsg("a1"))

	select {
	case ph := <-expired:
		assert.Equal(t, "c_1", ph.Token)
		assert.Equal(t, PlaceholderFailed, ph.State)
	case <-time.After(time.Second):
		t.Fatal("placeholder did not expire")
	}

	states := tr.States("a1")
	assert.Equal(t, PlaceholderFailed, states["c_1"])
}

func TestLateReconcileRecoversTimedOutSend(t *testing.T) {
	expired := make(chan struct{}, 1)
	tr := NewTracker(10*time.Millisecond, inlinePost, func(*Placeholder) { expired <- struct{}{} })
	tr.Begin("c_1", "a1", draftMsg("a1"))
	<-expired

	// the write landed after all; the failed placeholder must clear
	assert.True(t, tr.Reconcile(models.Message{ID: "m1", Correlation: "c_1"}))
	assert.Empty(t, tr.Placeholders("a1"))
}

func TestFailThenRetryReusesToken(t *testing.T) {
	tr := NewTracker(time.Minute, inlinePost, nil)
	tr.Begin("c_1", "a1", draftMsg("a1"))
	tr.Fail("c_1")

	states := tr.States("a1")
	require.Equal(t, PlaceholderFailed, states["c_1"])

	m, ok := tr.TakeForRetry("c_1")
	require.True(t, ok)
	assert.Equal(t, "c_1", m.Correlation)
	assert.Equal(t, "hello", m.Content)
	assert.Equal(t, PlaceholderPending, tr.States("a1")["c_1"])

	// a pending placeholder is not retryable
	_, ok = tr.TakeForRetry("c_1")
	assert.False(t, ok)
}

func TestDiscardDropsPlaceholder(t *testing.T) {
	tr := NewTracker(time.Minute, inlinePost, nil)
	tr.Begin("c_1", "a1", draftMsg("a1"))
	tr.Discard("c_1")
	assert.Empty(t, tr.Placeholders("a1"))
	assert.False(t, tr.Reconcile(models.Message{ID: "m1", Correlation: "c_1"}))
}

func TestPlaceholdersAreScopedToViewer(t *testing.T) {
	tr := NewTracker(time.Minute, inlinePost, nil)
	tr.Begin("c_1", "a1", draftMsg("a1"))
	tr.Begin("c_2", "manager", models.Message{Conversation: "a1", Sender: models.RoleCounterpart, Content: "re"})

	assert.Len(t, tr.Placeholders("a1"), 1)
	assert.Len(t, tr.Placeholders("manager"), 1)
	assert.NotContains(t, tr.States("a1"), "c_2")
}
