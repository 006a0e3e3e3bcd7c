package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/pkg/models"
)

func vmAt(id string, ts time.Time) ViewModel {
	return ViewModel{Key: id, ID: id, Sender: models.RoleAgent, CreatedAt: ts}
}

func TestGroupByDayLabels(t *testing.T) {
	now := time.Date(2026, 8, 28, 15, 0, 0, 0, time.UTC)
	msgs := []ViewModel{
		vmAt("old", time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)),
		vmAt("y1", now.AddDate(0, 0, -1)),
		vmAt("y2", now.AddDate(0, 0, -1).Add(time.Hour)),
		vmAt("t1", now.Add(-time.Hour)),
	}

	groups := GroupByDay(msgs, time.UTC, now)
	require.Len(t, groups, 3)

	assert.Equal(t, "August 20, 2026", groups[0].Label)
	assert.Len(t, groups[0].Messages, 1)

	assert.Equal(t, "Yesterday", groups[1].Label)
	assert.Len(t, groups[1].Messages, 2)

	assert.Equal(t, "Today", groups[2].Label)
	assert.Len(t, groups[2].Messages, 1)
}

func TestGroupByDayEmpty(t *testing.T) {
	assert.Empty(t, GroupByDay(nil, time.UTC, time.Now()))
}

func TestViewKeyIsStableAcrossReconcile(t *testing.T) {
	placeholder := models.Message{Correlation: "c_1", Sender: models.RoleAgent, Content: "hi", CreatedAt: 100}
	authoritative := placeholder
	authoritative.ID = "m1"
	authoritative.CreatedAt = 120

	before := toView(placeholder, true, false)
	after := toView(authoritative, false, false)

	// same key means a diffing renderer replaces in place
	assert.Equal(t, before.Key, after.Key)
	assert.True(t, before.Pending)
	assert.False(t, after.Pending)
	assert.Equal(t, "m1", after.ID)
}

func TestViewKeyFallsBackToID(t *testing.T) {
	m := models.Message{ID: "m1", Sender: models.RoleCounterpart, Content: "re", CreatedAt: 100}
	vm := toView(m, false, false)
	assert.Equal(t, "m1", vm.Key)
}
