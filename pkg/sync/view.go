package sync

import (
	"time"

	"parley/pkg/models"
)

// ViewModel is the rendered-message shape handed to a presentation layer.
// Key is stable across reconciliation: it is the correlation token for
// messages sent from this process and the record id otherwise, so a
// diffing renderer treats placeholder-to-authoritative as a replace, not
// a delete-then-add.
type ViewModel struct {
	Key        string             `json:"key"`
	ID         string             `json:"id,omitempty"`
	Sender     models.Role        `json:"sender"`
	Content    string             `json:"content,omitempty"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	Status     models.Status      `json:"status"`
	Edited     bool               `json:"edited,omitempty"`
	EditedAt   time.Time          `json:"edited_at,omitempty"`
	ReplyTo    *models.ReplyRef   `json:"reply_to,omitempty"`
	// Pending marks an optimistic placeholder not yet confirmed by the
	// store; Failed marks one whose write failed or timed out.
	Pending bool `json:"pending,omitempty"`
	Failed  bool `json:"failed,omitempty"`
}

// DayGroup bundles the contiguous messages of one calendar day (in the
// viewer's local calendar) for date-header presentation.
type DayGroup struct {
	Day      string      `json:"day"` // 2006-01-02
	Label    string      `json:"label"`
	Messages []ViewModel `json:"messages"`
}

func toView(m models.Message, pending, failed bool) ViewModel {
	key := m.ID
	if m.Correlation != "" {
		key = m.Correlation
	}
	vm := ViewModel{
		Key:        key,
		ID:         m.ID,
		Sender:     m.Sender,
		Content:    m.Content,
		Attachment: m.Attachment,
		CreatedAt:  time.Unix(0, m.CreatedAt).UTC(),
		Status:     m.Status,
		Edited:     m.Edited,
		ReplyTo:    m.ReplyTo,
		Pending:    pending,
		Failed:     failed,
	}
	if m.EditedAt > 0 {
		vm.EditedAt = time.Unix(0, m.EditedAt).UTC()
	}
	return vm
}

// GroupByDay slices an ordered projection into day groups using the
// given location for the calendar day boundary.
func GroupByDay(msgs []ViewModel, loc *time.Location, now time.Time) []DayGroup {
	if loc == nil {
		loc = time.Local
	}
	var groups []DayGroup
	for _, vm := range msgs {
		day := vm.CreatedAt.In(loc).Format("2006-01-02")
		if n := len(groups); n == 0 || groups[n-1].Day != day {
			groups = append(groups, DayGroup{Day: day, Label: dayLabel(vm.CreatedAt.In(loc), now.In(loc))})
		}
		g := &groups[len(groups)-1]
		g.Messages = append(g.Messages, vm)
	}
	return groups
}

func dayLabel(d, now time.Time) string {
	today := now.Format("2006-01-02")
	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")
	switch d.Format("2006-01-02") {
	case today:
		return "Today"
	case yesterday:
		return "Yesterday"
	}
	return d.Format("January 2, 2006")
}
