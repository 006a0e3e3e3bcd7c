package sync

import (
	"sort"
	"time"

	"parley/pkg/models"
	"parley/pkg/store"
)

// Timeline holds the merged record state of one conversation: a mapping
// from message id to the latest observed record across both feed
// partitions. It is mutated only from the session loop; none of its
// methods lock.
type Timeline struct {
	records map[string]models.Message
	// removed remembers hard-deleted ids for the session lifetime so a
	// stale or replayed batch cannot resurrect one.
	removed map[string]struct{}
	now     func() time.Time
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{
		records: make(map[string]models.Message),
		removed: make(map[string]struct{}),
		now:     time.Now,
	}
}

// Apply folds one feed batch into the record mapping and returns the
// records that were newly added (used for placeholder reconciliation).
// Batches are idempotently appliable: applying the same batch twice
// leaves the mapping unchanged. Last applied wins on a per-record basis;
// no cross-record ordering is assumed.
func (t *Timeline) Apply(p models.Partition, b store.Batch) []models.Message {
	var added []models.Message

	if b.Resync {
		// a resync is authoritative for its partition: records of that
		// partition missing from the batch no longer exist
		present := make(map[string]struct{}, len(b.Changes))
		for _, c := range b.Changes {
			present[c.Msg.ID] = struct{}{}
		}
		for id, m := range t.records {
			if store.PartitionOf(m) == p {
				if _, ok := present[id]; !ok {
					delete(t.records, id)
					t.removed[id] = struct{}{}
				}
			}
		}
	}

	for _, c := range b.Changes {
		m := c.Msg
		if m.ID == "" {
			continue
		}
		switch c.Kind {
		case store.Removed:
			delete(t.records, m.ID)
			t.removed[m.ID] = struct{}{}
		default:
			if _, gone := t.removed[m.ID]; gone {
				continue
			}
			if m.CreatedAt <= 0 {
				// best-effort ordering beats dropping the message
				m.CreatedAt = t.now().UTC().UnixNano()
			}
			// first observation counts as an add even inside a resync,
			// where every record arrives as Modified
			_, known := t.records[m.ID]
			t.records[m.ID] = m
			if !known {
				added = append(added, m)
			}
		}
	}
	return added
}

// Get returns the current record for id, if present.
func (t *Timeline) Get(id string) (models.Message, bool) {
	m, ok := t.records[id]
	return m, ok
}

// Len returns the number of live records.
func (t *Timeline) Len() int { return len(t.records) }

// Project computes the viewer-filtered, ordered projection. extra holds
// the viewer's optimistic placeholders, merged into the same order. The
// function is pure: it reads the mapping and allocates a fresh slice, so
// re-running it is side-effect free and idempotent.
func (t *Timeline) Project(viewerID string, extra []models.Message) []models.Message {
	out := make([]models.Message, 0, len(t.records)+len(extra))
	for _, m := range t.records {
		if m.VisibleTo(viewerID) {
			out = append(out, m)
		}
	}
	out = append(out, extra...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		// deterministic tie-break when timestamps collide
		return sortKey(out[i]) < sortKey(out[j])
	})
	return out
}

// sortKey orders records with equal timestamps: authoritative ids sort by
// id, placeholders (no id yet) by their correlation token.
func sortKey(m models.Message) string {
	if m.ID != "" {
		return m.ID
	}
	return m.Correlation
}
