package models

// Role identifies which side of a conversation authored a message.
type Role string

const (
	RoleAgent       Role = "agent"
	RoleCounterpart Role = "counterpart"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool { return r == RoleAgent || r == RoleCounterpart }

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleAgent {
		return RoleCounterpart
	}
	return RoleAgent
}

// Status is the delivery status of a message. Transitions only move
// forward: sent -> delivered -> seen.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
)

// Rank maps a status onto the monotonic lattice used to reject
// regressions. Unknown statuses rank below "sent".
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusSeen:
		return 3
	}
	return 0
}

// Attachment is an opaque binary payload reference. The core never
// interprets Data; it is carried as-is (clients send base64).
type Attachment struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// ReplyRef is a denormalized snapshot of the message being replied to,
// captured at send time. It is never updated, even if the original is
// edited or deleted afterwards.
type ReplyRef struct {
	ID      string `json:"id"`
	Sender  string `json:"sender"`
	Preview string `json:"preview"`
}

// Message is the durable unit of a conversation. ID and CreatedAt are
// assigned by the store at write time and immutable afterwards, as are
// Conversation, Sender and ReplyTo.
type Message struct {
	ID           string      `json:"id"`
	Conversation string      `json:"conversation"`
	Sender       Role        `json:"sender"`
	Content      string      `json:"content,omitempty"`
	Attachment   *Attachment `json:"attachment,omitempty"`
	// CreatedAt is a store-assigned timestamp (unix nanoseconds),
	// non-decreasing within one direction of a conversation.
	CreatedAt int64  `json:"created_at"`
	Status    Status `json:"status"`
	Edited    bool   `json:"edited,omitempty"`
	EditedAt  int64  `json:"edited_at,omitempty"`
	// DeletedFor lists the viewer ids that hid this message for
	// themselves. It never affects the other party's view.
	DeletedFor []string `json:"deleted_for,omitempty"`
	// DeletedForEveryone marks the record as tombstoned; no renderer may
	// show its content.
	DeletedForEveryone bool      `json:"deleted_for_everyone,omitempty"`
	ReplyTo            *ReplyRef `json:"reply_to,omitempty"`
	// Correlation carries the client-generated token linking this record
	// back to an optimistic placeholder. Empty for messages that were not
	// sent through this process.
	Correlation string `json:"correlation,omitempty"`
}

// HiddenFor reports whether viewerID has hidden this message.
func (m *Message) HiddenFor(viewerID string) bool {
	for _, v := range m.DeletedFor {
		if v == viewerID {
			return true
		}
	}
	return false
}

// VisibleTo reports whether the message may render for viewerID.
func (m *Message) VisibleTo(viewerID string) bool {
	return !m.DeletedForEveryone && !m.HiddenFor(viewerID)
}
