package models

// Direction selects one feed partition of a conversation.
type Direction string

const (
	// DirOut holds messages authored by the agent.
	DirOut Direction = "out"
	// DirIn holds messages authored by the counterpart.
	DirIn Direction = "in"
)

// DirectionFor returns the partition a message from the given role lands in.
func DirectionFor(r Role) Direction {
	if r == RoleAgent {
		return DirOut
	}
	return DirIn
}

// Partition selects one direction of one conversation for subscription
// and listing. Conversation is the agent id; the counterpart side is a
// single logical inbox, so the agent id alone keys the conversation.
type Partition struct {
	Conversation string
	Direction    Direction
}

// Draft is the caller-supplied portion of a message before the store
// assigns identity and timestamp.
type Draft struct {
	Conversation string      `json:"conversation"`
	Sender       Role        `json:"sender"`
	Content      string      `json:"content"`
	Attachment   *Attachment `json:"attachment,omitempty"`
	// ReplyToID references an existing message; the reply snapshot is
	// resolved at send time.
	ReplyToID string `json:"reply_to_id,omitempty"`
}
