package conversation

import (
	"time"

	"github.com/pkg/errors"
)

// ErrEmptyState is returned when an operation needs a current interaction but
// the conversation has none yet. This is a caller-ordering violation: a turn
// must create its interaction before anything reads it.
var ErrEmptyState = errors.New("conversation has no interactions")

// Conversation is a session spanning one or more interactions. It stays
// active until a handler closes it explicitly or the lifecycle manager closes
// it after the expiration window. Conversations are never deleted, only
// closed, so the interaction log doubles as an audit trail.
//
// The interaction list is an append log: the current interaction is always
// the last appended one, and all earlier ones are closed.
type Conversation struct {
	ID           ConversationID `json:"id" bson:"_id"`
	OpenedAt     time.Time      `json:"openedAt" bson:"openedAt"`
	ClosedAt     *time.Time     `json:"closedAt,omitempty" bson:"closedAt,omitempty"`
	Interactions []*Interaction `json:"interactions" bson:"interactions"`
}

func New(at time.Time) *Conversation {
	return &Conversation{
		ID:       NewConversationID(),
		OpenedAt: at,
	}
}

// Active reports whether the conversation has not been closed.
func (c *Conversation) Active() bool {
	return c.ClosedAt == nil
}

// CurrentInteraction returns the last interaction in the log.
func (c *Conversation) CurrentInteraction() (*Interaction, error) {
	if len(c.Interactions) == 0 {
		return nil, ErrEmptyState
	}
	return c.Interactions[len(c.Interactions)-1], nil
}

// NewInteraction appends a fresh interaction seeded from inputText and
// returns it.
func (c *Conversation) NewInteraction(inputText string, at time.Time) *Interaction {
	i := NewInteraction(inputText, at)
	c.Interactions = append(c.Interactions, i)
	return i
}

// Close stamps the conversation closed. Not guarded: closing twice re-stamps
// the timestamp.
func (c *Conversation) Close(at time.Time) {
	closedAt := at
	c.ClosedAt = &closedAt
}

// Clone returns a deep copy. Stores use it so that a saved snapshot is not
// aliased by the turn still mutating the live object.
func (c *Conversation) Clone() *Conversation {
	out := *c
	if c.ClosedAt != nil {
		closedAt := *c.ClosedAt
		out.ClosedAt = &closedAt
	}
	out.Interactions = make([]*Interaction, 0, len(c.Interactions))
	for _, i := range c.Interactions {
		out.Interactions = append(out.Interactions, i.clone())
	}
	return &out
}
