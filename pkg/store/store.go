package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/conversation"
)

// ErrNotFound is returned by FindActive when no active conversation exists.
var ErrNotFound = errors.New("no active conversation")

// ConversationStore persists conversations with their embedded interaction
// log. Save upserts the whole document; callers save after every mutation so
// that concurrent readers observe the latest state.
type ConversationStore interface {
	Save(ctx context.Context, c *conversation.Conversation) error

	// FindActive returns the most recently opened conversation with no close
	// timestamp, ties broken by descending identifier, or ErrNotFound.
	FindActive(ctx context.Context) (*conversation.Conversation, error)
}

// AudioStore holds opaque audio blobs referenced from interactions.
type AudioStore interface {
	Put(ctx context.Context, data []byte, contentType string) (conversation.AudioRef, error)
	Get(ctx context.Context, ref conversation.AudioRef) ([]byte, error)
}
