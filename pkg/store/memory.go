package store

import (
	"context"
	"strings"
	"sync"

	"github.com/lithammer/shortuuid/v3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/conversation"
)

// MemoryStore is an in-process ConversationStore used by tests and the demo
// CLI. It stores deep copies so a saved snapshot is not aliased by the turn
// still mutating the live conversation, mimicking an out-of-process store.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[conversation.ConversationID]*conversation.Conversation
}

var _ ConversationStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[conversation.ConversationID]*conversation.Conversation),
	}
}

func (s *MemoryStore) Save(_ context.Context, c *conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c.Clone()
	return nil
}

func (s *MemoryStore) FindActive(_ context.Context) (*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *conversation.Conversation
	for _, c := range s.conversations {
		if !c.Active() {
			continue
		}
		if best == nil || newerThan(c, best) {
			best = c
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best.Clone(), nil
}

// All returns a snapshot of every stored conversation, in no particular
// order.
func (s *MemoryStore) All() []*conversation.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*conversation.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c.Clone())
	}
	return out
}

// newerThan orders by opening time, falling back to descending identifier so
// that two conversations racing into existence at the same instant still
// resolve deterministically.
func newerThan(a, b *conversation.Conversation) bool {
	if !a.OpenedAt.Equal(b.OpenedAt) {
		return a.OpenedAt.After(b.OpenedAt)
	}
	return strings.Compare(a.ID.String(), b.ID.String()) > 0
}

// MemoryAudioStore keeps audio blobs in a map, keyed by short uuid.
type MemoryAudioStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

var _ AudioStore = (*MemoryAudioStore)(nil)

func NewMemoryAudioStore() *MemoryAudioStore {
	return &MemoryAudioStore{
		blobs: make(map[string][]byte),
	}
}

func (s *MemoryAudioStore) Put(_ context.Context, data []byte, contentType string) (conversation.AudioRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := shortuuid.New()
	s.blobs[key] = append([]byte(nil), data...)
	return conversation.AudioRef{Key: key, ContentType: contentType}, nil
}

func (s *MemoryAudioStore) Get(_ context.Context, ref conversation.AudioRef) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blobs[ref.Key]
	if !ok {
		return nil, errors.Errorf("no audio blob for key %s", ref.Key)
	}
	return append([]byte(nil), b...), nil
}
