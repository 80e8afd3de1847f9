package lifecycle

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/store"
	"github.com/go-go-golems/parley/pkg/trigger"
)

// ErrNoTurnConversation is returned when RunTurn or EndTurn is called on a
// turn that never went through BeginTurn.
var ErrNoTurnConversation = errors.New("turn has no conversation, BeginTurn must run first")

const DefaultExpiration = 5 * time.Minute

// Manager drives the conversation lifecycle for every client turn: it loads
// or creates the active conversation, opens an interaction on it, routes the
// follow-up candidate, records text alterations and closes the interaction
// at the end of the turn.
//
// The manager does not serialize turns. Concurrent BeginTurn calls can race
// a second active conversation into existence; the store query picks a
// deterministic winner on the next turn and the loser simply goes stale.
type Manager struct {
	store    store.ConversationStore
	audio    store.AudioStore
	triggers *trigger.Registry
	expires  time.Duration
	clock    func() time.Time
}

type Option func(*Manager)

// WithExpiration sets how long after its last interaction closed a
// conversation is still considered live.
func WithExpiration(d time.Duration) Option {
	return func(m *Manager) {
		m.expires = d
	}
}

func WithAudioStore(audio store.AudioStore) Option {
	return func(m *Manager) {
		m.audio = audio
	}
}

func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

func NewManager(conversations store.ConversationStore, triggers *trigger.Registry, options ...Option) *Manager {
	ret := &Manager{
		store:    conversations,
		triggers: triggers,
		expires:  DefaultExpiration,
		clock:    time.Now,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// RegisterHandlers subscribes the manager to the host's turn lifecycle
// topics. The turn handler runs at high priority so follow-up dispatch
// happens before any general-purpose handler on the same topic.
func (m *Manager) RegisterHandlers(registry *trigger.Registry) {
	registry.Register(events.TopicPreTurn, "conversations.pre-turn", m.handleWithTurn(m.BeginTurn))
	registry.Register(events.TopicTurn, "conversations.turn", m.handleWithTurn(m.RunTurn),
		trigger.WithPriority(events.TurnHandlerPriority))
	registry.Register(events.TopicPostTurn, "conversations.post-turn", m.handleWithTurn(m.EndTurn))

	registry.Register(events.TopicInputAltered, "conversations.input-altered",
		func(ctx context.Context, p trigger.Payload) error {
			t, err := turnFromPayload(p)
			if err != nil {
				return err
			}
			return m.RecordInputAlteration(ctx, t, p.String(events.KeyText), p.String(events.KeyAuthorID))
		})
	registry.Register(events.TopicOutputAltered, "conversations.output-altered",
		func(ctx context.Context, p trigger.Payload) error {
			t, err := turnFromPayload(p)
			if err != nil {
				return err
			}
			return m.RecordOutputAlteration(ctx, t,
				p.String(events.KeyText), p.String(events.KeyAuthorID), p.Bool(events.KeyResponding))
		})
}

func (m *Manager) handleWithTurn(f func(context.Context, *Turn) error) trigger.Handler {
	return func(ctx context.Context, p trigger.Payload) error {
		t, err := turnFromPayload(p)
		if err != nil {
			return err
		}
		return f(ctx, t)
	}
}

func turnFromPayload(p trigger.Payload) (*Turn, error) {
	t, ok := p[events.KeyTurn].(*Turn)
	if !ok || t == nil {
		return nil, errors.New("payload carries no turn")
	}
	return t, nil
}

// BeginTurn loads or creates the active conversation for this turn and opens
// a new interaction on it.
//
// An active conversation whose last interaction closed more than the
// expiration window ago is closed here, lazily; there is no background
// timer. Otherwise the previous interaction's responding author becomes the
// turn's follow-up candidate.
func (m *Manager) BeginTurn(ctx context.Context, t *Turn) error {
	conv, err := m.store.FindActive(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return errors.Wrap(err, "failed to look up active conversation")
	}
	t.Conversation = conv

	if conv != nil {
		current, err := conv.CurrentInteraction()
		if err != nil {
			return err
		}
		if current.ClosedAt != nil && m.clock().Sub(*current.ClosedAt) > m.expires {
			log.Info().
				Str("conversation_id", conv.ID.String()).
				Dur("expires", m.expires).
				Msg("conversation expired")
			if err := m.closeConversation(ctx, t, conv); err != nil {
				return err
			}
		} else {
			// Conversation still live, potentially a follow-up query.
			t.FollowUpAuthorID = current.RespondingAuthorID
		}
	}

	// A handler may also have closed the conversation explicitly, so re-test
	// closedness rather than only relying on the expiration branch above.
	if conv == nil || !conv.Active() {
		log.Info().Msg("creating new conversation")
		if err := m.triggers.Publish(ctx, events.TopicPreNewConversation, trigger.Payload{
			events.KeyTurn: t,
		}); err != nil {
			return err
		}
		conv = conversation.New(m.clock())
		t.Conversation = conv
		// Save immediately so a concurrent FindActive returns this one.
		if err := m.store.Save(ctx, conv); err != nil {
			return errors.Wrap(err, "failed to persist new conversation")
		}
		if err := m.triggers.Publish(ctx, events.TopicPostNewConversation, trigger.Payload{
			events.KeyTurn:           t,
			events.KeyConversationID: conv.ID.String(),
		}); err != nil {
			return err
		}
	}

	return m.createInteraction(ctx, t)
}

func (m *Manager) createInteraction(ctx context.Context, t *Turn) error {
	conv := t.Conversation
	log.Info().Str("conversation_id", conv.ID.String()).Msg("creating new interaction")

	if err := m.triggers.Publish(ctx, events.TopicPreCreateInteraction, trigger.Payload{
		events.KeyTurn:           t,
		events.KeyConversationID: conv.ID.String(),
	}); err != nil {
		return err
	}

	interaction := conv.NewInteraction(t.Context.GetInputText(), m.clock())
	if err := m.store.Save(ctx, conv); err != nil {
		return errors.Wrap(err, "failed to persist new interaction")
	}

	return m.triggers.Publish(ctx, events.TopicPostCreateInteraction, trigger.Payload{
		events.KeyTurn:           t,
		events.KeyConversationID: conv.ID.String(),
		events.KeyInteractionID:  interaction.ID.String(),
	})
}

// RunTurn fires the follow-up topic, offering the previous interaction's
// responder first refusal on this turn. It must run before any
// general-purpose turn handling, which RegisterHandlers arranges through the
// turn handler's priority.
func (m *Manager) RunTurn(ctx context.Context, t *Turn) error {
	if t.Conversation == nil {
		return ErrNoTurnConversation
	}
	return m.triggers.Publish(ctx, events.TopicFollowUp, trigger.Payload{
		events.KeyTurn:             t,
		events.KeyConversationID:   t.Conversation.ID.String(),
		events.KeyFollowUpAuthorID: t.FollowUpAuthorID,
	})
}

// EndTurn closes the turn's interaction, fixing its output text, output
// audio and close timestamp from the turn context.
func (m *Manager) EndTurn(ctx context.Context, t *Turn) error {
	conv := t.Conversation
	if conv == nil {
		return ErrNoTurnConversation
	}
	current, err := conv.CurrentInteraction()
	if err != nil {
		return err
	}

	if err := m.triggers.Publish(ctx, events.TopicPreCloseInteraction, trigger.Payload{
		events.KeyTurn:           t,
		events.KeyConversationID: conv.ID.String(),
		events.KeyInteractionID:  current.ID.String(),
	}); err != nil {
		return err
	}

	var audioRef conversation.AudioRef
	if audio := t.Context.GetOutputAudio(); m.audio != nil && len(audio) > 0 {
		audioRef, err = m.audio.Put(ctx, audio, t.Context.GetOutputAudioContentType())
		if err != nil {
			return errors.Wrap(err, "failed to store output audio")
		}
	}

	current.Close(t.Context.GetOutputText(), audioRef, m.clock())
	if err := m.store.Save(ctx, conv); err != nil {
		return errors.Wrap(err, "failed to persist closed interaction")
	}

	return m.triggers.Publish(ctx, events.TopicPostCloseInteraction, trigger.Payload{
		events.KeyTurn:           t,
		events.KeyConversationID: conv.ID.String(),
		events.KeyInteractionID:  current.ID.String(),
	})
}

// RecordInputAlteration appends an input alteration to the turn's current
// interaction and persists the conversation, so any handler later in the
// chain reads the updated state.
func (m *Manager) RecordInputAlteration(ctx context.Context, t *Turn, text string, authorID string) error {
	current, err := m.currentInteraction(t)
	if err != nil {
		return err
	}
	current.AddInputAlteration(text, authorID)
	return errors.Wrap(m.store.Save(ctx, t.Conversation), "failed to persist input alteration")
}

// RecordOutputAlteration appends an output alteration. A responding
// alteration claims the interaction's primary response for its author,
// overwriting any earlier claim.
func (m *Manager) RecordOutputAlteration(ctx context.Context, t *Turn, text string, authorID string, responding bool) error {
	current, err := m.currentInteraction(t)
	if err != nil {
		return err
	}
	current.AddOutputAlteration(text, authorID, responding)
	return errors.Wrap(m.store.Save(ctx, t.Conversation), "failed to persist output alteration")
}

// SetInputAudio stores client-supplied input audio and attaches its ref to
// the turn's current interaction.
func (m *Manager) SetInputAudio(ctx context.Context, t *Turn, data []byte, contentType string) error {
	if m.audio == nil {
		return errors.New("no audio store configured")
	}
	current, err := m.currentInteraction(t)
	if err != nil {
		return err
	}
	ref, err := m.audio.Put(ctx, data, contentType)
	if err != nil {
		return errors.Wrap(err, "failed to store input audio")
	}
	current.InputAudio = ref
	return errors.Wrap(m.store.Save(ctx, t.Conversation), "failed to persist input audio ref")
}

// CloseConversation lets a handler end the conversation explicitly; the next
// BeginTurn will then start a fresh one.
func (m *Manager) CloseConversation(ctx context.Context, t *Turn) error {
	if t.Conversation == nil {
		return ErrNoTurnConversation
	}
	return m.closeConversation(ctx, t, t.Conversation)
}

func (m *Manager) closeConversation(ctx context.Context, t *Turn, conv *conversation.Conversation) error {
	if err := m.triggers.Publish(ctx, events.TopicPreCloseConversation, trigger.Payload{
		events.KeyTurn:           t,
		events.KeyConversationID: conv.ID.String(),
	}); err != nil {
		return err
	}

	conv.Close(m.clock())
	if err := m.store.Save(ctx, conv); err != nil {
		return errors.Wrap(err, "failed to persist closed conversation")
	}

	return m.triggers.Publish(ctx, events.TopicPostCloseConversation, trigger.Payload{
		events.KeyTurn:           t,
		events.KeyConversationID: conv.ID.String(),
	})
}

func (m *Manager) currentInteraction(t *Turn) (*conversation.Interaction, error) {
	if t.Conversation == nil {
		return nil, ErrNoTurnConversation
	}
	return t.Conversation.CurrentInteraction()
}
