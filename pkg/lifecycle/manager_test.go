package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/store"
	"github.com/go-go-golems/parley/pkg/trigger"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type fixture struct {
	store    *store.MemoryStore
	audio    *store.MemoryAudioStore
	registry *trigger.Registry
	manager  *Manager
	clock    *fakeClock
}

func newFixture(t *testing.T, expires time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewMemoryStore(),
		audio:    store.NewMemoryAudioStore(),
		registry: trigger.NewRegistry(),
		clock:    &fakeClock{now: time.Date(2024, 4, 7, 12, 0, 0, 0, time.UTC)},
	}
	f.manager = NewManager(f.store, f.registry,
		WithExpiration(expires),
		WithAudioStore(f.audio),
		WithClock(f.clock.Now),
	)
	return f
}

// runTurn drives one full turn: begin, run, close with the given response.
func (f *fixture) runTurn(t *testing.T, input string, respond func(ctx context.Context, turn *Turn)) *Turn {
	t.Helper()
	ctx := context.Background()
	turn := NewTurn(NewBasicContext(input))
	require.NoError(t, f.manager.BeginTurn(ctx, turn))
	require.NoError(t, f.manager.RunTurn(ctx, turn))
	if respond != nil {
		respond(ctx, turn)
	}
	require.NoError(t, f.manager.EndTurn(ctx, turn))
	return turn
}

func (f *fixture) activeCount() int {
	n := 0
	for _, c := range f.store.All() {
		if c.Active() {
			n++
		}
	}
	return n
}

func TestBeginTurnCreatesConversationWithSeededInteraction(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	turn := NewTurn(NewBasicContext("hello"))
	require.NoError(t, f.manager.BeginTurn(ctx, turn))

	require.NotNil(t, turn.Conversation)
	current, err := turn.Conversation.CurrentInteraction()
	require.NoError(t, err)
	assert.Equal(t, "hello", current.InputText)
	require.Len(t, current.InputAlterations, 1)
	assert.Empty(t, current.InputAlterations[0].AuthorID)
	assert.Nil(t, current.ClosedAt)

	// persisted immediately: a concurrent reader sees it as the active one
	found, err := f.store.FindActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, turn.Conversation.ID, found.ID)
	assert.Equal(t, 1, f.activeCount())
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t, time.Minute)

	var followUps []string
	var offered []bool
	f.registry.Register(events.TopicFollowUp, "follow-up-probe",
		func(ctx context.Context, p trigger.Payload) error {
			followUps = append(followUps, p.String(events.KeyFollowUpAuthorID))
			offered = append(offered, p.String(events.KeyFollowUpAuthorID) != "")
			return nil
		})

	first := f.runTurn(t, "hello", func(ctx context.Context, turn *Turn) {
		require.NoError(t, f.manager.RecordOutputAlteration(ctx, turn, "hi", "greeter", true))
		turn.Context.(*BasicContext).SetOutputText("hi")
	})

	// first turn had no prior interaction, so no follow-up candidate
	require.Equal(t, []string{""}, followUps)
	assert.Equal(t, []bool{false}, offered)

	closed, err := first.Conversation.CurrentInteraction()
	require.NoError(t, err)
	assert.Equal(t, "hi", closed.OutputText)
	assert.Equal(t, "greeter", closed.RespondingAuthorID)
	require.NotNil(t, closed.ClosedAt)

	f.clock.Advance(10 * time.Second)
	second := f.runTurn(t, "and again?", nil)

	// within the expiration window the conversation is reused
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	assert.Len(t, second.Conversation.Interactions, 2)
	// the previous responder gets first refusal
	require.Equal(t, []string{"", "greeter"}, followUps)
	assert.Equal(t, "greeter", second.FollowUpAuthorID)
	assert.Equal(t, 1, f.activeCount())
}

func TestConversationExpiresAfterThreshold(t *testing.T) {
	f := newFixture(t, time.Minute)

	first := f.runTurn(t, "hello", func(ctx context.Context, turn *Turn) {
		require.NoError(t, f.manager.RecordOutputAlteration(ctx, turn, "hi", "greeter", true))
	})

	f.clock.Advance(time.Minute + time.Second)
	second := f.runTurn(t, "anyone there?", nil)

	assert.NotEqual(t, first.Conversation.ID, second.Conversation.ID)
	// no follow-up candidate crosses a conversation boundary
	assert.Empty(t, second.FollowUpAuthorID)
	assert.Equal(t, 1, f.activeCount())

	// the expired conversation was closed in the store
	for _, c := range f.store.All() {
		if c.ID == first.Conversation.ID {
			require.NotNil(t, c.ClosedAt)
		}
	}
}

func TestConversationSurvivesJustUnderThreshold(t *testing.T) {
	f := newFixture(t, time.Minute)

	first := f.runTurn(t, "hello", nil)

	f.clock.Advance(time.Minute - time.Second)
	second := f.runTurn(t, "still there?", nil)

	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	assert.Len(t, second.Conversation.Interactions, 2)
}

func TestRecordInputAlterationsAppendAfterSeed(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	turn := NewTurn(NewBasicContext("helo"))
	require.NoError(t, f.manager.BeginTurn(ctx, turn))

	require.NoError(t, f.manager.RecordInputAlteration(ctx, turn, "hello", "spellcheck"))
	require.NoError(t, f.manager.RecordInputAlteration(ctx, turn, "hello!", "emphasis"))
	require.NoError(t, f.manager.RecordInputAlteration(ctx, turn, "hello!!", "emphasis"))

	current, err := turn.Conversation.CurrentInteraction()
	require.NoError(t, err)
	require.Len(t, current.InputAlterations, 4)
	assert.Equal(t, "spellcheck", current.InputAlterations[1].AuthorID)

	// every alteration is persisted immediately
	found, err := f.store.FindActive(ctx)
	require.NoError(t, err)
	foundCurrent, err := found.CurrentInteraction()
	require.NoError(t, err)
	assert.Len(t, foundCurrent.InputAlterations, 4)
}

func TestLastResponderWins(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	turn := NewTurn(NewBasicContext("hello"))
	require.NoError(t, f.manager.BeginTurn(ctx, turn))
	require.NoError(t, f.manager.RecordOutputAlteration(ctx, turn, "hi", "A", true))
	require.NoError(t, f.manager.RecordOutputAlteration(ctx, turn, "hi there", "B", true))
	require.NoError(t, f.manager.RecordOutputAlteration(ctx, turn, "hi there.", "editor", false))

	current, err := turn.Conversation.CurrentInteraction()
	require.NoError(t, err)
	assert.Equal(t, "B", current.RespondingAuthorID)
}

func TestExplicitCloseStartsFreshConversation(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	first := f.runTurn(t, "hello", func(ctx context.Context, turn *Turn) {
		require.NoError(t, f.manager.CloseConversation(ctx, turn))
	})

	second := NewTurn(NewBasicContext("new topic"))
	require.NoError(t, f.manager.BeginTurn(ctx, second))

	assert.NotEqual(t, first.Conversation.ID, second.Conversation.ID)
	assert.Equal(t, 1, f.activeCount())
}

func TestRunTurnWithoutBeginTurnFails(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	turn := NewTurn(NewBasicContext("hello"))
	require.ErrorIs(t, f.manager.RunTurn(ctx, turn), ErrNoTurnConversation)
	require.ErrorIs(t, f.manager.EndTurn(ctx, turn), ErrNoTurnConversation)
}

func TestFollowUpHandlerFailurePoisonsTurn(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	f.registry.Register(events.TopicFollowUp, "broken",
		func(ctx context.Context, p trigger.Payload) error {
			return errors.New("handler blew up")
		})

	turn := NewTurn(NewBasicContext("hello"))
	require.NoError(t, f.manager.BeginTurn(ctx, turn))
	err := f.manager.RunTurn(ctx, turn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler blew up")
}

func TestInteractionCloseBracketEvents(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	var observed []string
	f.registry.Register(events.TopicPreCloseInteraction, "pre-probe",
		func(ctx context.Context, p trigger.Payload) error {
			turn, _ := p[events.KeyTurn].(*Turn)
			current, err := turn.Conversation.CurrentInteraction()
			require.NoError(t, err)
			assert.False(t, current.IsClosed())
			observed = append(observed, "pre")
			return nil
		})
	f.registry.Register(events.TopicPostCloseInteraction, "post-probe",
		func(ctx context.Context, p trigger.Payload) error {
			turn, _ := p[events.KeyTurn].(*Turn)
			current, err := turn.Conversation.CurrentInteraction()
			require.NoError(t, err)
			assert.True(t, current.IsClosed())
			observed = append(observed, "post")
			return nil
		})

	turn := NewTurn(NewBasicContext("hello"))
	require.NoError(t, f.manager.BeginTurn(ctx, turn))
	require.NoError(t, f.manager.EndTurn(ctx, turn))
	assert.Equal(t, []string{"pre", "post"}, observed)
}

func TestNewConversationEventsBracketCreation(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	var observed []string
	f.registry.Register(events.TopicPreNewConversation, "pre-probe",
		func(ctx context.Context, p trigger.Payload) error {
			observed = append(observed, "pre")
			// nothing persisted yet
			_, err := f.store.FindActive(ctx)
			assert.ErrorIs(t, err, store.ErrNotFound)
			return nil
		})
	f.registry.Register(events.TopicPostNewConversation, "post-probe",
		func(ctx context.Context, p trigger.Payload) error {
			observed = append(observed, "post")
			// already persisted, concurrent readers observe it
			found, err := f.store.FindActive(ctx)
			require.NoError(t, err)
			assert.Equal(t, p.String(events.KeyConversationID), found.ID.String())
			return nil
		})

	turn := NewTurn(NewBasicContext("hello"))
	require.NoError(t, f.manager.BeginTurn(ctx, turn))
	assert.Equal(t, []string{"pre", "post"}, observed)
}

func TestOutputAudioStoredOnClose(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	bc := NewBasicContext("hello")
	bc.SetOutputAudio([]byte("wav-bytes"), "audio/wav")
	turn := NewTurn(bc)

	require.NoError(t, f.manager.BeginTurn(ctx, turn))
	require.NoError(t, f.manager.EndTurn(ctx, turn))

	current, err := turn.Conversation.CurrentInteraction()
	require.NoError(t, err)
	require.False(t, current.OutputAudio.IsZero())
	assert.Equal(t, "audio/wav", current.OutputAudio.ContentType)

	data, err := f.audio.Get(ctx, current.OutputAudio)
	require.NoError(t, err)
	assert.Equal(t, []byte("wav-bytes"), data)
}

func TestSetInputAudio(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	turn := NewTurn(NewBasicContext("hello"))
	require.NoError(t, f.manager.BeginTurn(ctx, turn))
	require.NoError(t, f.manager.SetInputAudio(ctx, turn, []byte("pcm"), "audio/ogg"))

	found, err := f.store.FindActive(ctx)
	require.NoError(t, err)
	current, err := found.CurrentInteraction()
	require.NoError(t, err)
	require.False(t, current.InputAudio.IsZero())
	assert.Equal(t, "audio/ogg", current.InputAudio.ContentType)
}

func TestRegisteredHandlersDriveFullTurn(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	f.manager.RegisterHandlers(f.registry)

	var order []string
	f.registry.Register(events.TopicFollowUp, "follow-up-probe",
		func(ctx context.Context, p trigger.Payload) error {
			order = append(order, "follow-up")
			return nil
		})
	// a general-purpose handler on the turn topic, default priority: the
	// manager's runs-first registration must beat it
	f.registry.Register(events.TopicTurn, "responder",
		func(ctx context.Context, p trigger.Payload) error {
			order = append(order, "responder")
			turn, _ := p[events.KeyTurn].(*Turn)
			return f.manager.RecordOutputAlteration(ctx, turn, "hi", "responder", true)
		})

	turn := NewTurn(NewBasicContext("hello"))
	payload := trigger.Payload{events.KeyTurn: turn}
	require.NoError(t, f.registry.Publish(ctx, events.TopicPreTurn, payload))
	require.NoError(t, f.registry.Publish(ctx, events.TopicTurn, payload))
	require.NoError(t, f.registry.Publish(ctx, events.TopicPostTurn, payload))

	assert.Equal(t, []string{"follow-up", "responder"}, order)

	found, err := f.store.FindActive(ctx)
	require.NoError(t, err)
	current, err := found.CurrentInteraction()
	require.NoError(t, err)
	assert.True(t, current.IsClosed())
	assert.Equal(t, "responder", current.RespondingAuthorID)
}

func TestAlteredTopicsRecordThroughRegistry(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	f.manager.RegisterHandlers(f.registry)

	turn := NewTurn(NewBasicContext("helo"))
	require.NoError(t, f.manager.BeginTurn(ctx, turn))

	require.NoError(t, f.registry.Publish(ctx, events.TopicInputAltered, trigger.Payload{
		events.KeyTurn:     turn,
		events.KeyText:     "hello",
		events.KeyAuthorID: "spellcheck",
	}))
	require.NoError(t, f.registry.Publish(ctx, events.TopicOutputAltered, trigger.Payload{
		events.KeyTurn:       turn,
		events.KeyText:       "hi",
		events.KeyAuthorID:   "greeter",
		events.KeyResponding: true,
	}))

	current, err := turn.Conversation.CurrentInteraction()
	require.NoError(t, err)
	require.Len(t, current.InputAlterations, 2)
	assert.Equal(t, "spellcheck", current.InputAlterations[1].AuthorID)
	require.Len(t, current.OutputAlterations, 1)
	assert.Equal(t, "greeter", current.RespondingAuthorID)
}
