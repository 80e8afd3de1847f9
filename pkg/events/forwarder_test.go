package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/trigger"
)

func receiveOne(t *testing.T, msgs <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-msgs:
		msg.Ack()
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded message")
		return nil
	}
}

func TestForwarderPublishesScalarFields(t *testing.T) {
	ctx := context.Background()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	msgs, err := pubSub.Subscribe(ctx, "wire")
	require.NoError(t, err)

	f := NewForwarder()
	f.SubscribePublisher("wire", pubSub)

	require.NoError(t, f.Forward(TopicFollowUp, trigger.Payload{
		KeyFollowUpAuthorID: "greeter",
		KeyResponding:       true,
		KeyTurn:             struct{ NotSerializable chan int }{},
	}))

	msg := receiveOne(t, msgs)
	assert.Equal(t, "0", msg.Metadata.Get("sequence_number"))
	assert.NotEmpty(t, msg.Metadata.Get("correlation_id"))

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, TopicFollowUp, payload["topic"])
	assert.Equal(t, "greeter", payload[KeyFollowUpAuthorID])
	assert.Equal(t, true, payload[KeyResponding])
	assert.NotContains(t, payload, KeyTurn)
}

func TestForwarderAttachForwardsTriggerEvents(t *testing.T) {
	ctx := context.Background()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	msgs, err := pubSub.Subscribe(ctx, "wire")
	require.NoError(t, err)

	registry := trigger.NewRegistry()
	f := NewForwarder()
	f.SubscribePublisher("wire", pubSub)
	f.Attach(registry, TopicPreTurn, TopicPostTurn)

	require.NoError(t, registry.Publish(ctx, TopicPreTurn, trigger.Payload{KeyConversationID: "c1"}))
	require.NoError(t, registry.Publish(ctx, TopicPostTurn, trigger.Payload{KeyConversationID: "c1"}))

	// delivery order across separate publishes is not guaranteed by the
	// gochannel pub/sub, but sequence numbers are assigned at forward time
	seqByTopic := map[string]string{}
	for i := 0; i < 2; i++ {
		msg := receiveOne(t, msgs)
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		topic, _ := payload["topic"].(string)
		seqByTopic[topic] = msg.Metadata.Get("sequence_number")
		assert.Equal(t, "c1", payload[KeyConversationID])
	}
	assert.Equal(t, map[string]string{TopicPreTurn: "0", TopicPostTurn: "1"}, seqByTopic)
}

func TestForwarderRunsAfterOtherHandlers(t *testing.T) {
	ctx := context.Background()
	registry := trigger.NewRegistry()

	var order []string
	f := NewForwarder()
	f.Attach(registry, TopicTurn)

	// re-register a probe; the forwarder was registered first but must still
	// run last because of its low priority
	probe := func(name string) trigger.Handler {
		return func(ctx context.Context, p trigger.Payload) error {
			order = append(order, name)
			return nil
		}
	}
	registry.Register(TopicTurn, "probe", probe("probe"))
	registry.Register(TopicTurn, "observer", func(ctx context.Context, p trigger.Payload) error {
		order = append(order, "observer")
		return nil
	}, trigger.WithPriority(-1000))

	require.NoError(t, registry.Publish(ctx, TopicTurn, trigger.Payload{}))
	// forwarder has no publishers subscribed, so it only matters for ordering;
	// the -1000 observer registered after it must run after it too
	assert.Equal(t, []string{"probe", "observer"}, order)
}
