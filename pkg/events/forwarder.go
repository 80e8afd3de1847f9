package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/lithammer/shortuuid/v3"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/trigger"
)

// Forwarder mirrors lifecycle trigger events onto watermill publishers so
// out-of-process style consumers (UIs, recorders) can observe a turn without
// being part of its synchronous handler chain.
//
// Publishers are subscribed per watermill topic; every forwarded event is
// published to all of them. The Forwarder keeps a sequence number for
// outgoing messages, in the order they are handled.
type Forwarder struct {
	publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mutex          sync.Mutex
}

func NewForwarder() *Forwarder {
	return &Forwarder{
		publishers: make(map[string][]message.Publisher),
	}
}

func (f *Forwarder) SubscribePublisher(topic string, pub message.Publisher) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.publishers[topic] = append(f.publishers[topic], pub)
}

// Attach registers a forwarding handler on each trigger topic. The handler
// runs at a very low priority so every synchronous handler has had its say
// before the event leaves the process, and it never fails the chain.
func (f *Forwarder) Attach(registry *trigger.Registry, topics ...string) {
	for _, topic := range topics {
		topic := topic
		registry.Register(topic, "event-forwarder",
			func(ctx context.Context, p trigger.Payload) error {
				f.ForwardBlind(topic, p)
				return nil
			},
			trigger.WithPriority(-1000),
		)
	}
}

// Forward publishes a trigger payload as a JSON watermill message. Fields
// that only make sense in-process (the live turn object) are stripped; only
// scalar fields travel.
func (f *Forwarder) Forward(topic string, p trigger.Payload) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	b, err := json.Marshal(wirePayload(topic, p))
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("sequence_number", fmt.Sprintf("%d", f.sequenceNumber))
	msg.Metadata.Set("correlation_id", shortuuid.New())
	f.sequenceNumber++

	for wmTopic, pubs := range f.publishers {
		for _, pub := range pubs {
			if err := pub.Publish(wmTopic, msg); err != nil {
				log.Warn().Err(err).Str("topic", wmTopic).Msg("failed to publish")
			}
		}
	}

	return nil
}

func (f *Forwarder) ForwardBlind(topic string, p trigger.Payload) {
	if err := f.Forward(topic, p); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to forward event")
	}
}

func wirePayload(topic string, p trigger.Payload) map[string]interface{} {
	out := map[string]interface{}{
		"topic": topic,
	}
	for k, v := range p {
		switch v.(type) {
		case string, bool, int, int64, uint64, float64:
			out[k] = v
		}
	}
	return out
}
