package trigger

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Payload carries the named fields of a fired event.
type Payload map[string]interface{}

func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

func (p Payload) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Handler is invoked synchronously when its topic fires. Returning an error
// aborts the remainder of the fan-out and propagates to the publisher.
type Handler func(ctx context.Context, p Payload) error

type registration struct {
	name     string
	priority int
	seq      int
	fn       Handler
}

// Registry is a synchronous, in-process event dispatcher. Handlers for a
// topic run one after the other, higher priority first, registration order
// within the same priority. There is no timeout on a handler: a handler that
// never returns blocks the whole turn.
type Registry struct {
	mu       sync.Mutex
	handlers map[string][]registration
	seq      int
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string][]registration),
	}
}

type RegisterOption func(*registration)

// WithPriority sets the handler's priority. Higher priorities run first;
// the default is 0.
func WithPriority(priority int) RegisterOption {
	return func(r *registration) {
		r.priority = priority
	}
}

// Register subscribes a named handler to a topic.
func (r *Registry) Register(topic string, name string, fn Handler, options ...RegisterOption) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg := registration{
		name: name,
		seq:  r.seq,
		fn:   fn,
	}
	r.seq++
	for _, o := range options {
		o(&reg)
	}

	hs := append(r.handlers[topic], reg)
	sort.SliceStable(hs, func(i, j int) bool {
		if hs[i].priority != hs[j].priority {
			return hs[i].priority > hs[j].priority
		}
		return hs[i].seq < hs[j].seq
	})
	r.handlers[topic] = hs
}

// Publish fires a topic and waits for every handler in turn. The first
// handler error stops the chain; already-run handlers are not rolled back.
func (r *Registry) Publish(ctx context.Context, topic string, p Payload) error {
	r.mu.Lock()
	hs := make([]registration, len(r.handlers[topic]))
	copy(hs, r.handlers[topic])
	r.mu.Unlock()

	log.Trace().Str("topic", topic).Int("handler_count", len(hs)).Msg("publishing trigger")

	for _, h := range hs {
		if err := h.fn(ctx, p); err != nil {
			return errors.Wrapf(err, "handler %s failed on %s", h.name, topic)
		}
	}

	return nil
}
