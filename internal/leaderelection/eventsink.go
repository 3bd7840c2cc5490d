package leaderelection

import (
	"k8s.io/klog/v2"
)

// Topic names subscribers bind to on the host event bus. Fixed
// strings so subscribers never need to import this package's types.
const (
	TopicElected = "leader.elected"
	TopicLost    = "leader.lost"
)

// Kind tags an Event as an election or a demotion.
type Kind string

const (
	KindElected Kind = "elected"
	KindLost    Kind = "lost"
)

// Event is the payload delivered on TopicElected/TopicLost.
type Event struct {
	Kind      Kind
	LeaseName string
}

// Bus is the host application's event dispatch surface. It is an
// external collaborator (out of scope per the core's own purview);
// the engine only ever calls Publish.
type Bus interface {
	Publish(topic string, event Event)
}

// Sink delivers elected/lost notifications to a Bus, fire-and-forget:
// a panicking subscriber must never unwind into the election engine.
type Sink struct {
	bus       Bus
	leaseName string
}

// NewSink builds a Sink bound to bus for the given lease name.
func NewSink(bus Bus, leaseName string) *Sink {
	return &Sink{bus: bus, leaseName: leaseName}
}

// Emit publishes an elected/lost event, isolating any panic raised by
// a subscriber inside Publish. Delivery is synchronous with respect to
// the engine's serialization boundary so that "elected" always
// precedes a matching "lost" within one participant; "fire-and-forget"
// refers to not propagating subscriber failures back into the engine,
// not to asynchronous dispatch.
func (s *Sink) Emit(kind Kind) {
	if s.bus == nil {
		return
	}

	topic := TopicLost
	if kind == KindElected {
		topic = TopicElected
	}

	defer func() {
		if r := recover(); r != nil {
			klog.ErrorS(nil, "leaderelection: event subscriber panicked, isolating",
				"topic", topic, "recovered", r)
		}
	}()

	s.bus.Publish(topic, Event{Kind: kind, LeaseName: s.leaseName})
}
