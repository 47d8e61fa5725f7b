// Package eventbus fans domain events out to in-process subscribers such as
// the metrics collector and the MQTT notifier.
package eventbus

// Event represents an arbitrary event passed on the bus.
type Event interface{}

// EventBus implements a simple publish/subscribe event bus.
type EventBus interface {
	Publish(Event)
	Subscribe() <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

// DefaultBuffer is the channel capacity given to each subscriber.
const DefaultBuffer = 64

// Bus is the default EventBus implementation. Publishing never blocks: a
// subscriber whose buffer is full misses the event and the loss is counted.
type Bus struct {
	*TypedBus[Event]
}

// New creates a Bus with DefaultBuffer slots per subscriber.
func New() *Bus { return &Bus{NewTyped[Event]()} }

// NewWithBuffer creates a Bus with n slots per subscriber.
func NewWithBuffer(n int) *Bus { return &Bus{NewTypedWithBuffer[Event](n)} }
