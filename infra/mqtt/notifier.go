package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	coremqtt "github.com/aeternum-health/dispatch/core/mqtt"
	"github.com/aeternum-health/dispatch/core/notify"
)

// Message is the JSON payload of every notification published on the
// broker.
type Message struct {
	CommandID   string            `json:"command_id"`
	Kind        notify.Kind       `json:"kind"`
	CallID      string            `json:"call_id"`
	AmbulanceID string            `json:"ambulance_id,omitempty"`
	Priority    string            `json:"priority,omitempty"`
	Message     string            `json:"message"`
	Fields      map[string]string `json:"fields,omitempty"`
	Timestamp   int64             `json:"timestamp"`
}

// ackTracker is implemented by publishers that follow crew acknowledgments.
type ackTracker interface {
	Track(commandID string)
}

// Notifier publishes notifications: orders and cancellations go to the crew
// topic of the ambulance, everything else to the alert topic of its kind.
type Notifier struct {
	pub   coremqtt.Publisher
	newID func() string
}

var _ notify.Notifier = (*Notifier)(nil)

// NewNotifier returns a Notifier publishing through pub.
func NewNotifier(pub coremqtt.Publisher) *Notifier {
	return &Notifier{pub: pub, newID: uuid.NewString}
}

// Topic returns the topic a notification is published on.
func Topic(n notify.Notification) string {
	if n.AmbulanceID != "" && (n.Kind == notify.KindDispatch || n.Kind == notify.KindCancel) {
		return coremqtt.DispatchTopic(n.AmbulanceID)
	}
	return coremqtt.AlertTopic(string(n.Kind))
}

func (n *Notifier) Notify(ctx context.Context, note notify.Notification) error {
	ts := note.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := Message{
		CommandID:   n.newID(),
		Kind:        note.Kind,
		CallID:      note.CallID,
		AmbulanceID: note.AmbulanceID,
		Priority:    note.Priority,
		Message:     note.Message,
		Fields:      note.Fields,
		Timestamp:   ts.UnixMilli(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := n.pub.Publish(ctx, Topic(note), payload); err != nil {
		return err
	}
	if note.Kind == notify.KindDispatch {
		if t, ok := n.pub.(ackTracker); ok {
			t.Track(msg.CommandID)
		}
	}
	return nil
}
