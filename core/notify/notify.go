// Package notify defines the outbound notification boundary: crews receive
// dispatch orders, operators receive escalation and requeue alerts, and
// traffic control is warned about urgent runs.
package notify

import (
	"context"
	"errors"
	"time"
)

// Kind classifies a notification.
type Kind string

const (
	KindDispatch   Kind = "dispatch"
	KindEscalation Kind = "escalation"
	KindRequeue    Kind = "requeue"
	KindTraffic    Kind = "traffic"
	KindCancel     Kind = "cancel"
)

// Notification is one outbound message.
type Notification struct {
	Kind        Kind              `json:"kind"`
	CallID      string            `json:"call_id"`
	AmbulanceID string            `json:"ambulance_id,omitempty"`
	Priority    string            `json:"priority,omitempty"`
	Message     string            `json:"message"`
	Time        time.Time         `json:"time"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Notifier delivers notifications to an external sink.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }

// Multi fans a notification out to several notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if nt == nil {
			continue
		}
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
