// Package mqtt defines the broker boundary and the topic layout shared by the
// crew notifier and the ambulance location feed.
//
// Topics:
//
//	ambulance/<id>/dispatch   dispatch orders and cancellations for a crew
//	ambulance/<id>/ack        crew acknowledgments {"command_id": ...}
//	ambulance/<id>/location   position fixes from the vehicle
//	dispatch/alerts/<kind>    operator and traffic control alerts
package mqtt

import (
	"context"
	"strings"
)

// Publisher publishes a payload on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Handler receives a message delivered on a subscribed topic.
type Handler func(topic string, payload []byte)

// Subscriber registers handlers for topic filters.
type Subscriber interface {
	Subscribe(filter string, h Handler) error
}

const (
	// LocationFilter matches the location topics of every ambulance.
	LocationFilter = "ambulance/+/location"
	// AckFilter matches the acknowledgment topics of every ambulance.
	AckFilter = "ambulance/+/ack"
)

// DispatchTopic is where the crew of ambulanceID receives orders.
func DispatchTopic(ambulanceID string) string { return "ambulance/" + ambulanceID + "/dispatch" }

// AckTopic is where the crew of ambulanceID acknowledges orders.
func AckTopic(ambulanceID string) string { return "ambulance/" + ambulanceID + "/ack" }

// LocationTopic is where ambulanceID reports its position.
func LocationTopic(ambulanceID string) string { return "ambulance/" + ambulanceID + "/location" }

// AlertTopic is where alerts of the given kind are published.
func AlertTopic(kind string) string { return "dispatch/alerts/" + kind }

// AmbulanceFromTopic extracts the ambulance id from an ambulance/<id>/...
// topic. It returns "" for other topics.
func AmbulanceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != "ambulance" {
		return ""
	}
	return parts[1]
}
