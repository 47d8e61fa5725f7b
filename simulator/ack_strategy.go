package simulator

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	coremqtt "github.com/aeternum-health/dispatch/core/mqtt"
	"github.com/aeternum-health/dispatch/infra/logger"
)

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func chance(p float64) bool {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64() < p
}

// AckStrategy defines how a crew acknowledges orders.
type AckStrategy interface {
	Ack(ctx context.Context, pub coremqtt.Publisher, ambulanceID, commandID string)
}

// AutoAck sends an ACK after an optional fixed delay.
type AutoAck struct {
	Delay time.Duration
}

// Ack implements AckStrategy.
func (a AutoAck) Ack(ctx context.Context, pub coremqtt.Publisher, ambulanceID, commandID string) {
	if !sleep(ctx, a.Delay) {
		return
	}
	publishAck(ctx, pub, ambulanceID, commandID)
}

// RandomAck drops acknowledgments with the configured probability and
// waits for the specified delay before sending.
type RandomAck struct {
	Delay    time.Duration
	DropRate float64
}

// Ack implements AckStrategy.
func (r RandomAck) Ack(ctx context.Context, pub coremqtt.Publisher, ambulanceID, commandID string) {
	if r.DropRate > 0 && chance(r.DropRate) {
		return
	}
	if !sleep(ctx, r.Delay) {
		return
	}
	publishAck(ctx, pub, ambulanceID, commandID)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func publishAck(ctx context.Context, pub coremqtt.Publisher, ambulanceID, commandID string) {
	payload, err := json.Marshal(struct {
		CommandID string `json:"command_id"`
	}{CommandID: commandID})
	if err != nil {
		return
	}
	if err := pub.Publish(ctx, coremqtt.AckTopic(ambulanceID), payload); err != nil {
		logger.New("simulator").Warnf("ack for %s: %v", ambulanceID, err)
	}
}
