package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aeternum-health/dispatch/core/model"
	coremqtt "github.com/aeternum-health/dispatch/core/mqtt"
	"github.com/aeternum-health/dispatch/core/notify"
	"github.com/aeternum-health/dispatch/infra/logger"
	"github.com/aeternum-health/dispatch/infra/mqtt"
)

// Broker is what a crew needs from the MQTT client.
type Broker interface {
	coremqtt.Publisher
	coremqtt.Subscriber
}

// Crew simulates the crew of one ambulance.
type Crew struct {
	ID string

	cfg Config
	br  Broker
	ack AckStrategy
	log logger.Logger

	mu     sync.Mutex
	pos    model.Coordinates
	callID string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCrew creates a crew whose ambulance starts at start.
func NewCrew(id string, start model.Coordinates, cfg Config, br Broker, ack AckStrategy) *Crew {
	cfg.SetDefaults()
	if ack == nil {
		ack = AutoAck{}
	}
	return &Crew{ID: id, cfg: cfg, br: br, ack: ack, pos: start, log: logger.New("crew")}
}

type fix struct {
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
	Status    string   `json:"status,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// Start subscribes to the orders of the ambulance and reports its position.
func (c *Crew) Start(ctx context.Context) error {
	if err := c.br.Subscribe(coremqtt.DispatchTopic(c.ID), func(_ string, payload []byte) {
		c.onOrder(ctx, payload)
	}); err != nil {
		return fmt.Errorf("crew %s: %w", c.ID, err)
	}
	if pos := c.Position(); !pos.IsZero() {
		c.report(ctx, "", &pos)
	}
	return nil
}

// Wait blocks until the running trip has ended.
func (c *Crew) Wait() { c.wg.Wait() }

// Position returns the current position of the ambulance.
func (c *Crew) Position() model.Coordinates {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// CallID returns the call being served, or "".
func (c *Crew) CallID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

func sceneOf(fields map[string]string) (model.Coordinates, error) {
	lat, err := strconv.ParseFloat(fields["scene_lat"], 64)
	if err != nil {
		return model.Coordinates{}, fmt.Errorf("scene_lat: %w", err)
	}
	lng, err := strconv.ParseFloat(fields["scene_lng"], 64)
	if err != nil {
		return model.Coordinates{}, fmt.Errorf("scene_lng: %w", err)
	}
	s := model.Coordinates{Lat: lat, Lng: lng}
	return s, s.Validate()
}

func (c *Crew) onOrder(ctx context.Context, payload []byte) {
	var msg mqtt.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.log.Warnf("%s: decode order: %v", c.ID, err)
		return
	}
	switch msg.Kind {
	case notify.KindDispatch:
		go c.ack.Ack(ctx, c.br, c.ID, msg.CommandID)
		scene, err := sceneOf(msg.Fields)
		if err != nil {
			c.log.Warnf("%s: order for %s has no scene: %v", c.ID, msg.CallID, err)
			return
		}
		c.startTrip(ctx, msg.CallID, scene)
	case notify.KindCancel:
		c.stopTrip(msg.CallID)
	}
}

func (c *Crew) startTrip(ctx context.Context, callID string, scene model.Coordinates) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	tctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.callID = callID
	c.mu.Unlock()
	c.log.Infof("%s: dispatched to %s at %s", c.ID, callID, scene)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.trip(tctx, callID, scene)
	}()
}

func (c *Crew) stopTrip(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callID != callID || c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	c.callID = ""
	c.log.Infof("%s: call %s cancelled", c.ID, callID)
}

func (c *Crew) trip(ctx context.Context, callID string, scene model.Coordinates) {
	c.report(ctx, string(model.AmbulanceEnRoute), nil)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for arrived := false; !arrived; {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		c.pos, arrived = Step(c.pos, scene, c.cfg.stepKm())
		pos := c.pos
		c.mu.Unlock()
		c.report(ctx, "", &pos)
	}
	if !sleep(ctx, c.cfg.SceneTime) {
		return
	}
	c.report(ctx, string(model.AmbulanceReturning), nil)
	if !sleep(ctx, c.cfg.ReturnTime) {
		return
	}
	c.report(ctx, string(model.AmbulanceAvailable), nil)
	c.mu.Lock()
	if c.callID == callID {
		c.callID = ""
		c.cancel = nil
	}
	c.mu.Unlock()
}

func (c *Crew) report(ctx context.Context, status string, pos *model.Coordinates) {
	f := fix{Status: status, Timestamp: time.Now().UnixMilli()}
	if pos != nil {
		f.Lat, f.Lng = &pos.Lat, &pos.Lng
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := c.br.Publish(ctx, coremqtt.LocationTopic(c.ID), payload); err != nil {
		c.log.Warnf("%s: report: %v", c.ID, err)
	}
}

// Step moves from towards to by at most km along a straight line. It
// reports whether to was reached.
func Step(from, to model.Coordinates, km float64) (model.Coordinates, bool) {
	d := model.Distance(from, to)
	if d <= km {
		return to, true
	}
	f := km / d
	return model.Coordinates{
		Lat: from.Lat + (to.Lat-from.Lat)*f,
		Lng: from.Lng + (to.Lng-from.Lng)*f,
	}, false
}

// StartFleet starts one crew per ambulance.
func StartFleet(ctx context.Context, br Broker, fleet []model.Ambulance, cfg Config, ack AckStrategy) ([]*Crew, error) {
	crews := make([]*Crew, 0, len(fleet))
	for _, a := range fleet {
		c := NewCrew(a.ID, a.Location.Coordinates, cfg, br, ack)
		if err := c.Start(ctx); err != nil {
			return crews, err
		}
		crews = append(crews, c)
	}
	return crews, nil
}
