package scenarios

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aeternum-health/dispatch/core/callstore"
	"github.com/aeternum-health/dispatch/core/dispatch"
	"github.com/aeternum-health/dispatch/core/events"
	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/core/registry"
	"github.com/aeternum-health/dispatch/infra/logger"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type run struct {
	t          *testing.T
	m          *dispatch.Manager
	clk        *clock
	ids        map[string]string
	promotions int
}

func RunScenario(t *testing.T, sc *Scenario) {
	dispatch.ResetMetrics(prometheus.NewRegistry())
	clk := &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	mgr, err := dispatch.NewManager(dispatch.Config{
		EscalationThreshold: sc.EscalationThreshold,
		SpeedKmh:            sc.SpeedKmh,
	}, dispatch.Deps{
		Registry: registry.NewMemoryRegistry(),
		Calls:    callstore.NewMemoryStore(),
		Logger:   logger.NopLogger{},
		Clock:    clk.Now,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	ctx := context.Background()
	for _, a := range sc.Fleet {
		if _, err := mgr.Register(ctx, a.ToModel()); err != nil {
			t.Fatalf("register %s: %v", a.ID, err)
		}
	}
	r := &run{t: t, m: mgr, clk: clk, ids: map[string]string{}}
	for i, st := range sc.Steps {
		r.step(ctx, i, st)
	}
	r.check(ctx, sc.Expected)
}

func (r *run) submit(ctx context.Context, c CallDef) {
	out, err := r.m.Submit(ctx, c.ToModel())
	if err != nil {
		r.t.Errorf("submit %s: %v", c.Name, err)
		return
	}
	r.ids[c.Name] = out.Call.ID
}

func (r *run) step(ctx context.Context, i int, st Step) {
	var mu sync.Mutex
	if st.Concurrent {
		var wg sync.WaitGroup
		for _, c := range st.Submit {
			wg.Add(1)
			go func(c CallDef) {
				defer wg.Done()
				out, err := r.m.Submit(ctx, c.ToModel())
				if err != nil {
					r.t.Errorf("submit %s: %v", c.Name, err)
					return
				}
				mu.Lock()
				r.ids[c.Name] = out.Call.ID
				mu.Unlock()
			}(c)
		}
		wg.Wait()
	} else {
		for _, c := range st.Submit {
			r.submit(ctx, c)
		}
	}

	if st.Ambulance != "" {
		u := dispatch.AmbulanceUpdate{}
		if st.Status != "" {
			s := model.AmbulanceStatus(st.Status)
			u.Status = &s
		}
		if st.Move != nil {
			u.Location = &model.Coordinates{Lat: st.Move.Lat, Lng: st.Move.Lng}
		}
		if _, err := r.m.UpdateAmbulance(ctx, st.Ambulance, u); err != nil {
			r.t.Errorf("step %d: ambulance %s: %v", i, st.Ambulance, err)
		}
	}
	if st.Call != "" {
		s := model.CallStatus(st.CallStatus)
		if _, err := r.m.UpdateCall(ctx, r.ids[st.Call], dispatch.CallUpdate{Status: &s}); err != nil {
			r.t.Errorf("step %d: call %s: %v", i, st.Call, err)
		}
	}
	if st.Advance > 0 {
		r.clk.Advance(st.Advance)
	}
	if st.Escalate {
		for _, ev := range r.m.Escalate(ctx) {
			if ev.Kind == events.EscalationPromoted {
				r.promotions++
			}
		}
	}
	if st.Drain {
		if _, err := r.m.Drain(ctx); err != nil {
			r.t.Errorf("step %d: drain: %v", i, err)
		}
	}
}

//nolint:gocyclo
func (r *run) check(ctx context.Context, exp Expected) {
	t := r.t
	names := map[string]string{}
	for name, id := range r.ids {
		names[id] = name
	}
	for name, want := range exp.Calls {
		c, err := r.m.Calls().Get(ctx, r.ids[name])
		if err != nil {
			t.Errorf("call %s: %v", name, err)
			continue
		}
		if string(c.Status) != want {
			t.Errorf("call %s: expected %s, got %s", name, want, c.Status)
		}
	}
	for id, want := range exp.Ambulances {
		a, err := r.m.Registry().Get(ctx, id)
		if err != nil {
			t.Errorf("ambulance %s: %v", id, err)
			continue
		}
		if string(a.Status) != want {
			t.Errorf("ambulance %s: expected %s, got %s", id, want, a.Status)
		}
	}

	snap := r.m.Queue().Snapshot()
	if exp.Queue != nil {
		got := make([]string, len(snap))
		for i, e := range snap {
			got[i] = names[e.CallID]
		}
		if len(got) != len(exp.Queue) {
			t.Errorf("queue: expected %v, got %v", exp.Queue, got)
		} else {
			for i := range got {
				if got[i] != exp.Queue[i] {
					t.Errorf("queue: expected %v, got %v", exp.Queue, got)
					break
				}
			}
		}
	}
	if exp.QueueLength != nil && len(snap) != *exp.QueueLength {
		t.Errorf("queue length: expected %d, got %d", *exp.QueueLength, len(snap))
	}
	for name, want := range exp.Tiers {
		found := false
		for _, e := range snap {
			if e.CallID == r.ids[name] {
				found = true
				if e.Tier.String() != want {
					t.Errorf("tier of %s: expected %s, got %s", name, want, e.Tier)
				}
			}
		}
		if !found {
			t.Errorf("tier of %s: call is not queued", name)
		}
	}

	var dispatched, pending int
	for _, id := range r.ids {
		c, err := r.m.Calls().Get(ctx, id)
		if err != nil {
			continue
		}
		switch c.Status {
		case model.CallDispatched:
			dispatched++
		case model.CallPending:
			pending++
		}
	}
	if exp.Dispatched != nil && dispatched != *exp.Dispatched {
		t.Errorf("dispatched: expected %d, got %d", *exp.Dispatched, dispatched)
	}
	if exp.Pending != nil && pending != *exp.Pending {
		t.Errorf("pending: expected %d, got %d", *exp.Pending, pending)
	}
	if exp.Promotions != nil && r.promotions != *exp.Promotions {
		t.Errorf("promotions: expected %d, got %d", *exp.Promotions, r.promotions)
	}
}
