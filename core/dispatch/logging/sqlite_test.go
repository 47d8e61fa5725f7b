package logging

import (
	"context"
	"testing"
	"time"
)

func TestSQLiteStore_PersistQuery(t *testing.T) {
	store, err := NewSQLiteStore("file:dispatchlog.db?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	now := time.Now()
	recs := []LogRecord{
		{Timestamp: now, Action: ActionSubmitted, CallID: "c1", Priority: "critical"},
		{Timestamp: now.Add(time.Second), Action: ActionDispatched, CallID: "c1", AmbulanceID: "a1", DistanceKm: 2.4},
		{Timestamp: now.Add(2 * time.Second), Action: ActionQueued, CallID: "c2"},
	}
	for _, r := range recs {
		if err := store.Append(context.Background(), r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	out, err := store.Query(context.Background(), LogQuery{AmbulanceID: "a1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 || out[0].Action != ActionDispatched || out[0].DistanceKm != 2.4 {
		t.Fatalf("unexpected records %#v", out)
	}
	out, err = store.Query(context.Background(), LogQuery{CallID: "c1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 2 || out[0].Action != ActionSubmitted {
		t.Fatalf("expected submitted then dispatched, got %#v", out)
	}
	out, _ = store.Query(context.Background(), LogQuery{Limit: 1})
	if len(out) != 1 || out[0].CallID != "c2" {
		t.Fatalf("limit should keep newest, got %#v", out)
	}
}

func TestSQLiteStore_TimeWindow(t *testing.T) {
	store, err := NewSQLiteStore("file:dispatchlog_window.db?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := LogRecord{Timestamp: t0.Add(time.Duration(i) * time.Minute), Action: ActionTransition,
			CallID: "c1", From: "dispatched", To: "en_route", Detail: "step"}
		if err := store.Append(context.Background(), rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	out, err := store.Query(context.Background(), LogQuery{Start: t0.Add(time.Minute), End: t0.Add(3 * time.Minute)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 records in window, got %d", len(out))
	}
	if !out[0].Timestamp.Equal(t0.Add(time.Minute)) || out[0].From != "dispatched" || out[0].To != "en_route" {
		t.Fatalf("fields not restored: %#v", out[0])
	}
}
