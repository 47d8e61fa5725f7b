package metrics

import (
	"errors"
	"testing"
)

type recordSink struct {
	count int
	err   error
}

func (r *recordSink) RecordDispatch(DispatchRecord) error {
	r.count++
	return r.err
}

func (r *recordSink) RecordPosition(PositionEvent) error {
	r.count++
	return nil
}

type dispatchOnly struct{ count int }

func (d *dispatchOnly) RecordDispatch(DispatchRecord) error {
	d.count++
	return nil
}

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &dispatchOnly{}
	m := NewMultiSink(s1, s2)
	if err := m.RecordDispatch(DispatchRecord{CallID: "c1"}); err != nil {
		t.Fatalf("record dispatch: %v", err)
	}
	if err := m.RecordPosition(PositionEvent{AmbulanceID: "a1"}); err != nil {
		t.Fatalf("record position: %v", err)
	}
	if err := m.RecordEscalation(EscalationRecord{}); err != nil {
		t.Fatalf("record escalation: %v", err)
	}
	if s1.count != 2 || s2.count != 1 {
		t.Fatalf("records not forwarded: %d %d", s1.count, s2.count)
	}
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := &dispatchOnly{}
	m := NewMultiSink(&recordSink{err: boom}, ok)
	if err := m.RecordDispatch(DispatchRecord{}); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if ok.count != 1 {
		t.Fatalf("later sinks must still receive the record")
	}
}
