package metrics

import "errors"

// MultiSink fans records out to several sinks. Optional recorder interfaces
// are forwarded only to the sinks that implement them.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordDispatch(rec DispatchRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordDispatch(rec))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordEscalation(ev EscalationRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(EscalationRecorder); ok {
			errs = append(errs, r.RecordEscalation(ev))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordQueue(ev QueueSnapshot) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(QueueRecorder); ok {
			errs = append(errs, r.RecordQueue(ev))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordPosition(ev PositionEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(PositionRecorder); ok {
			errs = append(errs, r.RecordPosition(ev))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordStatus(ev StatusEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(StatusRecorder); ok {
			errs = append(errs, r.RecordStatus(ev))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordArrival(ev ArrivalRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(ArrivalRecorder); ok {
			errs = append(errs, r.RecordArrival(ev))
		}
	}
	return errors.Join(errs...)
}

// Close closes the sinks that hold resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
