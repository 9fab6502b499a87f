package audit

import "errors"

// MultiSink fans events out to several sinks. A failing sink does not
// stop delivery to the others; errors are joined for the emitter to
// swallow or a test to inspect.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink writing to every given sink
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// WriteDecision delivers the event to all sinks
func (m *MultiSink) WriteDecision(event DecisionEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.WriteDecision(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteInvalidation delivers the event to all sinks
func (m *MultiSink) WriteInvalidation(event InvalidationEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.WriteInvalidation(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Sink = (*MultiSink)(nil)
