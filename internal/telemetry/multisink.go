package telemetry

import "github.com/MPZ-00/m5squared/internal/drive"

// Sink receives supervisor events. Both the hub and the MQTT publisher
// satisfy it.
type Sink interface {
	PublishState(oldState, newState drive.SupervisorState)
	PublishTelemetry(state drive.VehicleState)
	PublishFault(reason string)
}

// MultiSink fans events out to several sinks in order.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines the given sinks. Nil entries are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) PublishState(oldState, newState drive.SupervisorState) {
	for _, s := range m.sinks {
		s.PublishState(oldState, newState)
	}
}

func (m *MultiSink) PublishTelemetry(state drive.VehicleState) {
	for _, s := range m.sinks {
		s.PublishTelemetry(state)
	}
}

func (m *MultiSink) PublishFault(reason string) {
	for _, s := range m.sinks {
		s.PublishFault(reason)
	}
}
