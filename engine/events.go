package engine

import "time"

// EventType defines the type of run stream event.
type EventType string

const (
	// EventRunStart is emitted once when a run begins.
	EventRunStart EventType = "run_start"
	// EventNodeStart is emitted before a node attempt begins execution.
	EventNodeStart EventType = "node_start"
	// EventNodeComplete is emitted after a node reaches a terminal status.
	EventNodeComplete EventType = "node_complete"
	// EventNodeRetry is emitted when a rejected attempt schedules a retry.
	EventNodeRetry EventType = "node_retry"
	// EventNodeError is emitted when a node fails terminally.
	EventNodeError EventType = "node_error"
	// EventHandoff is emitted when a handoff target is chosen.
	EventHandoff EventType = "handoff"
	// EventRunComplete is emitted once when the run terminates.
	EventRunComplete EventType = "run_complete"
)

// Event carries information about one run execution event.
type Event struct {
	Type      EventType    `json:"type"`
	RunID     string       `json:"run_id"`
	NodeID    string       `json:"node_id,omitempty"`
	Attempt   int          `json:"attempt,omitempty"`
	Status    ResultStatus `json:"status,omitempty"`
	Detail    string       `json:"detail,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// EventSink receives run events. Sinks are fire-and-forget: the engine ignores
// anything a sink does and must never be blocked by one, so implementations
// are expected to hand off expensive work internally.
type EventSink interface {
	OnEvent(event Event)
}

// EventSinkFunc adapts a function to the EventSink interface
type EventSinkFunc func(event Event)

// OnEvent implements EventSink.
func (f EventSinkFunc) OnEvent(event Event) { f(event) }

// emit delivers an event to the sink, swallowing sink panics so telemetry can
// never take down a run.
func emit(sink EventSink, event Event) {
	if sink == nil {
		return
	}
	defer func() { _ = recover() }()
	event.Timestamp = time.Now()
	sink.OnEvent(event)
}
