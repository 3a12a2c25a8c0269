package domain

// EventRecorder collects domain events raised by an aggregate until they are
// written to the outbox.
type EventRecorder struct {
	events []DomainEvent
}

// Record appends an event.
func (r *EventRecorder) Record(event DomainEvent) {
	r.events = append(r.events, event)
}

// PendingEvents returns the events recorded since the last clear.
func (r *EventRecorder) PendingEvents() []DomainEvent {
	return r.events
}

// ClearEvents drops all recorded events.
func (r *EventRecorder) ClearEvents() {
	r.events = nil
}
