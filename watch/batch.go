package watch

// Batch accumulates the events of one write transaction until it commits.
type Batch struct {
	events []Event
}

func (b *Batch) Add(ev Event) {
	b.events = append(b.events, ev)
}

func (b *Batch) Len() int {
	return len(b.events)
}

// Events returns the events in the order they were added.
func (b *Batch) Events() []Event {
	return b.events
}

func (b *Batch) Reset() {
	clear(b.events)
	b.events = b.events[:0]
}
