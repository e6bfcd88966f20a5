package watcher

import (
	"sort"
	"sync"
	"time"
)

// Event is a file system change after debouncing.
type Event struct {
	Path string
	Op   Op
}

// Op is the kind of file system change.
type Op int

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Debouncer collects events and emits them as one batch after a quiet period.
// Events for the same path within the window collapse to the latest one.
type Debouncer struct {
	interval time.Duration
	mu       sync.Mutex
	events   map[string]Event
	timer    *time.Timer
	stopped  bool
	output   chan []Event
}

// NewDebouncer creates a debouncer with the given quiet interval.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{
		interval: interval,
		events:   make(map[string]Event),
		output:   make(chan []Event, 1),
	}
}

// Output returns the channel that receives batches, sorted by path.
func (d *Debouncer) Output() <-chan []Event {
	return d.output
}

// Add records an event and restarts the quiet period.
func (d *Debouncer) Add(path string, op Op) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.events[path] = Event{Path: path, Op: op}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.flush)
}

// Stop discards pending events. Later Adds are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.events = make(map[string]Event)
}

// flush emits the pending events. If the previous batch has not been consumed,
// the pending events are merged into it.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.events) == 0 {
		return
	}

	merged := d.events
	select {
	case prev := <-d.output:
		for _, e := range prev {
			if _, ok := merged[e.Path]; !ok {
				merged[e.Path] = e
			}
		}
	default:
	}

	batch := make([]Event, 0, len(merged))
	for _, e := range merged {
		batch = append(batch, e)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })

	d.events = make(map[string]Event)
	d.output <- batch
}
