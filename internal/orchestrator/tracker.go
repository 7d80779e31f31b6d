package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/koustreak/openbucket/internal/logger"
)

// Status is the lifecycle state of an upload.
type Status string

const (
	StatusUploading Status = "uploading"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Item is one tracked file transfer.
type Item struct {
	ID         string
	FileName   string
	Progress   int
	Status     Status
	StartedAt  time.Time
	FinishedAt time.Time // zero while uploading
	Error      string
}

// EventKind says what happened to an item.
type EventKind string

const (
	EventAdded     EventKind = "added"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventRemoved   EventKind = "removed"
)

// Event carries the item as it was right after the change.
type Event struct {
	Kind EventKind
	Item Item
}

// DefaultRemoveDelay is how long a successful upload stays visible.
const DefaultRemoveDelay = 3 * time.Second

// Tracker keeps the upload list and streams changes to subscribers.
//
// Progress for an item only moves forward, and nothing moves an item out of
// a terminal state. Successful items are removed a fixed delay after the last
// upload finished; while any upload is still running they all stay visible.
type Tracker struct {
	removeDelay time.Duration
	log         *logger.Logger

	mu      sync.Mutex
	items   []Item
	timers  map[string]*time.Timer
	subs    map[int]chan Event
	nextSub int
}

// NewTracker returns an empty tracker. A removeDelay of zero or less keeps
// finished items until Remove is called.
func NewTracker(removeDelay time.Duration, log *logger.Logger) *Tracker {
	return &Tracker{
		removeDelay: removeDelay,
		log:         logger.OrNop(log).Component("uploads"),
		timers:      map[string]*time.Timer{},
		subs:        map[int]chan Event{},
	}
}

// --- subscriptions ---

// Subscribe returns a channel of events and a function that ends the
// subscription and closes the channel. Delivery never blocks the tracker: a
// subscriber that falls more than buffer events behind misses events and
// should resynchronize with Snapshot.
func (t *Tracker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			close(ch)
		})
	}
}

// emit delivers ev to every subscriber. Callers hold t.mu.
func (t *Tracker) emit(kind EventKind, it Item) {
	ev := Event{Kind: kind, Item: it}
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			t.log.With().Str("upload", it.ID).Str("event", string(kind)).Logger().
				Debug("subscriber lagging, event dropped")
		}
	}
}

// --- mutations ---

// Add starts tracking a new upload of fileName at 0%.
func (t *Tracker) Add(fileName string) Item {
	it := Item{
		ID:        uuid.NewString(),
		FileName:  fileName,
		Status:    StatusUploading,
		StartedAt: time.Now(),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.items = append(append(make([]Item, 0, len(t.items)+1), t.items...), it)
	t.emit(EventAdded, it)
	t.reschedule()
	return it
}

// UpdateProgress raises the progress of id to percent. Decreases, unknown ids
// and finished items are ignored. It reports whether anything changed.
func (t *Tracker) UpdateProgress(id string, percent int) bool {
	if percent > 100 {
		percent = 100
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.update(id, func(it *Item) (EventKind, bool) {
		if it.Status.Terminal() || percent <= it.Progress {
			return "", false
		}
		it.Progress = percent
		return EventProgress, true
	})
}

// MarkCompleted moves id to success. Finished items are left alone.
func (t *Tracker) MarkCompleted(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.update(id, func(it *Item) (EventKind, bool) {
		if it.Status.Terminal() {
			return "", false
		}
		it.Status = StatusSuccess
		it.Progress = 100
		it.FinishedAt = time.Now()
		return EventCompleted, true
	})
}

// MarkError moves id to error with msg. Finished items are left alone.
func (t *Tracker) MarkError(id, msg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.update(id, func(it *Item) (EventKind, bool) {
		if it.Status.Terminal() {
			return "", false
		}
		it.Status = StatusError
		it.Error = msg
		it.FinishedAt = time.Now()
		return EventFailed, true
	})
}

// Remove drops id from the list.
func (t *Tracker) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remove(id)
}

// update applies fn to a copy of the item and swaps the list if fn reports a
// change. Callers hold t.mu.
func (t *Tracker) update(id string, fn func(it *Item) (EventKind, bool)) bool {
	i := t.indexOf(id)
	if i < 0 {
		return false
	}
	it := t.items[i]
	kind, changed := fn(&it)
	if !changed {
		return false
	}

	next := make([]Item, len(t.items))
	copy(next, t.items)
	next[i] = it
	t.items = next

	t.emit(kind, it)
	if kind != EventProgress {
		t.reschedule()
	}
	return true
}

// remove is Remove without locking.
func (t *Tracker) remove(id string) bool {
	i := t.indexOf(id)
	if i < 0 {
		return false
	}
	it := t.items[i]

	next := make([]Item, 0, len(t.items)-1)
	next = append(next, t.items[:i]...)
	t.items = append(next, t.items[i+1:]...)

	if tm, ok := t.timers[id]; ok {
		tm.Stop()
		delete(t.timers, id)
	}
	t.emit(EventRemoved, it)
	t.reschedule()
	return true
}

// reschedule arms removal timers for successful items when nothing is
// uploading, and disarms them all otherwise. Callers hold t.mu.
func (t *Tracker) reschedule() {
	if t.removeDelay <= 0 {
		return
	}

	if t.activeLocked() {
		for id, tm := range t.timers {
			tm.Stop()
			delete(t.timers, id)
		}
		return
	}

	for _, it := range t.items {
		if it.Status != StatusSuccess {
			continue
		}
		if _, armed := t.timers[it.ID]; armed {
			continue
		}
		id := it.ID
		var tm *time.Timer
		tm = time.AfterFunc(t.removeDelay, func() { t.expire(id, &tm) })
		t.timers[id] = tm
	}
}

// expire is the timer callback. The timer may have fired just as a new
// upload started, or been replaced by a newer one, so the conditions are
// checked again under the lock.
func (t *Tracker) expire(id string, tm **time.Timer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timers[id] != *tm {
		return
	}
	delete(t.timers, id)
	if t.activeLocked() {
		return
	}
	if i := t.indexOf(id); i >= 0 && t.items[i].Status == StatusSuccess {
		t.remove(id)
	}
}

// --- reads ---

// Snapshot returns the current list, oldest first.
func (t *Tracker) Snapshot() []Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Item, len(t.items))
	copy(out, t.items)
	return out
}

// Get returns the item with id.
func (t *Tracker) Get(id string) (Item, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.indexOf(id); i >= 0 {
		return t.items[i], true
	}
	return Item{}, false
}

// Visible returns the n most recent items and how many older ones are hidden.
func (t *Tracker) Visible(n int) ([]Item, int) {
	all := t.Snapshot()
	if n < 0 || len(all) <= n {
		return all, 0
	}
	return all[len(all)-n:], len(all) - n
}

// Active reports whether any upload is still running.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeLocked()
}

func (t *Tracker) activeLocked() bool {
	for _, it := range t.items {
		if it.Status == StatusUploading {
			return true
		}
	}
	return false
}

func (t *Tracker) indexOf(id string) int {
	for i, it := range t.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}
