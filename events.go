package meshdoc

import "sync"

// EventType names a change notification.
type EventType string

const EventUpdated EventType = "updated"

// Event is delivered to listeners after a node or a whole document changed.
// Node is nil for document-level events.
type Event struct {
	Type EventType
	Node Node
	Doc  *RuntimeDocument
}

// observers is an ordered listener list. Emission is synchronous and runs
// listeners in registration order.
type observers[T any] struct {
	mu     sync.Mutex
	nextID int
	list   []observer[T]
}

type observer[T any] struct {
	id int
	fn func(T)
}

func (o *observers[T]) add(fn func(T)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	id := o.nextID
	o.list = append(o.list, observer[T]{id: id, fn: fn})
	return func() { o.remove(id) }
}

func (o *observers[T]) remove(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, ob := range o.list {
		if ob.id == id {
			o.list = append(o.list[:i:i], o.list[i+1:]...)
			return
		}
	}
}

// emit snapshots the list so listeners may unsubscribe while running.
func (o *observers[T]) emit(v T) {
	o.mu.Lock()
	list := o.list
	o.mu.Unlock()
	for _, ob := range list {
		ob.fn(v)
	}
}
