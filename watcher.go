package dbus

import (
	"context"
	"errors"
	"maps"
	"net"
	"reflect"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/mds/queue"
)

const maxWatcherQueue = 20

// A Watcher delivers notifications received from the bus that match
// its filters.
type Watcher struct {
	conn     *Conn
	wakePump chan struct{}

	notifications chan *Notification
	pumpStopped   chan struct{}

	mu      sync.Mutex
	closed  bool
	queue   queue.Queue[*Notification]
	matches mapset.Set[*Match]
}

// Notification is a signal or property change received from a bus
// peer.
type Notification struct {
	// Sender is the originator of the notification.
	Sender Interface
	// Name is the name of the signal or changed property.
	Name string
	// Body is the signal payload or property value. For signals, it
	// is a pointer to the struct type registered with
	// [RegisterSignalType]. If no type was registered, it is a pointer
	// to a value of the type the message signature describes: the
	// argument's own type for a single-argument signal, an anonymous
	// struct for several arguments, and struct{} for an empty body.
	// For property changes, it is the decoded
	// property value, or nil if the property was merely invalidated.
	Body any
	// Overflow reports that the watcher discarded notifications that
	// followed this one, because the caller did not drain
	// [Watcher.Chan] fast enough.
	Overflow bool
}

// Watch watches the bus for notifications from other bus
// participants.
//
// A newly created Watcher delivers no notifications until given a
// filter with [Watcher.Match].
func (c *Conn) Watch() (*Watcher, error) {
	w := &Watcher{
		conn:          c,
		notifications: make(chan *Notification),
		wakePump:      make(chan struct{}, 1),
		pumpStopped:   make(chan struct{}),
		matches:       mapset.New[*Match](),
	}
	if err := c.addWatcher(w); err != nil {
		return nil, err
	}
	go w.pump()
	return w, nil
}

func (c *Conn) addWatcher(w *Watcher) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	c.watchers.Add(w)
	return nil
}

func (c *Conn) removeWatcher(w *Watcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers.Remove(w)
}

func (c *Conn) addMatch(ctx context.Context, m *Match) error {
	if err := m.valid(); err != nil {
		return err
	}
	return c.bus.Interface(ifaceBus).Call(ctx, "AddMatch", m.filterString(), nil)
}

func (c *Conn) removeMatch(ctx context.Context, m *Match) error {
	return c.bus.Interface(ifaceBus).Call(ctx, "RemoveMatch", m.filterString(), nil)
}

// Close shuts down the Watcher and removes all of its matches from
// the bus.
func (w *Watcher) Close() {
	ms, shouldClose := w.clearMatches()
	if !shouldClose {
		return
	}

	close(w.wakePump)
	<-w.pumpStopped

	w.conn.removeWatcher(w)
	for m := range ms {
		w.conn.removeMatch(context.Background(), m)
	}
}

func (w *Watcher) addMatch(m *Match) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return net.ErrClosed
	}
	w.matches.Add(m)
	return nil
}

func (w *Watcher) removeMatch(m *Match) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	delete(w.matches, m)
	return true
}

func (w *Watcher) clearMatches() (mapset.Set[*Match], bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, false
	}
	ret := w.matches
	w.closed = true
	w.matches = nil
	w.queue.Clear()
	return ret, true
}

// Chan returns the channel on which notifications are delivered.
//
// The caller must drain this channel promptly to avoid overflowing
// the Watcher's receive queue. A dropped notification is indicated by
// the Overflow field of the [Notification] immediately before it.
func (w *Watcher) Chan() <-chan *Notification {
	return w.notifications
}

// Match requests delivery of notifications matching m.
//
// Matches are additive: a notification is delivered if it matches any
// of the Watcher's match specifications. The returned remove function
// may be used to retract this match without affecting others; using
// it is optional.
func (w *Watcher) Match(m *Match) (remove func() error, err error) {
	if err := m.valid(); err != nil {
		return nil, err
	}
	if err = w.conn.addMatch(context.Background(), m); err != nil {
		return nil, err
	}
	if err = w.addMatch(m); err != nil {
		rmErr := w.conn.removeMatch(context.Background(), m)
		return nil, errors.Join(err, rmErr)
	}
	return func() error {
		if !w.removeMatch(m) {
			return nil
		}
		return w.conn.removeMatch(context.Background(), m)
	}, nil
}

func (w *Watcher) enqueueLocked(n Notification) {
	if w.queue.Len() >= maxWatcherQueue {
		if last, ok := w.queue.Peek(-1); ok {
			last.Overflow = true
		}
		return
	}
	w.queue.Add(&n)
	if w.queue.Len() == 1 {
		select {
		case w.wakePump <- struct{}{}:
		default:
		}
	}
}

func (w *Watcher) deliverSignal(sender Interface, hdr *header, body reflect.Value) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	want := false
	for m := range maps.Keys(w.matches) {
		if m.matchesSignal(hdr, body) {
			want = true
			break
		}
	}
	if !want {
		return
	}
	w.enqueueLocked(Notification{Sender: sender, Name: hdr.Member, Body: body.Interface()})
}

func (w *Watcher) deliverProp(sender Interface, hdr *header, prop interfaceMember, value reflect.Value) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	want := false
	for m := range maps.Keys(w.matches) {
		if m.matchesProperty(hdr, prop, value) {
			want = true
			break
		}
	}
	if !want {
		return
	}
	var body any
	if value.IsValid() {
		body = value.Interface()
	}
	w.enqueueLocked(Notification{Sender: sender, Name: prop.Member, Body: body})
}

func (w *Watcher) popNotification() *Notification {
	w.mu.Lock()
	defer w.mu.Unlock()
	ret, _ := w.queue.Pop()
	return ret
}

func (w *Watcher) pump() {
	defer close(w.pumpStopped)
	defer close(w.notifications)
	for {
		n := w.popNotification()
		if n == nil {
			if _, ok := <-w.wakePump; !ok {
				return
			}
			continue
		}
		for {
			select {
			case w.notifications <- n:
			case _, ok := <-w.wakePump:
				if !ok {
					return
				}
				continue
			}
			break
		}
	}
}
