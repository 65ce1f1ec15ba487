package credit

import (
	"sync"

	"go.uber.org/zap"
)

// Listener is told that something changed. It gets no payload; callers
// re-query through the read API.
type Listener func()

// Notifier fans a change signal out to subscribers, synchronously and in
// registration order. A panicking listener is recovered and logged; it
// never affects the mutation that triggered it or the listeners after it.
type Notifier struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []subscription
	logger    *zap.Logger
}

type subscription struct {
	id uint64
	fn Listener
}

func NewNotifier(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{logger: logger}
}

// Subscribe registers fn and returns a function that removes it.
// Calling the returned function more than once is a no-op.
func (n *Notifier) Subscribe(fn Listener) (unsubscribe func()) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.listeners = append(n.listeners, subscription{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(id) })
	}
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, s := range n.listeners {
		if s.id == id {
			n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
			return
		}
	}
}

// Len returns the number of active listeners.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}

// Notify calls every listener registered at the time of the call.
func (n *Notifier) Notify() {
	n.mu.Lock()
	snapshot := make([]subscription, len(n.listeners))
	copy(snapshot, n.listeners)
	n.mu.Unlock()

	for _, s := range snapshot {
		n.call(s)
	}
}

func (n *Notifier) call(s subscription) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("change listener panicked",
				zap.Uint64("listener_id", s.id),
				zap.Any("panic", r),
			)
		}
	}()
	s.fn()
}
