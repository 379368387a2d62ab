// Package eventbus provides the typed publish/subscribe primitive every
// component is wired together through — the ConsensusBus of §9's design
// notes ("a struct of broadcast/mpsc channels... passed by reference into
// each component at construction. No hidden singletons"). It generalizes
// the teacher's event.Feed idiom with Go generics instead of reflection.
package eventbus

import "sync"

// DefaultCapacity is the default bounded channel capacity for
// inter-component channels — §5 "every inter-component channel is bounded
// (default capacity ~1,000)".
const DefaultCapacity = 1000

// Feed fans a value out to every current subscriber. Subscribers each get
// their own buffered channel so a slow consumer cannot stall a fast one.
type Feed[T any] struct {
	mu   sync.Mutex
	subs map[*Subscription[T]]struct{}
	cap  int
}

// NewFeed returns a Feed whose subscriber channels have the given buffer
// capacity.
func NewFeed[T any](capacity int) *Feed[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed[T]{subs: make(map[*Subscription[T]]struct{}), cap: capacity}
}

// Subscription is a single consumer's view of a Feed.
type Subscription[T any] struct {
	feed *Feed[T]
	ch   chan T
	once sync.Once
}

// Subscribe registers a new subscriber and returns its channel handle.
func (f *Feed[T]) Subscribe() *Subscription[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &Subscription[T]{feed: f, ch: make(chan T, f.cap)}
	f.subs[sub] = struct{}{}
	return sub
}

// Chan returns the subscriber's delivery channel.
func (s *Subscription[T]) Chan() <-chan T { return s.ch }

// Unsubscribe removes the subscription from its feed. Safe to call more
// than once.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s)
		s.feed.mu.Unlock()
		close(s.ch)
	})
}

// Send delivers v to every subscriber, blocking on any subscriber whose
// buffer is full. Use for internal, must-not-drop consumers (e.g. the
// Bullshark commit stream feeding the state handler and executor bridge)
// — it respects ctx cancellation so a stuck subscriber cannot wedge
// shutdown (§5 "every await selects against the shutdown notice").
func (f *Feed[T]) Send(ctx doneCtx, v T) {
	f.mu.Lock()
	subs := make([]*Subscription[T], 0, len(f.subs))
	for s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()
	for _, s := range subs {
		select {
		case s.ch <- v:
		case <-ctx.Done():
			return
		}
	}
}

// SendNonBlocking delivers v to every subscriber; a subscriber whose
// buffer is full has its oldest pending item dropped to make room,
// matching §5's "lagging consumers drop" for the ConsensusOutput
// broadcast to execution subscribers.
func (f *Feed[T]) SendNonBlocking(v T) {
	f.mu.Lock()
	subs := make([]*Subscription[T], 0, len(f.subs))
	for s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()
	for _, s := range subs {
		select {
		case s.ch <- v:
		default:
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- v:
			default:
			}
		}
	}
}

// doneCtx is the minimal subset of context.Context Send needs, so this
// package does not have to import context just for the Done() channel.
type doneCtx interface {
	Done() <-chan struct{}
}
