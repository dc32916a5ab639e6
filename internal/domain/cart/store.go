package cart

import (
	"sync"

	"github.com/xenking/storefront/internal/domain/product"
)

// Store holds the current Cart of one shopping session and serializes
// mutations. Readers always observe a complete snapshot.
type Store struct {
	// dispatchMu orders transitions together with their notifications.
	dispatchMu sync.Mutex

	mu      sync.Mutex
	current Cart
	nextSub int
	subs    map[int]func(Cart)
}

// NewStore returns a store holding c.
func NewStore(c Cart) *Store {
	return &Store{current: c, subs: make(map[int]func(Cart))}
}

// Snapshot returns the current cart.
func (s *Store) Snapshot() Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Dispatch applies the action and returns the new cart. Subscribers are
// notified with the new cart in the order the transitions happened. A
// subscriber may call Snapshot but must not dispatch.
func (s *Store) Dispatch(a Action) Cart {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	next := Reduce(s.current, a)
	s.current = next
	subs := make([]func(Cart), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return next
}

// Add dispatches an Add action.
func (s *Store) Add(p product.Product) Cart { return s.Dispatch(Add{Product: p}) }

// Remove dispatches a Remove action.
func (s *Store) Remove(productID string) Cart { return s.Dispatch(Remove{ProductID: productID}) }

// Increment dispatches an Increment action.
func (s *Store) Increment(productID string) Cart { return s.Dispatch(Increment{ProductID: productID}) }

// Decrement dispatches a Decrement action.
func (s *Store) Decrement(productID string) Cart { return s.Dispatch(Decrement{ProductID: productID}) }

// Clear dispatches a Clear action.
func (s *Store) Clear() { s.Dispatch(Clear{}) }

// Subscribe registers fn to be called with every new cart. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn func(Cart)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
