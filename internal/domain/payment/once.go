package payment

import (
	"sync/atomic"
)

// Once wraps cb so that only the first outcome is delivered. Later calls are
// passed to onDiscard, which may be nil.
func Once(cb Callback, onDiscard func(Outcome)) Callback {
	var delivered atomic.Bool
	return func(o Outcome) {
		if !delivered.CompareAndSwap(false, true) {
			if onDiscard != nil {
				onDiscard(o)
			}
			return
		}
		cb(o)
	}
}
