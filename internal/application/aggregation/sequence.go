package aggregation

import "github.com/alejandrodnm/marketfeed/internal/domain"

// Sequence is a pull-based, restartable-on-this-subscription iterator over
// consolidated BaseData (spec.md §9 "coroutine-like lazy enumerators" — model
// as explicit pull iterators, no hidden continuations). It is backed by a
// bounded channel fed by the aggregation manager's single consumer thread;
// Next suspends the caller's goroutine only, never the producer side.
type Sequence struct {
	ch     chan domain.BaseData
	closed chan struct{}
}

func newSequence(buffer int) *Sequence {
	return &Sequence{
		ch:     make(chan domain.BaseData, buffer),
		closed: make(chan struct{}),
	}
}

// Next blocks until a BaseData item is available or the sequence has been
// terminated by Manager.Remove, in which case ok is false.
func (s *Sequence) Next() (domain.BaseData, bool) {
	select {
	case v, ok := <-s.ch:
		if !ok {
			return nil, false
		}
		return v, true
	case <-s.closed:
		// drain anything buffered before reporting end-of-stream
		select {
		case v, ok := <-s.ch:
			if ok {
				return v, true
			}
		default:
		}
		return nil, false
	}
}

// TryNext returns immediately with ok=false if no item is buffered, instead
// of blocking — used by the Synchronizer when advancing a cursor
// opportunistically (spec.md §4.4 step 1 "ensure every subscription's
// current is non-null").
func (s *Sequence) TryNext() (domain.BaseData, bool) {
	select {
	case v, ok := <-s.ch:
		if !ok {
			return nil, false
		}
		return v, true
	default:
		return nil, false
	}
}

func (s *Sequence) push(v domain.BaseData) {
	select {
	case s.ch <- v:
	case <-s.closed:
	default:
		// buffer full: drop oldest to make room, matching the MPSC queue
		// policy in spec.md §5 ("full queues drop the oldest item").
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

func (s *Sequence) terminate() {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}
