package inmemory

// feed is a subscriber channel that never blocks the writer. When the buffer is
// full the oldest pending value is dropped, so a slow reader still ends up with
// the latest state. A feed with a resync function instead replaces everything
// pending with the single value it returns.
type feed[T any] struct {
	ch     chan T
	resync func() T
	closed bool
}

func newFeed[T any](buffer int) *feed[T] {
	return &feed[T]{ch: make(chan T, buffer)}
}

func newResyncFeed[T any](buffer int, resync func() T) *feed[T] {
	return &feed[T]{ch: make(chan T, buffer), resync: resync}
}

// push and close must be called with the repository lock held.
func (f *feed[T]) push(v T) {
	if f.closed {
		return
	}

	select {
	case f.ch <- v:
		return
	default:
	}

	if f.resync != nil {
		f.drain()
		v = f.resync()
	}

	for {
		select {
		case f.ch <- v:
			return
		default:
		}

		select {
		case <-f.ch:
		default:
		}
	}
}

func (f *feed[T]) drain() {
	for {
		select {
		case <-f.ch:
		default:
			return
		}
	}
}

func (f *feed[T]) close() {
	if f.closed {
		return
	}

	f.closed = true
	close(f.ch)
}
