package memory

import (
	"context"
	"sync"
)

// feed is an unbounded queue drained into a subscriber channel, so
// publishers never block on slow readers.
type feed[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
}

func newFeed[T any]() *feed[T] {
	return &feed[T]{notify: make(chan struct{}, 1)}
}

func (f *feed[T]) push(v T) {
	f.mu.Lock()
	f.items = append(f.items, v)
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// run forwards queued items to out until ctx is done, then closes out.
func (f *feed[T]) run(ctx context.Context, out chan<- T) {
	defer close(out)
	for {
		f.mu.Lock()
		items := f.items
		f.items = nil
		f.mu.Unlock()

		for _, item := range items {
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-f.notify:
		case <-ctx.Done():
			return
		}
	}
}
