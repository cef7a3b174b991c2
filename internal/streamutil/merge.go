// Package streamutil provides small channel-composition helpers used by
// the query streamer to fan results in from multiple backends and worker
// goroutines onto one output channel.
package streamutil

import (
	"context"
	"sync"
)

// Result pairs a streamed value with the first error that terminated its
// producer, if any. A Result carrying a non-nil Err is the last value that
// producer will ever send.
type Result[T any] struct {
	Value T
	Err   error
}

// Merge fan-ins every channel in sources onto one output channel, closing
// it once every source is drained or ctx is canceled. Send order across
// sources is not guaranteed.
func Merge[T any](ctx context.Context, sources ...<-chan Result[T]) <-chan Result[T] {
	out := make(chan Result[T])
	var wg sync.WaitGroup
	wg.Add(len(sources))

	for _, src := range sources {
		go func(src <-chan Result[T]) {
			defer wg.Done()
			for {
				select {
				case v, ok := <-src:
					if !ok {
						return
					}
					select {
					case out <- v:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}(src)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// Emit sends v on ch, returning ctx.Err() instead of blocking forever if
// ctx is canceled first.
func Emit[T any](ctx context.Context, ch chan<- Result[T], v Result[T]) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
