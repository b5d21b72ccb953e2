package client

import "context"

// Future is the pending result of an operation started with Go
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Go runs op on its own goroutine and returns immediately. The result is
// delivered exactly once, through Await.
//
//	f := client.Go(ctx, func(ctx context.Context) (models.Entity, error) {
//		return c.Retrieve(ctx, "accounts", id, "$select=name", nil)
//	})
//	account, err := f.Await(ctx)
func Go[T any](ctx context.Context, op func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.value, f.err = op(ctx)
	}()
	return f
}

// Done is closed once the result is available
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the operation completes or ctx is done. Giving up on
// ctx does not cancel the operation; cancel the context passed to Go for that.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
