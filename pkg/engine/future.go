package engine

// Future is the pending result of an asynchronous execution.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func runAsync[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.value, f.err = fn()
	}()
	return f
}

// Done is closed once the execution finished
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the execution finished and returns its outcome
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.value, f.err
}
