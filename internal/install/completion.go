package install

import (
	"context"
	"sync"
)

// Completion is the single-fire result of an install run.
type Completion struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// resolve records the outcome. Only the first call has any effect.
func (c *Completion) resolve(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed when the run has finished.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err returns the run's error once Done is closed, and nil before that.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the run finishes or ctx is done.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
