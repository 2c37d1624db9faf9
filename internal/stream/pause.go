package stream

import "sync"

// PauseController carries pause intent from a UI into the goroutine running
// a stream. Callers only record what they want; the stream reads the latest
// request at its next suspension point and performs the state change itself.
//
// Requests are serialized by a mutex, so the last call wins and toggles are
// never lost.
type PauseController struct {
	mu        sync.Mutex
	active    bool
	requested bool
	changed   chan struct{}
}

func NewPauseController() *PauseController {
	return &PauseController{changed: make(chan struct{}, 1)}
}

// Pause asks the active stream to suspend.
func (c *PauseController) Pause() error {
	return c.request(func(bool) bool { return true })
}

// Resume asks the active stream to continue.
func (c *PauseController) Resume() error {
	return c.request(func(bool) bool { return false })
}

// Toggle flips the requested state, like a pause/resume button.
func (c *PauseController) Toggle() error {
	return c.request(func(cur bool) bool { return !cur })
}

// IsPaused reports the requested state.
func (c *PauseController) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requested
}

// Active reports whether a stream phase is currently bound.
func (c *PauseController) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *PauseController) request(next func(bool) bool) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return ErrNotActive
	}
	c.requested = next(c.requested)
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *PauseController) notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// attach marks a phase as running with the given pause request. A fresh
// stream starts unpaused; a stream run again after a failure keeps the
// request it stopped with.
func (c *PauseController) attach(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = true
	c.requested = paused
	// Drop a stale wakeup from a previous phase.
	select {
	case <-c.changed:
	default:
	}
}

func (c *PauseController) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.requested = false
}

func (c *PauseController) wanted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requested
}
