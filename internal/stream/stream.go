package stream

import (
	"context"
	"sync"
)

// Reporter is handed to a Task to report progress as (current, total). It
// blocks while the stream is paused and returns an error when the task
// should stop.
type Reporter func(current, total int64) error

// Task performs one phase of an update. It starts from offset (the last
// acknowledged position, 0 on the first attempt) and may restart lower if
// it cannot resume exactly there.
type Task func(ctx context.Context, offset int64, report Reporter) error

// Binding connects a stream run to its observers.
type Binding struct {
	Sink    ProgressSink
	Control *PauseController
	// Track, if set, announces a stream to the UI before it is driven. The
	// returned func withdraws it once the stream has stopped.
	Track func(s *Stream) (untrack func())
}

// Watch calls Track for s and returns its untrack func, or a no-op when
// the binding has no Track hook.
func (b Binding) Watch(s *Stream) func() {
	if b.Track == nil {
		return func() {}
	}
	return b.Track(s)
}

// Snapshot is a point-in-time copy of a stream's state.
type Snapshot struct {
	Phase   Phase
	Paused  bool
	Current int64
	Total   int64
	Delta   int64
}

// Stream is one in-flight update: a download phase followed by an unpack
// phase. All state changes happen on the goroutine calling Run; other
// goroutines may only read a Snapshot or signal through the PauseController.
type Stream struct {
	label    string
	download Task
	unpack   Task

	mu     sync.RWMutex
	phase  Phase
	paused bool
	cur    int64
	total  int64
	delta  int64

	// held is the pause request a failed Run stopped with.
	held bool
}

// New returns an Idle stream that runs download and then unpack.
func New(label string, download, unpack Task) *Stream {
	return &Stream{label: label, download: download, unpack: unpack}
}

// Label names what the stream installs, typically the target version.
func (s *Stream) Label() string {
	return s.label
}

func (s *Stream) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Paused reports whether the stream has applied a pause request.
func (s *Stream) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

func (s *Stream) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Phase: s.phase, Paused: s.paused, Current: s.cur, Total: s.total, Delta: s.delta}
}

// Run drives the stream to Finished. A failed phase returns a
// *TransferError and leaves the stream in that phase, so calling Run again
// resumes from the reported offset without repeating start notifications.
// A pause requested before the failure still holds on that next Run.
func (s *Stream) Run(ctx context.Context, b Binding) error {
	if b.Sink == nil {
		b.Sink = NopSink{}
	}
	if b.Control == nil {
		b.Control = NewPauseController()
	}

	if s.Phase() == Finished {
		return nil
	}

	s.mu.RLock()
	held := s.held
	s.mu.RUnlock()
	b.Control.attach(held)
	defer func() {
		wanted := b.Control.wanted()
		b.Control.detach()
		s.mu.Lock()
		s.held = wanted && s.phase != Finished
		s.paused = false
		s.mu.Unlock()
	}()

	if s.Phase() == Idle {
		if err := s.advance(Downloading); err != nil {
			return err
		}
		b.Sink.DownloadStart()
	}

	if s.Phase() == Downloading {
		if err := s.drive(ctx, b, s.download); err != nil {
			return err
		}
		if err := s.advance(Unpacking); err != nil {
			return err
		}
		b.Sink.UnpackStart()
	}

	if err := s.drive(ctx, b, s.unpack); err != nil {
		return err
	}
	if err := s.advance(Finished); err != nil {
		return err
	}
	b.Sink.UnpackFinish()
	return nil
}

func (s *Stream) drive(ctx context.Context, b Binding, task Task) error {
	if task == nil {
		return nil
	}
	snap := s.Snapshot()
	err := task(ctx, snap.Current, func(current, total int64) error {
		return s.tick(ctx, b, current, total)
	})
	if err != nil {
		return &TransferError{Phase: snap.Phase, Offset: s.Snapshot().Current, Err: err}
	}
	return nil
}

// tick is the stream's suspension point: pending pause requests are applied
// before the event is emitted, so nothing is reported while paused.
func (s *Stream) tick(ctx context.Context, b Binding, current, total int64) error {
	if err := s.waitWhilePaused(ctx, b.Control); err != nil {
		return err
	}

	s.mu.Lock()
	delta := current - s.cur
	if delta < 0 {
		delta = current
	}
	s.cur, s.total, s.delta = current, total, delta
	s.mu.Unlock()

	b.Sink.Progress(current, total, delta)
	return nil
}

func (s *Stream) waitWhilePaused(ctx context.Context, c *PauseController) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		want := c.wanted()
		s.setPaused(want)
		if !want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.changed:
		}
	}
}

func (s *Stream) setPaused(p bool) {
	s.mu.Lock()
	s.paused = p
	s.mu.Unlock()
}

func (s *Stream) advance(to Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkAdvance(s.phase, to); err != nil {
		return err
	}
	s.phase = to
	if to == Unpacking {
		s.cur, s.total, s.delta = 0, 0, 0
	}
	return nil
}
