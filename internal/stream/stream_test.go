package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingSink) DownloadStart() { r.add("download-start") }
func (r *recordingSink) Progress(current, total, delta int64) {
	r.add(fmt.Sprintf("progress %d/%d +%d", current, total, delta))
}
func (r *recordingSink) UnpackStart()  { r.add("unpack-start") }
func (r *recordingSink) UnpackFinish() { r.add("unpack-finish") }

func (r *recordingSink) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func steps(total int64, points ...int64) Task {
	return func(ctx context.Context, offset int64, report Reporter) error {
		for _, p := range points {
			if p < offset {
				continue
			}
			if err := report(p, total); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestRunEmitsPhasesInOrder(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	s := New("1.1.0", steps(1000, 0, 500, 1000), steps(200, 0, 200))

	require.NoError(t, s.Run(context.Background(), Binding{Sink: sink}))

	want := []string{
		"download-start",
		"progress 0/1000 +0",
		"progress 500/1000 +500",
		"progress 1000/1000 +500",
		"unpack-start",
		"progress 0/200 +0",
		"progress 200/200 +200",
		"unpack-finish",
	}
	if diff := cmp.Diff(want, sink.snapshot()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Finished, s.Phase())

	// A finished stream is a no-op.
	require.NoError(t, s.Run(context.Background(), Binding{Sink: sink}))
	assert.Len(t, sink.snapshot(), len(want))
}

func TestPauseSuppressesEventsUntilResume(t *testing.T) {
	t.Parallel()

	reached := make(chan struct{})
	proceed := make(chan struct{})
	download := func(ctx context.Context, offset int64, report Reporter) error {
		if err := report(0, 1000); err != nil {
			return err
		}
		if err := report(500, 1000); err != nil {
			return err
		}
		close(reached)
		<-proceed
		return report(1000, 1000)
	}

	sink := &recordingSink{}
	ctrl := NewPauseController()
	s := New("1.1.0", download, steps(200, 0, 200))

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), Binding{Sink: sink, Control: ctrl}) }()

	<-reached
	require.NoError(t, ctrl.Pause())
	assert.True(t, ctrl.IsPaused())
	close(proceed)

	require.Eventually(t, s.Paused, time.Second, time.Millisecond)
	before := sink.snapshot()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, sink.snapshot(), "no events may be emitted while paused")
	assert.Equal(t, int64(500), s.Snapshot().Current)

	require.NoError(t, ctrl.Resume())
	require.NoError(t, <-done)

	want := []string{
		"download-start",
		"progress 0/1000 +0",
		"progress 500/1000 +500",
		"progress 1000/1000 +500",
		"unpack-start",
		"progress 0/200 +0",
		"progress 200/200 +200",
		"unpack-finish",
	}
	if diff := cmp.Diff(want, sink.snapshot()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, s.Paused())
}

func TestTransferErrorResumesFromOffset(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	var offsets []int64
	attempt := 0
	download := func(ctx context.Context, offset int64, report Reporter) error {
		offsets = append(offsets, offset)
		attempt++
		if attempt == 1 {
			if err := report(0, 1000); err != nil {
				return err
			}
			if err := report(400, 1000); err != nil {
				return err
			}
			return boom
		}
		return steps(1000, 400, 1000)(ctx, offset, report)
	}

	sink := &recordingSink{}
	s := New("1.1.0", download, steps(10, 10))

	err := s.Run(context.Background(), Binding{Sink: sink})
	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, Downloading, te.Phase)
	assert.Equal(t, int64(400), te.Offset)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Downloading, s.Phase())

	require.NoError(t, s.Run(context.Background(), Binding{Sink: sink}))
	assert.Equal(t, []int64{0, 400}, offsets)

	want := []string{
		"download-start",
		"progress 0/1000 +0",
		"progress 400/1000 +400",
		"progress 400/1000 +0",
		"progress 1000/1000 +600",
		"unpack-start",
		"progress 10/10 +10",
		"unpack-finish",
	}
	if diff := cmp.Diff(want, sink.snapshot()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestPauseHoldsAcrossRerunAfterFailure(t *testing.T) {
	t.Parallel()

	reached := make(chan struct{})
	proceed := make(chan struct{})
	attempt := 0
	download := func(ctx context.Context, offset int64, report Reporter) error {
		attempt++
		if attempt == 1 {
			if err := report(40, 100); err != nil {
				return err
			}
			close(reached)
			<-proceed
			return errors.New("connection reset")
		}
		return steps(100, 40, 100)(ctx, offset, report)
	}

	sink := &recordingSink{}
	ctrl := NewPauseController()
	s := New("1.1.0", download, steps(1, 1))
	b := Binding{Sink: sink, Control: ctrl}

	first := make(chan error, 1)
	go func() { first <- s.Run(context.Background(), b) }()
	<-reached
	require.NoError(t, ctrl.Pause())
	close(proceed)
	var te *TransferError
	require.ErrorAs(t, <-first, &te)
	assert.False(t, s.Paused())

	second := make(chan error, 1)
	go func() { second <- s.Run(context.Background(), b) }()

	require.Eventually(t, s.Paused, time.Second, time.Millisecond)
	assert.True(t, ctrl.IsPaused())
	before := sink.snapshot()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, sink.snapshot(), "rerun must stay paused")
	assert.Equal(t, "progress 40/100 +40", before[len(before)-1])

	require.NoError(t, ctrl.Resume())
	require.NoError(t, <-second)
	assert.Equal(t, Finished, s.Phase())
	assert.False(t, ctrl.IsPaused())
}

func TestUnpackFailureKeepsUnpackPhase(t *testing.T) {
	t.Parallel()

	calls := 0
	unpack := func(ctx context.Context, offset int64, report Reporter) error {
		calls++
		if calls == 1 {
			_ = report(50, 200)
			return errors.New("disk full")
		}
		assert.Equal(t, int64(50), offset)
		return report(200, 200)
	}
	sink := &recordingSink{}
	s := New("1.1.0", steps(10, 10), unpack)

	err := s.Run(context.Background(), Binding{Sink: sink})
	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, Unpacking, te.Phase)
	assert.Equal(t, int64(50), te.Offset)

	require.NoError(t, s.Run(context.Background(), Binding{Sink: sink}))
	events := sink.snapshot()
	assert.Equal(t, 1, count(events, "unpack-start"))
	assert.Equal(t, 1, count(events, "download-start"))
	assert.Equal(t, 1, count(events, "unpack-finish"))
}

func TestReplayFromLowerOffsetReportsCurrentAsDelta(t *testing.T) {
	t.Parallel()

	attempt := 0
	unpack := func(ctx context.Context, offset int64, report Reporter) error {
		attempt++
		if attempt == 1 {
			_ = report(150, 200)
			return errors.New("corrupt entry")
		}
		// Archive formats without random access start over.
		return steps(200, 0, 100, 200)(ctx, 0, report)
	}
	sink := &recordingSink{}
	s := New("x", nil, unpack)

	require.Error(t, s.Run(context.Background(), Binding{Sink: sink}))
	require.NoError(t, s.Run(context.Background(), Binding{Sink: sink}))

	assert.Contains(t, sink.snapshot(), "progress 0/200 +0")
	assert.Contains(t, sink.snapshot(), "progress 100/200 +100")
}

func TestCancelWhilePaused(t *testing.T) {
	t.Parallel()

	reached := make(chan struct{})
	proceed := make(chan struct{})
	download := func(ctx context.Context, offset int64, report Reporter) error {
		if err := report(10, 100); err != nil {
			return err
		}
		close(reached)
		<-proceed
		return report(20, 100)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl := NewPauseController()
	s := New("x", download, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, Binding{Control: ctrl}) }()

	<-reached
	require.NoError(t, ctrl.Pause())
	close(proceed)
	require.Eventually(t, s.Paused, time.Second, time.Millisecond)
	cancel()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, int64(10), te.Offset)
	assert.False(t, ctrl.Active())
}

func TestPauseControllerRejectsWhenInactive(t *testing.T) {
	t.Parallel()

	ctrl := NewPauseController()
	assert.ErrorIs(t, ctrl.Pause(), ErrNotActive)
	assert.ErrorIs(t, ctrl.Resume(), ErrNotActive)
	assert.ErrorIs(t, ctrl.Toggle(), ErrNotActive)
	assert.False(t, ctrl.IsPaused())
}

func TestPauseControllerTogglesSerialize(t *testing.T) {
	t.Parallel()

	ctrl := NewPauseController()
	ctrl.attach(false)

	var wg sync.WaitGroup
	for i := 0; i < 101; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, ctrl.Toggle())
		}()
	}
	wg.Wait()

	// An odd number of toggles from unpaused must end paused.
	assert.True(t, ctrl.IsPaused())

	require.NoError(t, ctrl.Resume())
	require.NoError(t, ctrl.Pause())
	require.NoError(t, ctrl.Resume())
	assert.False(t, ctrl.IsPaused(), "last call wins")
}

func TestAdvanceIsMonotonic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to Phase
		ok       bool
	}{
		{Idle, Downloading, true},
		{Downloading, Unpacking, true},
		{Unpacking, Finished, true},
		{Unpacking, Downloading, false},
		{Finished, Unpacking, false},
		{Idle, Unpacking, false},
		{Downloading, Downloading, false},
		{Finished, Finished + 1, false},
	}

	for _, tt := range tests {
		err := checkAdvance(tt.from, tt.to)
		if tt.ok {
			assert.NoError(t, err, "%s -> %s", tt.from, tt.to)
		} else {
			assert.ErrorIs(t, err, ErrPhaseOrder, "%s -> %s", tt.from, tt.to)
		}
	}

	s := New("x", nil, nil)
	require.NoError(t, s.advance(Downloading))
	require.NoError(t, s.advance(Unpacking))
	assert.ErrorIs(t, s.advance(Downloading), ErrPhaseOrder)
	assert.Equal(t, Unpacking, s.Phase())
}

func TestTee(t *testing.T) {
	t.Parallel()

	a, b := &recordingSink{}, &recordingSink{}
	sink := Tee(a, nil, b)
	sink.DownloadStart()
	sink.Progress(1, 2, 1)
	sink.UnpackStart()
	sink.UnpackFinish()

	assert.Equal(t, a.snapshot(), b.snapshot())
	assert.Len(t, a.snapshot(), 4)
	assert.Equal(t, NopSink{}, Tee())
	assert.Same(t, a, Tee(nil, a))
}

func count(events []string, name string) int {
	n := 0
	for _, e := range events {
		if e == name {
			n++
		}
	}
	return n
}
