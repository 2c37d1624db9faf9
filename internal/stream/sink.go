package stream

// ProgressSink receives stream notifications. Calls arrive on the goroutine
// running the stream, in order.
//
// Progress deltas are relative to the previous event of the same phase.
// After a resume the first event may replay from a lower offset, in which
// case delta equals current.
type ProgressSink interface {
	DownloadStart()
	Progress(current, total, delta int64)
	UnpackStart()
	UnpackFinish()
}

// NopSink discards every notification.
type NopSink struct{}

func (NopSink) DownloadStart() {}
func (NopSink) Progress(_, _, _ int64) {}
func (NopSink) UnpackStart() {}
func (NopSink) UnpackFinish() {}

type tee []ProgressSink

// Tee returns a sink that forwards to every non-nil sink in order.
func Tee(sinks ...ProgressSink) ProgressSink {
	var out tee
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return NopSink{}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (t tee) DownloadStart() {
	for _, s := range t {
		s.DownloadStart()
	}
}

func (t tee) Progress(current, total, delta int64) {
	for _, s := range t {
		s.Progress(current, total, delta)
	}
}

func (t tee) UnpackStart() {
	for _, s := range t {
		s.UnpackStart()
	}
}

func (t tee) UnpackFinish() {
	for _, s := range t {
		s.UnpackFinish()
	}
}
