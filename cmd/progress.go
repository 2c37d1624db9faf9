package cmd

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// progressSink draws one bar per phase of an update stream.
type progressSink struct {
	w io.Writer

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func newProgressSink(w io.Writer) *progressSink {
	return &progressSink{w: w}
}

func (p *progressSink) newBar(description string) {
	p.finishLocked()
	p.bar = progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(p.w) }),
	)
}

func (p *progressSink) finishLocked() {
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}

func (p *progressSink) DownloadStart() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.newBar("Downloading")
}

func (p *progressSink) UnpackStart() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.newBar("Unpacking  ")
}

func (p *progressSink) UnpackFinish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
}

func (p *progressSink) Progress(current, total, _ int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		return
	}
	if total > 0 && p.bar.GetMax64() != total {
		p.bar.ChangeMax64(total)
	}
	_ = p.bar.Set64(current)
}
