// Package install runs the end-to-end installation pipeline: provision the
// environment, resolve the installed version, stream the update, apply
// post-processing and install dependent assets.
package install

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-version"

	"github.com/caedis/wine-game-updater/internal/logging"
	"github.com/caedis/wine-game-updater/internal/metrics"
	"github.com/caedis/wine-game-updater/internal/prefix"
	"github.com/caedis/wine-game-updater/internal/stream"
)

type Provisioner interface {
	Ensure(ctx context.Context, path string) (*prefix.Handle, error)
}

type VersionResolver interface {
	// Current returns the installed version, or nil when nothing is installed.
	Current(ctx context.Context) (*version.Version, error)
}

type StreamFactory interface {
	// Resolve returns an Idle stream updating from prev, or ErrAlreadyCurrent.
	Resolve(ctx context.Context, prev *version.Version) (*stream.Stream, error)
}

type PostProcessor interface {
	Run(ctx context.Context, ic *Context) error
}

type AssetInstaller interface {
	Install(ctx context.Context, ic *Context, b stream.Binding) error
}

// Stages are the collaborators the orchestrator sequences.
type Stages struct {
	Environment Provisioner
	Versions    VersionResolver
	Updates     StreamFactory
	PostProcess PostProcessor
	Assets      AssetInstaller
}

// Control pauses and resumes the active transfer.
type Control interface {
	Pause() error
	Resume() error
	Toggle() error
	IsPaused() bool
}

// ControlSurface is the UI affordance for pausing. ShowPause is called
// once a stream exists, the game update or an asset pack, and HidePause
// once it has stopped.
type ControlSurface interface {
	ShowPause(c Control)
	HidePause()
}

// Result summarizes a finished run.
type Result struct {
	RunID           string
	PreviousVersion string
	NewVersion      string
	Updated         bool
}

type Option func(*Orchestrator)

func WithSink(s stream.ProgressSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

func WithControl(c ControlSurface) Option {
	return func(o *Orchestrator) { o.control = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTransferRetries re-runs a failed update stream up to n more times,
// resuming from the offset of its TransferError.
func WithTransferRetries(n int) Option {
	return func(o *Orchestrator) { o.retries = n }
}

// WithBackOff sets the wait policy between transfer retries.
func WithBackOff(b backoff.BackOff) Option {
	return func(o *Orchestrator) { o.backOff = b }
}

// Orchestrator drives one installation. It is single use: Start runs the
// pipeline once and every later call returns the same Completion.
type Orchestrator struct {
	prefixDir string
	gameDir   string
	stages    Stages
	runID     string

	sink    stream.ProgressSink
	control ControlSurface
	metrics *metrics.Metrics
	retries int
	backOff backoff.BackOff

	pause      *stream.PauseController
	startOnce  sync.Once
	completion *Completion

	mu      sync.Mutex
	current *stream.Stream
	result  Result
}

func New(prefixDir, gameDir string, stages Stages, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		prefixDir:  prefixDir,
		gameDir:    gameDir,
		stages:     stages,
		runID:      uuid.NewString(),
		pause:      stream.NewPauseController(),
		completion: newCompletion(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.backOff == nil {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = time.Second
		eb.MaxInterval = 30 * time.Second
		eb.MaxElapsedTime = 0
		o.backOff = eb
	}
	o.sink = stream.Tee(o.sink, o.metrics.Sink())
	o.result.RunID = o.runID
	return o
}

// RunID identifies this run in logs and markers.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Start launches the pipeline on its own goroutine.
func (o *Orchestrator) Start(ctx context.Context) *Completion {
	o.startOnce.Do(func() {
		go func() {
			err := o.run(ctx)
			o.metrics.RunFinished(err)
			o.completion.resolve(err)
		}()
	})
	return o.completion
}

// Run starts the pipeline and waits for it.
func (o *Orchestrator) Run(ctx context.Context) error {
	c := o.Start(ctx)
	<-c.Done()
	return c.Err()
}

// Stream returns the update stream while it is being driven, or nil.
func (o *Orchestrator) Stream() *stream.Stream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

func (o *Orchestrator) Result() Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

func (o *Orchestrator) Pause() error {
	if err := o.pause.Pause(); err != nil {
		return err
	}
	o.metrics.SetPaused(true)
	logging.Infoln("Paused.")
	return nil
}

func (o *Orchestrator) Resume() error {
	if err := o.pause.Resume(); err != nil {
		return err
	}
	o.metrics.SetPaused(false)
	logging.Infoln("Resumed.")
	return nil
}

func (o *Orchestrator) Toggle() error {
	if err := o.pause.Toggle(); err != nil {
		return err
	}
	paused := o.pause.IsPaused()
	o.metrics.SetPaused(paused)
	if paused {
		logging.Infoln("Paused.")
	} else {
		logging.Infoln("Resumed.")
	}
	return nil
}

func (o *Orchestrator) IsPaused() bool {
	return o.pause.IsPaused()
}

func (o *Orchestrator) run(ctx context.Context) error {
	err := o.stage(ctx, "provision", func() error {
		h, err := o.stages.Environment.Ensure(ctx, o.prefixDir)
		if err != nil {
			return provisioningError(o.prefixDir, err)
		}
		if h.Created {
			logging.Infof("Created environment at %s", h.Path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	var prev *version.Version
	err = o.stage(ctx, "resolve", func() error {
		v, err := o.stages.Versions.Current(ctx)
		if err != nil {
			return resolutionError("installed version", err)
		}
		prev = v
		return nil
	})
	if err != nil {
		return err
	}

	ic := &Context{
		RunID:           o.runID,
		PrefixDir:       o.prefixDir,
		GameDir:         o.gameDir,
		PreviousVersion: prev,
	}
	o.mu.Lock()
	o.result.PreviousVersion = ic.PreviousVersionString()
	o.mu.Unlock()
	logging.Debugf("installed version: %s", ic.PreviousVersionString())

	err = o.stage(ctx, "update", func() error {
		s, err := o.stages.Updates.Resolve(ctx, prev)
		if errors.Is(err, ErrAlreadyCurrent) {
			logging.Infof("Game is already up to date (%s)", ic.PreviousVersionString())
			return nil
		}
		if err != nil {
			return resolutionError("update source", err)
		}
		if err := o.runStream(ctx, s); err != nil {
			return err
		}
		o.mu.Lock()
		o.result.NewVersion = s.Label()
		o.result.Updated = true
		o.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	err = o.stage(ctx, "postprocess", func() error {
		if err := o.stages.PostProcess.Run(ctx, ic); err != nil {
			return postProcessingError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return o.stage(ctx, "assets", func() error {
		if err := o.stages.Assets.Install(ctx, ic, o.binding()); err != nil {
			return assetInstallError(err)
		}
		return nil
	})
}

func (o *Orchestrator) binding() stream.Binding {
	return stream.Binding{Sink: o.sink, Control: o.pause, Track: o.track}
}

// track publishes s as the live stream and shows the pause control until
// the returned func is called.
func (o *Orchestrator) track(s *stream.Stream) func() {
	o.mu.Lock()
	o.current = s
	o.mu.Unlock()
	if o.control != nil {
		o.control.ShowPause(o)
	}
	return func() {
		if o.control != nil {
			o.control.HidePause()
		}
		o.metrics.SetPaused(false)
		o.mu.Lock()
		o.current = nil
		o.mu.Unlock()
	}
}

func (o *Orchestrator) runStream(ctx context.Context, s *stream.Stream) error {
	b := o.binding()
	defer b.Watch(s)()

	logging.Infof("Updating to %s...", s.Label())
	if o.retries <= 0 {
		return s.Run(ctx, b)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(o.backOff, uint64(o.retries)), ctx)
	return backoff.RetryNotify(func() error {
		err := s.Run(ctx, b)
		var te *stream.TransferError
		if err == nil || (errors.As(err, &te) && ctx.Err() == nil) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, wait time.Duration) {
		logging.Warnf("%v; retrying in %s", err, wait.Round(time.Millisecond))
	})
}

func (o *Orchestrator) stage(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	o.metrics.ObserveStage(name, elapsed, err)

	entry := logging.WithFields(logging.Fields{
		"run":     o.runID,
		"stage":   name,
		"elapsed": elapsed.Round(time.Millisecond),
	})
	if err != nil {
		entry.Debugf("stage failed: %v", err)
		return err
	}
	entry.Debug("stage finished")
	return nil
}

func provisioningError(path string, err error) error {
	var pe *ProvisioningError
	if errors.As(err, &pe) {
		return err
	}
	return &ProvisioningError{Path: path, Err: err}
}

func resolutionError(op string, err error) error {
	var re *ResolutionError
	if errors.As(err, &re) {
		return err
	}
	return &ResolutionError{Op: op, Err: err}
}

func postProcessingError(err error) error {
	var pe *PostProcessingError
	if errors.As(err, &pe) {
		return err
	}
	return &PostProcessingError{Err: err}
}

func assetInstallError(err error) error {
	var ae *AssetInstallError
	if errors.As(err, &ae) {
		return err
	}
	return &AssetInstallError{Err: err}
}
