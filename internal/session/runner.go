// Package session runs one recording at a time through capture, submission
// and polling, and publishes every phase change as an event.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"scribe/internal/capture"
	"scribe/internal/config"
	"scribe/internal/hook"
	"scribe/internal/job"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrBusy         = errors.New("a recording or transcription is already in progress")
	ErrNotRecording = errors.New("not recording")
	ErrIdle         = errors.New("nothing to cancel")
	ErrNoCapture    = errors.New("no capture device configured")
)

// Service is the remote side of a run.
type Service interface {
	Submit(ctx context.Context, p job.Payload) (job.Handle, error)
	job.StatusQuerier
}

// Hook receives completed transcripts.
type Hook interface {
	ShouldRun(text string) bool
	Run(ctx context.Context, j hook.Job) error
}

// Options wires a Runner's collaborators. Service is required.
type Options struct {
	Service  Service
	Capturer capture.Capturer
	Hook     Hook
	Metrics  *Metrics
	Events   *EventBus
	Clock    job.Clock
	Logger   *logrus.Logger
	// Budget overrides the poll budget derived from config.
	Budget *job.Budget
	// OnEvent is called after each event is published. It must not block.
	OnEvent func(Event)
}

// Snapshot is the runner state reported by status.
type Snapshot struct {
	Phase       Phase        `json:"phase" yaml:"phase"`
	RunID       string       `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Handle      string       `json:"handle,omitempty" yaml:"handle,omitempty"`
	Attempt     int          `json:"attempt,omitempty" yaml:"attempt,omitempty"`
	ElapsedMS   int64        `json:"elapsed_ms,omitempty" yaml:"elapsed_ms,omitempty"`
	LastOutcome *job.Outcome `json:"last_outcome,omitempty" yaml:"last_outcome,omitempty"`
	LastError   string       `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// Runner owns the lifecycle of at most one run.
type Runner struct {
	logger      *logrus.Logger
	service     Service
	capturer    capture.Capturer
	hook        Hook
	metrics     *Metrics
	events      *EventBus
	poller      *job.Poller
	budget      job.Budget
	transcripts *transcriptLog
	onEvent     func(Event)

	mu        sync.Mutex
	active    bool
	phase     Phase
	runID     string
	cancel    context.CancelFunc
	stopCh    chan struct{}
	handle    job.Handle
	attempt   int
	elapsed   time.Duration
	last      *job.Outcome
	lastError string

	wg sync.WaitGroup
}

func New(cfg *config.Config, opts Options) (*Runner, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("session: no remote service")
	}
	budget := BudgetFrom(cfg)
	if opts.Budget != nil {
		budget = *opts.Budget
	}
	if err := budget.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	events := opts.Events
	if events == nil {
		events = NewEventBus(0)
	}
	r := &Runner{
		logger:   logger,
		service:  opts.Service,
		capturer: opts.Capturer,
		hook:     opts.Hook,
		metrics:  opts.Metrics,
		events:   events,
		budget:   budget,
		onEvent:  opts.OnEvent,
		phase:    PhaseIdle,
		transcripts: &transcriptLog{
			enabled: cfg.Transcripts.Enabled,
			path:    cfg.Paths.TranscriptPath,
			max:     cfg.UI.StatusTail,
			logger:  logger,
		},
	}
	pollOpts := []job.PollerOption{job.WithLogger(logger), job.WithObserver(r.observe)}
	if opts.Clock != nil {
		pollOpts = append(pollOpts, job.WithClock(opts.Clock))
	}
	r.poller = job.NewPoller(opts.Service, pollOpts...)
	return r, nil
}

// BudgetFrom builds the poll budget from the poll section, keeping defaults
// for unset fields.
func BudgetFrom(cfg *config.Config) job.Budget {
	b := job.DefaultBudget()
	if cfg.Poll.MaxAttempts > 0 {
		b.MaxAttempts = cfg.Poll.MaxAttempts
	}
	if cfg.Poll.InitialDelayMS > 0 {
		b.Backoff.Initial = time.Duration(cfg.Poll.InitialDelayMS) * time.Millisecond
	}
	if cfg.Poll.GrowthFactor > 0 {
		b.Backoff.Factor = cfg.Poll.GrowthFactor
	}
	if cfg.Poll.MaxDelayMS > 0 {
		b.Backoff.Max = time.Duration(cfg.Poll.MaxDelayMS) * time.Millisecond
	}
	return b
}

// NewClient builds the remote client from the remote section.
func NewClient(cfg *config.Config, logger *logrus.Logger, userAgent string) (*job.Client, error) {
	return job.NewClient(job.ClientConfig{
		BaseURL:   cfg.Remote.BaseURL,
		Timeout:   cfg.RemoteTimeout(),
		UserAgent: userAgent,
	}, logger)
}

// Events returns the runner's event bus.
func (r *Runner) Events() *EventBus { return r.events }

// Budget returns the poll budget in use.
func (r *Runner) Budget() job.Budget { return r.budget }

// StartRecording opens the capture device and begins a run. The run proceeds
// to submission when StopRecording is called or the stream ends by itself.
func (r *Runner) StartRecording(ctx context.Context) error {
	if r.capturer == nil {
		return ErrNoCapture
	}
	runCtx, runID, err := r.begin(ctx, PhaseRecording)
	if err != nil {
		return err
	}
	stream, err := r.capturer.Start(runCtx)
	if err != nil {
		r.metrics.recording(false)
		r.fail(runID, FailureCapture, err)
		return err
	}
	r.metrics.recording(true)
	r.mu.Lock()
	stopCh := make(chan struct{})
	r.stopCh = stopCh
	r.mu.Unlock()
	r.publish(Event{RunID: runID, Phase: PhaseRecording})

	r.wg.Add(1)
	go r.awaitRecording(runCtx, runID, stream, stopCh)
	return nil
}

// StopRecording ends the current recording and hands it to submission.
func (r *Runner) StopRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || r.phase != PhaseRecording || r.stopCh == nil {
		return ErrNotRecording
	}
	close(r.stopCh)
	r.stopCh = nil
	return nil
}

// Toggle starts a recording when idle and stops it when recording.
func (r *Runner) Toggle(ctx context.Context) (Phase, error) {
	r.mu.Lock()
	recording := r.active && r.phase == PhaseRecording
	busy := r.active && !recording
	r.mu.Unlock()
	switch {
	case recording:
		return PhaseSubmitting, r.StopRecording()
	case busy:
		return "", ErrBusy
	default:
		return PhaseRecording, r.StartRecording(ctx)
	}
}

// Transcribe submits an existing payload and polls it to an outcome. It
// blocks until the outcome, a submission error, or cancellation.
func (r *Runner) Transcribe(ctx context.Context, p job.Payload) (job.Outcome, error) {
	runCtx, runID, err := r.begin(ctx, PhaseSubmitting)
	if err != nil {
		return job.Outcome{}, err
	}
	r.wg.Add(1)
	defer r.wg.Done()
	return r.process(runCtx, runID, p)
}

// Follow polls a handle that was submitted elsewhere.
func (r *Runner) Follow(ctx context.Context, h job.Handle) (job.Outcome, error) {
	runCtx, runID, err := r.begin(ctx, PhasePolling)
	if err != nil {
		return job.Outcome{}, err
	}
	r.wg.Add(1)
	defer r.wg.Done()
	return r.poll(runCtx, runID, h)
}

// Cancel abandons the active run. No outcome is produced for it.
func (r *Runner) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || r.cancel == nil {
		return ErrIdle
	}
	r.cancel()
	return nil
}

// Snapshot returns the current state.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		Phase:     r.phase,
		RunID:     r.runID,
		Handle:    string(r.handle),
		Attempt:   r.attempt,
		ElapsedMS: r.elapsed.Milliseconds(),
		LastError: r.lastError,
	}
	if r.last != nil {
		o := *r.last
		s.LastOutcome = &o
	}
	return s
}

// Transcripts returns the recent transcript tail.
func (r *Runner) Transcripts() []Transcript { return r.transcripts.snapshot() }

// Wait blocks until background work for every run has returned.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) begin(ctx context.Context, phase Phase) (context.Context, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return nil, "", ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.active = true
	r.phase = phase
	r.runID = uuid.NewString()
	r.cancel = cancel
	r.stopCh = nil
	r.handle = ""
	r.attempt = 0
	r.elapsed = 0
	r.lastError = ""
	r.metrics.active(true)
	return runCtx, r.runID, nil
}

func (r *Runner) awaitRecording(ctx context.Context, runID string, stream capture.Stream, stopCh <-chan struct{}) {
	defer r.wg.Done()
	select {
	case <-stopCh:
	case <-stream.Done():
	case <-ctx.Done():
	}
	payload, err := stream.Stop()
	if ctx.Err() != nil {
		r.settle(runID, nil)
		return
	}
	if err != nil {
		r.fail(runID, FailureCapture, err)
		return
	}
	_, _ = r.process(ctx, runID, payload)
}

func (r *Runner) process(ctx context.Context, runID string, p job.Payload) (job.Outcome, error) {
	if !r.setPhase(runID, PhaseSubmitting, "") {
		return job.Outcome{}, ErrIdle
	}
	r.publish(Event{RunID: runID, Phase: PhaseSubmitting})

	h, err := r.service.Submit(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			r.settle(runID, nil)
			return job.Outcome{}, ctx.Err()
		}
		r.metrics.submitted(false)
		r.fail(runID, FailureSubmission, err)
		return job.Outcome{}, err
	}
	r.metrics.submitted(true)
	return r.poll(ctx, runID, h)
}

func (r *Runner) poll(ctx context.Context, runID string, h job.Handle) (job.Outcome, error) {
	if !r.setPhase(runID, PhasePolling, h) {
		return job.Outcome{}, ErrIdle
	}
	r.publish(Event{RunID: runID, Phase: PhasePolling, Handle: string(h)})

	started := time.Now()
	outcome, err := r.poller.PollUntilOutcome(ctx, h, r.budget)
	if err != nil {
		r.settle(runID, nil)
		return job.Outcome{}, err
	}
	r.metrics.finished(outcome, time.Since(started))
	if outcome.Kind == job.OutcomeTranscript {
		r.transcripts.add(Transcript{Text: outcome.Transcript, Handle: string(h), Timestamp: time.Now()})
	}
	r.settle(runID, &outcome)
	r.deliver(ctx, h, outcome)
	return outcome, nil
}

// observe receives poller progress; it runs on the polling goroutine.
func (r *Runner) observe(p job.Progress) {
	r.metrics.queried(p.State)
	r.mu.Lock()
	runID := r.runID
	if r.active && r.handle == p.Handle {
		r.attempt = p.Attempt
		r.elapsed = p.Elapsed
	}
	r.mu.Unlock()
	r.publish(Event{
		RunID:     runID,
		Phase:     PhasePolling,
		Handle:    string(p.Handle),
		Attempt:   p.Attempt,
		ElapsedMS: p.Elapsed.Milliseconds(),
	})
}

func (r *Runner) setPhase(runID string, phase Phase, h job.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || r.runID != runID {
		return false
	}
	r.phase = phase
	if h != "" {
		r.handle = h
	}
	return true
}

// settle ends the run. A nil outcome means the run was cancelled.
func (r *Runner) settle(runID string, outcome *job.Outcome) {
	r.mu.Lock()
	if !r.active || r.runID != runID {
		r.mu.Unlock()
		return
	}
	r.end()
	ev := Event{RunID: runID, Handle: string(r.handle)}
	if outcome != nil {
		o := *outcome
		r.phase = PhaseOutcome
		r.last = &o
		ev.Phase = PhaseOutcome
		ev.Outcome = &o
		ev.Attempt = o.Attempts
		ev.ElapsedMS = o.Elapsed.Milliseconds()
	} else {
		r.phase = PhaseIdle
		ev.Phase = PhaseIdle
		ev.Cancelled = true
	}
	r.mu.Unlock()
	r.publish(ev)
}

func (r *Runner) fail(runID string, kind Failure, err error) {
	r.mu.Lock()
	if !r.active || r.runID != runID {
		r.mu.Unlock()
		return
	}
	r.end()
	r.phase = PhaseIdle
	r.lastError = err.Error()
	r.mu.Unlock()
	r.logger.WithFields(logrus.Fields{"run": runID, "failure": kind}).Errorf("run failed: %v", err)
	r.publish(Event{RunID: runID, Phase: PhaseIdle, Failure: kind, Error: err.Error()})
}

// end must be called with mu held.
func (r *Runner) end() {
	r.active = false
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.stopCh = nil
	r.metrics.active(false)
}

func (r *Runner) deliver(ctx context.Context, h job.Handle, o job.Outcome) {
	if r.hook == nil || o.Kind != job.OutcomeTranscript || !r.hook.ShouldRun(o.Transcript) {
		return
	}
	hookCtx := context.WithoutCancel(ctx)
	if err := r.hook.Run(hookCtx, hook.Job{Text: strings.TrimSpace(o.Transcript), Handle: string(h), Timestamp: time.Now()}); err != nil {
		r.logger.Errorf("hook: %v", err)
	}
}

func (r *Runner) publish(ev Event) {
	stored := r.events.Publish(ev)
	if r.onEvent != nil {
		r.onEvent(stored)
	}
}
