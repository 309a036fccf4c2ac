package job

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// StatusQuerier issues one status query for a handle.
type StatusQuerier interface {
	QueryStatus(ctx context.Context, h Handle) (Status, error)
}

// Clock supplies the time source and the timed suspension used between
// queries. Tests swap it for a clock that advances instantly.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poller drives the status state machine for one handle at a time.
type Poller struct {
	querier StatusQuerier
	clock   Clock
	logger  *logrus.Logger
	observe func(Progress)
}

// PollerOption customizes a Poller.
type PollerOption func(*Poller)

// WithClock replaces the wall clock.
func WithClock(c Clock) PollerOption { return func(p *Poller) { p.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) PollerOption { return func(p *Poller) { p.logger = l } }

// WithObserver registers a callback invoked after every status query and
// before every wait. It must not block.
func WithObserver(fn func(Progress)) PollerOption { return func(p *Poller) { p.observe = fn } }

// NewPoller returns a poller backed by q.
func NewPoller(q StatusQuerier, opts ...PollerOption) *Poller {
	p := &Poller{
		querier: q,
		clock:   realClock{},
		logger:  logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// PollUntilOutcome queries the job status on the backoff schedule until the
// job completes, fails, or the attempt budget runs out. Exactly one outcome
// is returned and no query is issued after it. If ctx is cancelled first,
// PollUntilOutcome returns ctx.Err() and no outcome.
func (p *Poller) PollUntilOutcome(ctx context.Context, h Handle, budget Budget) (Outcome, error) {
	if err := budget.Validate(); err != nil {
		return Outcome{}, err
	}
	start := p.clock.Now()
	attempt := 0
	delay := budget.Backoff.Delay(0)
	log := p.logger.WithField("handle", h)

	for {
		if err := p.clock.Sleep(ctx, delay); err != nil {
			log.WithField("attempt", attempt).Debug("polling cancelled")
			return Outcome{}, err
		}
		st, err := p.querier.QueryStatus(ctx, h)
		elapsed := p.clock.Now().Sub(start)
		if err != nil {
			if ctx.Err() != nil {
				log.WithField("attempt", attempt).Debug("polling cancelled during query")
				return Outcome{}, ctx.Err()
			}
			return p.finish(log, Outcome{Kind: OutcomeFailed, Reason: err.Error(), Attempts: attempt + 1, Elapsed: elapsed}), nil
		}
		p.notify(Progress{Handle: h, Attempt: attempt + 1, Elapsed: elapsed, Delay: delay, State: st.State})
		log.WithFields(logrus.Fields{
			"attempt":    attempt + 1,
			"state":      st.State,
			"elapsed_ms": elapsed.Milliseconds(),
			"delay_ms":   delay.Milliseconds(),
		}).Debug("status query")

		switch st.State {
		case StateCompleted:
			if st.Transcript == "" {
				return p.finish(log, Outcome{Kind: OutcomeFailed, Reason: "empty transcript", Attempts: attempt + 1, Elapsed: elapsed}), nil
			}
			return p.finish(log, Outcome{Kind: OutcomeTranscript, Transcript: st.Transcript, Attempts: attempt + 1, Elapsed: elapsed}), nil
		case StateError:
			return p.finish(log, Outcome{Kind: OutcomeFailed, Reason: st.Message, Attempts: attempt + 1, Elapsed: elapsed}), nil
		}

		attempt++
		if attempt >= budget.MaxAttempts {
			return p.finish(log, Outcome{Kind: OutcomeTimedOut, Attempts: attempt, Elapsed: elapsed}), nil
		}
		delay = budget.Backoff.Delay(attempt)
	}
}

func (p *Poller) notify(pr Progress) {
	if p.observe != nil {
		p.observe(pr)
	}
}

func (p *Poller) finish(log *logrus.Entry, o Outcome) Outcome {
	entry := log.WithFields(logrus.Fields{
		"outcome":    o.Kind,
		"attempts":   o.Attempts,
		"elapsed_ms": o.Elapsed.Milliseconds(),
	})
	if o.Kind == OutcomeTranscript {
		entry.Info("job finished")
	} else {
		entry.Warnf("job finished: %s", o)
	}
	return o
}
