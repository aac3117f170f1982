package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/raterudder/autarcostatus/pkg/log"
	"github.com/raterudder/autarcostatus/pkg/metrics"
	"github.com/raterudder/autarcostatus/pkg/remote"
	"github.com/raterudder/autarcostatus/pkg/status"
	"github.com/raterudder/autarcostatus/pkg/types"
)

const (
	// DefaultInterval matches how often Autarco processes new data from the
	// inverter.
	DefaultInterval = 300 * time.Second
	// DefaultTick is how often the idle loop wakes up to check for shutdown
	// and whether a fetch is due.
	DefaultTick = time.Second
	// DefaultReauthBackoff is how long to wait after a failed
	// re-authentication before trying again.
	DefaultReauthBackoff = 10 * time.Second
)

// ErrInitialAuth wraps the error returned by Run when the first login fails.
var ErrInitialAuth = errors.New("initial authentication failed")

// State is the state of the polling state machine.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateIdle
	StateFetching
	StateReauthNeeded
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateReauthNeeded:
		return "reauthNeeded"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options tune the timing of a Poller. Zero values pick the defaults.
type Options struct {
	Interval      time.Duration
	Tick          time.Duration
	ReauthBackoff time.Duration
}

// Poller owns the remote session and writes every successful reading into
// the status cache. It is the only writer of the cache.
//
// All state below is only touched by the goroutine calling Run.
type Poller struct {
	client remote.Client
	cache  *status.Cache
	creds  types.Credentials

	interval      time.Duration
	tick          time.Duration
	reauthBackoff time.Duration
	now           func() time.Time

	state   State
	session remote.Session
	// lastFetch is the time of the last successful cycle
	lastFetch time.Time
	// reauthAt is the earliest time to retry a failed re-authentication
	reauthAt time.Time
}

// New creates a Poller that is ready to Run.
func New(client remote.Client, cache *status.Cache, creds types.Credentials, opts Options) *Poller {
	p := &Poller{
		client:        client,
		cache:         cache,
		creds:         creds,
		interval:      opts.Interval,
		tick:          opts.Tick,
		reauthBackoff: opts.ReauthBackoff,
		now:           time.Now,
		state:         StateUnauthenticated,
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.tick <= 0 {
		p.tick = DefaultTick
	}
	if p.reauthBackoff <= 0 {
		p.reauthBackoff = DefaultReauthBackoff
	}
	return p
}

// Run logs in and then polls until ctx is canceled. It only returns an error
// when the first login fails; every later failure is retried. On return the
// session has been closed.
//
// Requests to the remote are not canceled by ctx so that a cycle in flight
// completes. They are bounded by the client's own timeouts.
func (p *Poller) Run(ctx context.Context) error {
	callCtx := context.WithoutCancel(ctx)

	if err := p.authenticate(callCtx); err != nil {
		p.state = StateStopped
		log.Ctx(ctx).ErrorContext(ctx, "poller cannot authenticate", slog.Any("error", err))
		return fmt.Errorf("%w: %w", ErrInitialAuth, err)
	}
	defer p.stop(callCtx)

	log.Ctx(ctx).InfoContext(
		ctx,
		"poller started",
		slog.Duration("interval", p.interval),
		slog.Duration("tick", p.tick),
	)

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).InfoContext(ctx, "poller stopping due to context cancellation")
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				log.Ctx(ctx).InfoContext(ctx, "poller stopping due to context cancellation")
				return nil
			}
			p.step(callCtx)
		}
	}
}

// step runs one idle tick: it retries a pending re-authentication or starts a
// fetch once the poll interval has passed since the last successful cycle.
func (p *Poller) step(ctx context.Context) {
	now := p.now()

	if p.session == nil {
		if now.Before(p.reauthAt) {
			return
		}
		p.state = StateReauthNeeded
		p.reauthenticate(ctx)
		return
	}

	if !p.lastFetch.IsZero() && now.Sub(p.lastFetch) < p.interval {
		return
	}
	p.fetch(ctx)
}

// fetch runs one cycle. The cache is only written when both values were
// fetched.
func (p *Poller) fetch(ctx context.Context) {
	p.state = StateFetching
	ctx = log.WithAttrs(ctx, slog.String("cycleID", uuid.NewString()))
	log.Ctx(ctx).DebugContext(ctx, "fetching status")

	power, ok := p.fetchMetric(ctx, types.MetricPower)
	if !ok {
		return
	}
	energy, ok := p.fetchMetric(ctx, types.MetricEnergy)
	if !ok {
		return
	}

	now := p.now()
	reading := types.NewReading(power, energy, now)
	p.cache.Write(reading)
	metrics.ObserveReading(reading)
	if now.After(p.lastFetch) {
		p.lastFetch = now
	}
	p.state = StateIdle

	log.Ctx(ctx).InfoContext(
		ctx,
		"status updated",
		slog.Any("currentW", reading.CurrentW),
		slog.Any("totalKWh", reading.TotalKWh),
		slog.Time("observedAt", reading.Time()),
	)
}

// fetchMetric fetches one value. On failure it applies the transition for the
// error class and returns false.
func (p *Poller) fetchMetric(ctx context.Context, metric types.Metric) (uint32, bool) {
	v, err := p.client.Fetch(ctx, p.session, metric)
	class := remote.Classify(err)
	metrics.FetchTotal.WithLabelValues(string(metric), fetchResult(class)).Inc()

	switch class {
	case remote.FailureNone:
		return v, true
	case remote.FailureUnauthorized:
		log.Ctx(ctx).WarnContext(ctx, "session rejected, re-authenticating", slog.String("metric", string(metric)), slog.Any("error", err))
		p.dropSession(ctx)
		p.state = StateReauthNeeded
		p.reauthenticate(ctx)
	default:
		log.Ctx(ctx).WarnContext(
			ctx,
			"failed to fetch status, retrying next tick",
			slog.String("metric", string(metric)),
			slog.String("class", class.String()),
			slog.Any("error", err),
		)
		p.state = StateIdle
	}
	return 0, false
}

// fetchResult is the result label of metrics.FetchTotal.
func fetchResult(class remote.FailureClass) string {
	if class == remote.FailureNone {
		return "success"
	}
	return class.String()
}

func (p *Poller) authenticate(ctx context.Context) error {
	p.state = StateAuthenticating
	log.Ctx(ctx).DebugContext(ctx, "authenticating", slog.Any("creds", p.creds))

	sess, err := p.client.Authenticate(ctx, p.creds)
	if err != nil {
		metrics.AuthTotal.WithLabelValues("failure").Inc()
		return err
	}
	metrics.AuthTotal.WithLabelValues("success").Inc()

	p.session = sess
	p.state = StateIdle
	return nil
}

// reauthenticate replaces a rejected session. A failure is not fatal; the
// next attempt is scheduled after the backoff.
func (p *Poller) reauthenticate(ctx context.Context) {
	if err := p.authenticate(ctx); err != nil {
		p.reauthAt = p.now().Add(p.reauthBackoff)
		p.state = StateIdle
		log.Ctx(ctx).WarnContext(
			ctx,
			"re-authentication failed",
			slog.Any("error", err),
			slog.Time("retryAt", p.reauthAt),
		)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "re-authenticated")
}

func (p *Poller) dropSession(ctx context.Context) {
	if p.session == nil {
		return
	}
	if err := p.session.Close(); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to close session", slog.Any("error", err))
	}
	p.session = nil
}

func (p *Poller) stop(ctx context.Context) {
	p.dropSession(ctx)
	p.state = StateStopped
	log.Ctx(ctx).InfoContext(ctx, "poller stopped")
}
