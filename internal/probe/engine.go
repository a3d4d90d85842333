// Package probe drives probing sessions: query candidate routes, attempt one
// with an unpayable hash, exclude what failed and retry until a route
// reaches the destination, nothing is left to try, or the deadline passes.
package probe

import (
	"context"
	"crypto/rand"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/rs/zerolog"

	"lnprobe/internal/apperr"
	"lnprobe/internal/graph"
	"lnprobe/internal/routing"
)

// Attempter is the backend traversal service.
type Attempter interface {
	SendToRoute(ctx context.Context, hash lntypes.Hash, r routing.Route) (AttemptResult, error)
}

// AttemptResult is the outcome of one traversal. A nil Failure means the
// destination accepted the HTLC.
type AttemptResult struct {
	Failure *HopFailure
}

// HopFailure is a structured failure. SourceIndex follows the onion
// convention: 0 is the local node and i the node of hop i-1, so the failing
// channel is the one of hop SourceIndex and len(hops) is the destination.
type HopFailure struct {
	SourceIndex int
	Code        lnwire.FailCode
	Update      *lnwire.ChannelUpdate1
}

// ChannelGetter is an optional backend capability used to fill in the
// failing policy when a failure carries no channel update.
type ChannelGetter interface {
	GetChannel(ctx context.Context, id lnwire.ShortChannelID) (graph.Channel, error)
}

// GraphReader is an optional backend capability used to expand ignore
// entries that name a node pair without a channel.
type GraphReader interface {
	Graph(ctx context.Context) (graph.Snapshot, error)
}

// Limiter paces attempts sent to the backend.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Config wires an Engine to its backend.
type Config struct {
	Self          route.Vertex
	Searcher      routing.RouteSearcher
	Attempter     Attempter
	NodeExclusion NodeExclusion
	MaxRoutes     int
	// Limiter, when set, is waited on before every attempt. It is shared by
	// all sessions of the engine.
	Limiter Limiter
	// Now is the session clock, time.Now when nil.
	Now func() time.Time
}

// Engine starts independent probe sessions. It holds no per-session state.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NodeExclusion == "" {
		cfg.NodeExclusion = ExcludeNodeOnNodeFailure
	}
	return &Engine{cfg: cfg, logger: logger.With().Str("component", "probe").Logger()}
}

// Request describes one probe.
type Request struct {
	Destination    route.Vertex
	Mtokens        lnwire.MilliSatoshi
	FeeLimit       *lnwire.MilliSatoshi
	CLTVLimit      uint32
	FinalCLTVDelta uint16
	// Timeout bounds the session; zero means no deadline.
	Timeout time.Duration
	Ignore  []routing.Ignore
}

func (r Request) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Destination, validation.By(func(v interface{}) error {
			if v.(route.Vertex) == (route.Vertex{}) {
				return validation.NewError("validation_required", "cannot be blank")
			}
			return nil
		})),
		validation.Field(&r.Mtokens, validation.Required),
		validation.Field(&r.Timeout, validation.Min(time.Duration(0))),
	)
}

// Subscription is an ordered, cancellable stream of probe events. The stream
// ends with EndEvent followed by the channel closing.
type Subscription struct {
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
}

// Events returns the stream.
func (s *Subscription) Events() <-chan Event { return s.events }

// Cancel stops the session and waits until it has released the backend.
// Nothing but end-of-stream follows.
func (s *Subscription) Cancel() {
	s.cancel()
	<-s.done
}

// Done is closed once the session goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Subscribe validates req and starts a session.
func (e *Engine) Subscribe(ctx context.Context, req Request) (*Subscription, error) {
	if err := req.Validate(); err != nil {
		return nil, apperr.Invalid("ExpectedValidProbeRequest", err)
	}
	var hash lntypes.Hash
	if _, err := rand.Read(hash[:]); err != nil {
		return nil, apperr.Unavailable("FailedToGenerateProbeHash", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{events: make(chan Event), cancel: cancel, done: make(chan struct{})}
	s := newSession(e, req, hash, sub.events)
	go func() {
		defer close(sub.done)
		defer close(sub.events)
		defer cancel()
		s.run(ctx)
	}()
	return sub, nil
}

// FindRoute runs a probe to completion and returns the winning route.
func (e *Engine) FindRoute(ctx context.Context, req Request) (routing.Route, error) {
	sub, err := e.Subscribe(ctx, req)
	if err != nil {
		return routing.Route{}, err
	}
	defer sub.Cancel()
	var found *routing.Route
	var failed error
	for ev := range sub.Events() {
		switch ev := ev.(type) {
		case ProbeSuccessEvent:
			r := ev.Route
			found = &r
		case ErrorEvent:
			failed = ev.Err
		}
	}
	switch {
	case found != nil:
		return *found, nil
	case failed != nil:
		return routing.Route{}, failed
	case ctx.Err() != nil:
		return routing.Route{}, ctx.Err()
	}
	return routing.Route{}, apperr.Fatal("ProbeEndedWithoutResult", nil)
}
