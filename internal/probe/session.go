package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/rs/zerolog"

	"lnprobe/internal/apperr"
	"lnprobe/internal/graph"
	"lnprobe/internal/infra/metrics"
	"lnprobe/internal/routing"
)

// State is a probe session state.
type State string

const (
	StateSearching   State = "searching"
	StateAttempting  State = "attempting"
	StateFailedRetry State = "failed_retry"
	StateSucceeded   State = "succeeded"
	StateExhausted   State = "exhausted"
	StateTimedOut    State = "timed_out"
	StateErrored     State = "errored"
	StateCancelled   State = "cancelled"
)

// Attempt records one query-attempt cycle.
type Attempt struct {
	Route      routing.Route
	Failure    *RoutingFailureEvent
	Exclusions routing.ExclusionSet
}

type session struct {
	e          *Engine
	req        Request
	hash       lntypes.Hash
	out        chan<- Event
	logger     zerolog.Logger
	started    time.Time
	deadline   time.Time
	state      State
	exclusions routing.ExclusionSet
	attempts   []Attempt
}

func newSession(e *Engine, req Request, hash lntypes.Hash, out chan<- Event) *session {
	started := e.cfg.Now()
	s := &session{
		e:       e,
		req:     req,
		hash:    hash,
		out:     out,
		started: started,
		state:   StateSearching,
		logger:  e.logger.With().Str("destination", req.Destination.String()).Str("hash", hash.String()).Logger(),
	}
	if req.Timeout > 0 {
		s.deadline = started.Add(req.Timeout)
	}
	return s
}

// seed folds the caller's ignore list into the exclusions. Pair entries
// without a channel need the graph to expand and are dropped without it.
func (s *session) seed(ctx context.Context) {
	var channels []graph.Channel
	for _, backend := range []any{s.e.cfg.Searcher, s.e.cfg.Attempter} {
		g, ok := backend.(GraphReader)
		if !ok {
			continue
		}
		snap, err := g.Graph(ctx)
		if err != nil {
			s.logger.Debug().Err(err).Msg("failed to read graph for ignore expansion")
			break
		}
		channels = snap.Channels
		break
	}
	s.exclusions = s.exclusions.WithIgnore(channels, s.req.Ignore)
}

func (s *session) expired() bool {
	return !s.deadline.IsZero() && !s.e.cfg.Now().Before(s.deadline)
}

func (s *session) transition(st State) {
	s.logger.Debug().Str("from", string(s.state)).Str("to", string(st)).Int("attempts", len(s.attempts)).Msg("probe state")
	s.state = st
}

// emit delivers ev in order, giving up when the caller has gone away.
func (s *session) emit(ctx context.Context, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case s.out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *session) run(ctx context.Context) {
	metrics.ProbeSessionsTotal.Inc()
	defer func() {
		metrics.ProbeOutcomesTotal.WithLabelValues(string(s.state)).Inc()
		metrics.ProbeDurationMs.Observe(float64(s.e.cfg.Now().Sub(s.started).Milliseconds()))
		if ctx.Err() != nil {
			// Caller is gone; end-of-stream only if it is still listening.
			select {
			case s.out <- EndEvent{}:
			default:
			}
			return
		}
		s.emit(ctx, EndEvent{})
	}()

	s.seed(ctx)
	for {
		if ctx.Err() != nil {
			s.transition(StateCancelled)
			return
		}
		if s.expired() {
			s.timeout(ctx)
			return
		}
		s.transition(StateSearching)
		routes, err := routing.QueryRoutes(ctx, s.e.cfg.Searcher, routing.QueryRequest{
			Source:         s.e.cfg.Self,
			Destination:    s.req.Destination,
			Mtokens:        s.req.Mtokens,
			FeeLimit:       s.req.FeeLimit,
			CLTVLimit:      s.req.CLTVLimit,
			FinalCLTVDelta: s.req.FinalCLTVDelta,
			Exclusions:     s.exclusions,
			MaxRoutes:      s.e.cfg.MaxRoutes,
		})
		metrics.RouteQueriesTotal.Inc()
		if ctx.Err() != nil {
			s.transition(StateCancelled)
			return
		}
		if err != nil {
			s.fail(ctx, apperr.As(err))
			return
		}
		metrics.RouteCandidates.Observe(float64(len(routes)))
		if len(routes) == 0 {
			if s.expired() {
				s.timeout(ctx)
				return
			}
			s.transition(StateExhausted)
			s.logger.Info().Int("attempts", len(s.attempts)).Int("exclusions", s.exclusions.Len()).Msg("probe exhausted routes")
			s.emit(ctx, ErrorEvent{Err: apperr.NoPath("NoRouteFound")})
			return
		}
		if s.expired() {
			s.timeout(ctx)
			return
		}

		if l := s.e.cfg.Limiter; l != nil {
			if err := l.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					s.transition(StateCancelled)
				} else {
					s.fail(ctx, apperr.Unavailable("AttemptRateLimited", err))
				}
				return
			}
			if s.expired() {
				s.timeout(ctx)
				return
			}
		}

		r := routes[0]
		s.transition(StateAttempting)
		if !s.emit(ctx, ProbingEvent{Route: r.Clone()}) {
			s.transition(StateCancelled)
			return
		}
		metrics.ProbeAttemptsTotal.Inc()
		res, err := s.e.cfg.Attempter.SendToRoute(ctx, s.hash, r)
		if ctx.Err() != nil {
			s.transition(StateCancelled)
			return
		}
		if err != nil {
			s.fail(ctx, apperr.Fatal("UnexpectedErrorSendingProbe", err))
			return
		}
		if done := s.handle(ctx, r, res); done {
			return
		}
	}
}

// handle interprets one attempt outcome and reports whether the session is over.
func (s *session) handle(ctx context.Context, r routing.Route, res AttemptResult) bool {
	f := res.Failure
	n := len(r.Hops)
	switch {
	case f == nil, f.SourceIndex == n && f.Code == lnwire.CodeIncorrectOrUnknownPaymentDetails:
		s.attempts = append(s.attempts, Attempt{Route: r, Exclusions: s.exclusions})
		s.transition(StateSucceeded)
		s.logger.Info().Int("attempts", len(s.attempts)).Uint32("timeout", r.Timeout).Msg("probe reached destination")
		s.emit(ctx, ProbeSuccessEvent{Route: r.Clone()})
		return true
	case f.SourceIndex < 0 || f.SourceIndex > n:
		s.fail(ctx, apperr.Fatal("UnexpectedFailureSourceIndex", fmt.Errorf("index %d on %d hops", f.SourceIndex, n)))
		return true
	case f.SourceIndex == n:
		s.fail(ctx, apperr.Fatal("ProbeRejectedByDestination", errors.New(f.Code.String())))
		return true
	}

	scope := Classify(f.Code)
	if scope == ScopeUnknown {
		s.fail(ctx, apperr.Fatal("UnexpectedRoutingFailure", errors.New(f.Code.String())))
		return true
	}

	from := s.e.cfg.Self
	if f.SourceIndex > 0 {
		from = r.Hops[f.SourceIndex-1].PublicKey
	}
	hop := r.Hops[f.SourceIndex]
	ev := RoutingFailureEvent{
		Channel:   hop.Channel,
		Index:     f.SourceIndex,
		PublicKey: from,
		Code:      f.Code,
		Reason:    f.Code.String(),
		Policy:    s.failingPolicy(ctx, hop.Channel, from, f),
		Route:     r.Clone(),
		Update:    updateFromWire(f.Update),
	}

	edges := []routing.IgnoredEdge{{Channel: hop.Channel, Reverse: graph.IsReverse(from, hop.PublicKey)}}
	var nodes []route.Vertex
	if f.SourceIndex > 0 && s.e.cfg.NodeExclusion.excludesNode(scope) {
		nodes = append(nodes, from)
	}
	s.exclusions = s.exclusions.With(edges, nodes)
	s.attempts = append(s.attempts, Attempt{Route: r, Failure: &ev, Exclusions: s.exclusions})

	metrics.RoutingFailuresTotal.WithLabelValues(ev.Reason).Inc()
	s.logger.Info().
		Str("channel", graph.FormatChannelID(hop.Channel)).
		Str("reason", ev.Reason).
		Str("reporter", from.String()).
		Int("exclusions", s.exclusions.Len()).
		Msg("probe routing failure")
	s.transition(StateFailedRetry)
	return !s.emit(ctx, ev)
}

func (s *session) failingPolicy(ctx context.Context, id lnwire.ShortChannelID, from route.Vertex, f *HopFailure) *graph.Policy {
	if p := policyFromWire(f.Update, from); p != nil {
		return p
	}
	for _, backend := range []any{s.e.cfg.Searcher, s.e.cfg.Attempter} {
		getter, ok := backend.(ChannelGetter)
		if !ok {
			continue
		}
		c, err := getter.GetChannel(ctx, id)
		if err != nil {
			s.logger.Debug().Err(err).Str("channel", graph.FormatChannelID(id)).Msg("failed to look up failing channel")
			return nil
		}
		if p := c.PolicyFrom(from); p != nil {
			cp := *p
			return &cp
		}
		return nil
	}
	return nil
}

func (s *session) timeout(ctx context.Context) {
	s.transition(StateTimedOut)
	s.logger.Warn().Int("attempts", len(s.attempts)).Dur("timeout", s.req.Timeout).Msg("probe timed out")
	s.emit(ctx, ErrorEvent{Err: apperr.Unavailable("ProbeTimeout", nil)})
}

func (s *session) fail(ctx context.Context, err *apperr.Error) {
	s.transition(StateErrored)
	s.logger.Warn().Err(err).Msg("probe failed")
	s.emit(ctx, ErrorEvent{Err: err})
}
