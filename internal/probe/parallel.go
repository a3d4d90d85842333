package probe

import (
	"context"

	"golang.org/x/sync/errgroup"

	"lnprobe/internal/routing"
)

// Result is the outcome of one probe run by ProbeAll.
type Result struct {
	Request Request
	Route   *routing.Route
	Err     error
}

// ProbeAll runs independent sessions for reqs, at most limit at a time
// (unbounded when limit <= 0). Results keep the order of reqs. Per-probe
// failures land in Result.Err; only context cancellation fails the call.
func (e *Engine) ProbeAll(ctx context.Context, reqs []Request, limit int) ([]Result, error) {
	results := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, req := range reqs {
		g.Go(func() error {
			r, err := e.FindRoute(gctx, req)
			results[i] = Result{Request: req, Err: err}
			if err == nil {
				results[i].Route = &r
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
