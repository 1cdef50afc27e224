// Package deferrer implements the wait-then-requeue step the cloner spawns
// when an upstream build isn't published yet: sleep out the configured
// interval in short slices so a shutdown signal stays responsive, then
// republish the request onto intake carrying the attempt number it was
// given (the cloner has already incremented it). Grounded on
// _examples/original_source/srdeferrer.py's StoneRidgeDeferrer.run().
package deferrer

import (
	"context"
	"time"

	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/metrics"
	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/mq"
	"github.com/oriys/stoneridge/internal/mqtopics"
)

// sleepSlice matches the original's 30-second polling granularity.
const sleepSlice = 30 * time.Second

// Deferrer waits out an interval, then republishes req onto the intake
// queue with its Attempt unchanged.
type Deferrer struct {
	Bus      mq.Bus
	Interval time.Duration
	// Metrics, if set, counts each completed deferral.
	Metrics *metrics.Collectors
	// sleep is overridable by tests so they don't block for real time.
	sleep func(context.Context, time.Duration) bool
}

// New builds a Deferrer that waits Interval before republishing.
func New(bus mq.Bus, interval time.Duration) *Deferrer {
	return &Deferrer{Bus: bus, Interval: interval, sleep: ctxSleep}
}

// Run blocks for the configured interval (in 30s slices, so ctx
// cancellation is observed within one slice) and then republishes req, with
// its Attempt as given, onto the intake queue. It returns early with ctx.Err()
// if the context is cancelled before the interval elapses, without
// republishing — matching the original's behavior of simply dying on
// SIGTERM without re-enqueuing.
func (d *Deferrer) Run(ctx context.Context, req model.RunRequest) error {
	remaining := d.Interval
	for remaining > 0 {
		slice := sleepSlice
		if slice > remaining {
			slice = remaining
		}
		if !d.sleep(ctx, slice) {
			return ctx.Err()
		}
		remaining -= slice
	}

	next := req
	logging.Op().Info("deferrer: interval elapsed, republishing", "srid", req.Srid, "attempt", next.Attempt)
	if d.Metrics != nil {
		for _, nc := range req.Netconfigs {
			d.Metrics.IncDeferral(string(nc))
		}
	}
	return d.Bus.Publish(ctx, mqtopics.Intake, next)
}

// ctxSleep sleeps for d or until ctx is cancelled, returning false in the
// latter case.
func ctxSleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
