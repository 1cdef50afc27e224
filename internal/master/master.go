// Package master implements the master dispatcher: it drains the intake
// queue, invokes the cloner as a bounded subprocess per request, and on
// success fans the request out to one message per requested netconfig.
// Subprocess invocation follows the bounded-subprocess pattern used for
// container supervision elsewhere in this codebase (exec.CommandContext +
// CombinedOutput under a caller-supplied timeout). Matches srmaster.py.
package master

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/mq"
	"github.com/oriys/stoneridge/internal/mqtopics"
	"github.com/oriys/stoneridge/internal/runid"
)

// ClonerInvoker runs the cloner subprocess for req and reports whether it
// succeeded. Implementations never return a Go error for a cloner failure
// (a non-zero exit) — that is reported via the bool return, matching step 3
// of §4.4 ("drop the message silently"); a non-nil error means the master
// itself couldn't even start the subprocess.
type ClonerInvoker interface {
	Clone(ctx context.Context, req model.RunRequest) (ok bool, err error)
}

// SubprocessCloner invokes the srcloner binary, feeding req as JSON on
// stdin and bounding the run with Timeout.
type SubprocessCloner struct {
	Binary     string
	ConfigPath string
	Timeout    time.Duration
}

// Clone runs Binary once, returning ok=false (no Go error) on any non-zero
// exit so the caller can drop the message per §4.4 step 3.
func (s SubprocessCloner) Clone(ctx context.Context, req model.RunRequest) (bool, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return false, err
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{}
	if s.ConfigPath != "" {
		args = append(args, "--config", s.ConfigPath)
	}
	cmd := exec.CommandContext(runCtx, s.Binary, args...)
	cmd.Stdin = bytes.NewReader(body)
	output, runErr := cmd.CombinedOutput()
	if runErr != nil {
		logging.Op().Warn("master: cloner subprocess failed", "srid", req.Srid, "error", runErr, "output", string(output))
		return false, nil
	}
	return true, nil
}

// sleepAfterClone is the gap §4.4 step 4 mandates between a successful
// clone and the timestamp assigned to the fan-out, so two runs dispatched
// back-to-back never collide on tstamp.
const sleepAfterClone = time.Second

// RecordFunc records a run's lifecycle transition (srid, status, message).
// A nil RecordFunc disables recording. Wired to internal/runstore.Store by
// cmd/srmaster when a runstore DSN is configured; this is a supplemented
// audit-trail concern with no equivalent in the original system, so the
// dispatcher stays fully functional with it unset.
type RecordFunc func(ctx context.Context, srid, status, message string)

// Dispatcher consumes intake and fans successfully cloned requests out to
// per-netconfig queues.
type Dispatcher struct {
	Bus    mq.Bus
	Cloner ClonerInvoker
	Record RecordFunc
	// now is overridable by tests.
	now func() time.Time
	// sleep is overridable by tests so they don't block for real time.
	sleep func(time.Duration)
}

// New builds a Dispatcher.
func New(bus mq.Bus, cloner ClonerInvoker) *Dispatcher {
	return &Dispatcher{Bus: bus, Cloner: cloner, now: time.Now, sleep: time.Sleep}
}

func (d *Dispatcher) record(ctx context.Context, srid, status, message string) {
	if d.Record == nil {
		return
	}
	d.Record(ctx, srid, status, message)
}

// Listen drains the intake queue until ctx is cancelled.
func (d *Dispatcher) Listen(ctx context.Context) error {
	return d.Bus.Listen(ctx, mqtopics.Intake, d.handle)
}

func (d *Dispatcher) handle(ctx context.Context, delivery mq.Delivery) error {
	var req model.RunRequest
	if err := delivery.Decode(&req); err != nil {
		logging.Op().Error("master: malformed intake message, dropping", "error", err)
		return nil // ack and drop; redelivery of garbage never helps
	}

	if req.Srid == "" {
		if req.Nightly {
			req.Srid = runid.NewNightlySRID()
		} else {
			req.Srid = runid.NewSRID(req.Ldap, req.Sha)
		}
	}

	d.record(ctx, req.Srid, "submitted", "")

	ok, err := d.Cloner.Clone(ctx, req)
	if err != nil {
		logging.Op().Error("master: could not start cloner", "srid", req.Srid, "error", err)
		return err // withhold ack, let the broker redeliver
	}
	if !ok {
		logging.Op().Info("master: cloner reported failure, dropping request", "srid", req.Srid)
		d.record(ctx, req.Srid, "failed", "cloner reported failure")
		return nil
	}

	d.sleep(sleepAfterClone)
	tstamp := d.now().Unix()

	for _, nc := range req.Netconfigs {
		msg := model.NetconfigMessage{
			Srid:             req.Srid,
			OperatingSystems: req.OperatingSystems,
			Tstamp:           tstamp,
			Ldap:             req.Ldap,
		}
		if err := d.Bus.Publish(ctx, mqtopics.Netconfig(nc), msg); err != nil {
			logging.Op().Error("master: failed to publish fan-out message", "srid", req.Srid, "netconfig", nc, "error", err)
			return err
		}
	}
	logging.Op().Info("master: dispatched", "srid", req.Srid, "netconfigs", req.Netconfigs)
	d.record(ctx, req.Srid, "dispatched", "")
	return nil
}
