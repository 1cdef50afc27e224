// Package netscheduler implements the per-netconfig fan-out point: one
// instance per netconfig drains its queue and publishes one message per
// requested OS onto that OS's client queue. Matches srscheduler.py; the
// scheduler holds no state beyond the netconfig it was started for.
package netscheduler

import (
	"context"

	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/metrics"
	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/mq"
	"github.com/oriys/stoneridge/internal/mqtopics"
)

// Scheduler fans a single netconfig's queue out to per-(netconfig, os)
// client queues.
type Scheduler struct {
	Bus       mq.Bus
	Netconfig model.Netconfig
	// Metrics, if set, records the dispatched-to client queue's depth
	// after each fan-out.
	Metrics *metrics.Collectors
}

// queueLenBus is the optional subset of mq.Bus that reports a queue's
// current depth (RedisBus implements it; mq.MemBus need not).
type queueLenBus interface {
	QueueLen(ctx context.Context, queue string) (int64, error)
}

// New builds a Scheduler bound to netconfig.
func New(bus mq.Bus, netconfig model.Netconfig) *Scheduler {
	return &Scheduler{Bus: bus, Netconfig: netconfig}
}

// Listen drains the netconfig's queue until ctx is cancelled.
func (s *Scheduler) Listen(ctx context.Context) error {
	return s.Bus.Listen(ctx, mqtopics.Netconfig(s.Netconfig), s.handle)
}

func (s *Scheduler) handle(ctx context.Context, delivery mq.Delivery) error {
	var msg model.NetconfigMessage
	if err := delivery.Decode(&msg); err != nil {
		logging.Op().Error("netscheduler: malformed message, dropping", "netconfig", s.Netconfig, "error", err)
		return nil
	}

	for _, osName := range msg.OperatingSystems {
		client := model.ClientMessage{
			Srid:      msg.Srid,
			Netconfig: s.Netconfig,
			Tstamp:    msg.Tstamp,
			Ldap:      msg.Ldap,
		}
		queue := mqtopics.Client(s.Netconfig, osName)
		if err := s.Bus.Publish(ctx, queue, client); err != nil {
			logging.Op().Error("netscheduler: failed to publish client message", "srid", msg.Srid, "os", osName, "error", err)
			return err
		}
		s.reportQueueDepth(ctx, queue)
	}
	logging.Op().Info("netscheduler: dispatched", "srid", msg.Srid, "netconfig", s.Netconfig, "operating_systems", msg.OperatingSystems)
	return nil
}

func (s *Scheduler) reportQueueDepth(ctx context.Context, queue string) {
	if s.Metrics == nil {
		return
	}
	lenBus, ok := s.Bus.(queueLenBus)
	if !ok {
		return
	}
	n, err := lenBus.QueueLen(ctx, queue)
	if err != nil {
		return
	}
	s.Metrics.SetQueueDepth(queue, float64(n))
}
