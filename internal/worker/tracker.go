package worker

import (
	"sync"
	"time"

	"github.com/oriys/stoneridge/internal/grpcstatus"
)

// Tracker records a Pipeline's live status so cmd/srctl (via
// internal/grpcstatus) can report it to an operator. A worker serves a
// fixed (netconfig, os) pair for its whole lifetime, so those two fields
// are set once at construction; everything else changes per run.
type Tracker struct {
	netconfig string
	os        string
	backlog   func() int

	mu    sync.RWMutex
	srid  string
	stage string
	since time.Time
	idle  bool
}

// NewTracker builds a Tracker for a worker serving (netconfig, os).
// backlog, if non-nil, reports the current queue depth on demand.
func NewTracker(netconfig, os string, backlog func() int) *Tracker {
	return &Tracker{netconfig: netconfig, os: os, backlog: backlog, idle: true}
}

func (t *Tracker) startRun(srid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.srid = srid
	t.stage = ""
	t.since = time.Now()
	t.idle = false
}

func (t *Tracker) setStage(stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stage = stage
}

func (t *Tracker) finishRun() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.idle = true
	t.stage = ""
}

// Status implements grpcstatus.Provider.
func (t *Tracker) Status() grpcstatus.Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	backlog := 0
	if t.backlog != nil {
		backlog = t.backlog()
	}

	return grpcstatus.Snapshot{
		Srid:         t.srid,
		Netconfig:    t.netconfig,
		OS:           t.os,
		Stage:        t.stage,
		Since:        t.since,
		QueueBacklog: backlog,
		Idle:         t.idle,
	}
}
