package usecases

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/domain/entities"
	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/domain/ports"
	"github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/platform/logger"
)

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 1500 * time.Millisecond

// StatusSummary aggregates the last-known document states for display.
type StatusSummary struct {
	Pending         int
	Processing      int
	Completed       int
	Failed          int
	OverallProgress float64
}

// StatusPoller watches ingestion progress for a set of documents. Each cycle
// fetches status for every document still pending or processing, diffs the
// result against last-known state field by field, and emits an update only
// for documents that changed.
//
// The next cycle is scheduled only after the previous one fully completes, so
// at most one cycle is ever in flight; an explicit guard additionally absorbs
// re-entrant triggers, and a singleflight group collapses any concurrent
// fetches for the same document id.
type StatusPoller struct {
	svc      ports.DocumentStatusService
	interval time.Duration
	onUpdate func(entities.DocumentStatus)
	log      *logger.Logger

	mu       sync.Mutex
	known    map[string]entities.DocumentStatus
	timer    *time.Timer
	inFlight bool
	running  bool

	group singleflight.Group
}

// NewStatusPoller creates a poller. onUpdate receives each changed snapshot;
// it must not block for long, updates are delivered on the polling goroutine.
func NewStatusPoller(
	svc ports.DocumentStatusService,
	interval time.Duration,
	onUpdate func(entities.DocumentStatus),
	log *logger.Logger,
) *StatusPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &StatusPoller{
		svc:      svc,
		interval: interval,
		onUpdate: onUpdate,
		log:      log,
		known:    make(map[string]entities.DocumentStatus),
	}
}

// Track registers documents to observe. Last-known state from earlier cycles
// wins over re-supplied snapshots, so a UI re-render cannot roll progress
// back.
func (p *StatusPoller) Track(docs ...entities.DocumentStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range docs {
		if _, seen := p.known[d.ID]; !seen {
			p.known[d.ID] = d
		}
	}
}

// Untrack stops observing the given documents.
func (p *StatusPoller) Untrack(documentIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range documentIDs {
		delete(p.known, id)
	}
}

// Statuses returns a copy of the last-known snapshots.
func (p *StatusPoller) Statuses() map[string]entities.DocumentStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]entities.DocumentStatus, len(p.known))
	for id, d := range p.known {
		out[id] = d
	}
	return out
}

// Summary aggregates last-known state across all tracked documents.
func (p *StatusPoller) Summary() StatusSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s StatusSummary
	var progress float64
	for _, d := range p.known {
		switch d.Status {
		case entities.DocumentPending:
			s.Pending++
			progress += d.ProgressPercentage
		case entities.DocumentProcessing:
			s.Processing++
			progress += d.ProgressPercentage
		case entities.DocumentCompleted:
			s.Completed++
			progress += 100
		case entities.DocumentFailed:
			s.Failed++
		}
	}
	if len(p.known) > 0 {
		s.OverallProgress = progress / float64(len(p.known))
	}
	return s
}

// Start begins polling. The timer keeps rescheduling even when no documents
// are active, because new documents may be tracked at any time. Calling Start
// on a running poller is a no-op.
func (p *StatusPoller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.cycle(ctx)
}

// Stop halts polling and cancels the pending timer. An in-flight cycle is
// allowed to finish; it will not reschedule.
func (p *StatusPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Poll triggers one cycle immediately. Triggers arriving while a cycle is in
// flight are dropped by the guard.
func (p *StatusPoller) Poll(ctx context.Context) {
	p.cycle(ctx)
}

func (p *StatusPoller) cycle(ctx context.Context) {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return
	}
	p.inFlight = true

	var candidates []string
	for id, d := range p.known {
		if d.Active() {
			candidates = append(candidates, id)
		}
	}
	p.mu.Unlock()

	sort.Strings(candidates)
	for _, id := range candidates {
		if ctx.Err() != nil {
			break
		}
		p.checkOne(ctx, id)
	}

	p.mu.Lock()
	p.inFlight = false
	if p.running && ctx.Err() == nil {
		p.timer = time.AfterFunc(p.interval, func() { p.cycle(ctx) })
	}
	p.mu.Unlock()
}

// checkOne fetches one document's status and emits an update if any of the
// diffed fields changed. Fetch failures are logged and skipped so one bad
// document cannot starve the rest of the cycle.
func (p *StatusPoller) checkOne(ctx context.Context, documentID string) {
	v, err, _ := p.group.Do(documentID, func() (interface{}, error) {
		return p.svc.Status(ctx, documentID)
	})
	if err != nil {
		p.log.Warn("document status fetch failed", "document", documentID, "error", err)
		return
	}

	next := *v.(*entities.DocumentStatus)
	if next.ID == "" {
		next.ID = documentID
	}

	p.mu.Lock()
	prev, tracked := p.known[documentID]
	if !tracked {
		// Untracked mid-cycle; drop the result.
		p.mu.Unlock()
		return
	}
	changed := next.Changed(prev)
	if changed {
		p.known[documentID] = next
	}
	cb := p.onUpdate
	p.mu.Unlock()

	if changed && cb != nil {
		cb(next)
	}
}
