package ui

import (
	"sync"
	"time"
)

// ProgressTracker accumulates progress events and derives throughput.
type ProgressTracker struct {
	mu         sync.Mutex
	stage      Stage
	current    int
	total      int
	started    time.Time
	stageStart time.Time
	errors     []ErrorEvent
	now        func() time.Time
}

// ProgressStats is a point-in-time view of a tracker.
type ProgressStats struct {
	Stage   Stage
	Current int
	Total   int
	Elapsed time.Duration
	Rate    float64 // entities per second within the current stage
	ETA     time.Duration
	Errors  int
}

// NewProgressTracker creates a tracker positioned at StageListing.
func NewProgressTracker() *ProgressTracker {
	return newProgressTracker(time.Now)
}

func newProgressTracker(now func() time.Time) *ProgressTracker {
	t := now()
	return &ProgressTracker{stage: StageListing, started: t, stageStart: t, now: now}
}

// SetStage moves to a new stage and resets the counters.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = stage
	p.total = total
	p.current = 0
	p.stageStart = p.now()
}

// Update records the number of completed entities in the current stage.
func (p *ProgressTracker) Update(current int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current > p.current {
		p.current = current
	}
}

// AddError records an error event.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, event)
}

// Errors returns a copy of the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ErrorEvent(nil), p.errors...)
}

// Stats returns the current statistics.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	s := ProgressStats{
		Stage:   p.stage,
		Current: p.current,
		Total:   p.total,
		Elapsed: now.Sub(p.started),
		Errors:  len(p.errors),
	}
	if d := now.Sub(p.stageStart); d > 0 && p.current > 0 {
		s.Rate = float64(p.current) / d.Seconds()
		if remaining := p.total - p.current; remaining > 0 {
			s.ETA = time.Duration(float64(remaining) / s.Rate * float64(time.Second))
		}
	}
	return s
}

// Percent returns completion of the current stage in [0, 1].
func (s ProgressStats) Percent() float64 {
	if s.Total <= 0 {
		return 0
	}
	if s.Current >= s.Total {
		return 1
	}
	return float64(s.Current) / float64(s.Total)
}
