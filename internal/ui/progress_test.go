package ui

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestProgressTracker_RateAndETA(t *testing.T) {
	// Given: a tracker indexing 100 entities
	clock := &fakeClock{t: time.Unix(0, 0)}
	p := newProgressTracker(clock.now)
	p.SetStage(StageIndexing, 100)

	// When: 25 complete after 5 seconds
	clock.t = clock.t.Add(5 * time.Second)
	p.Update(25)

	// Then: rate is 5/s and 75 remain
	s := p.Stats()
	assert.Equal(t, StageIndexing, s.Stage)
	assert.InDelta(t, 5.0, s.Rate, 0.001)
	assert.Equal(t, 15*time.Second, s.ETA)
	assert.InDelta(t, 0.25, s.Percent(), 0.001)
}

func TestProgressTracker_StartsAtListing(t *testing.T) {
	p := NewProgressTracker()
	assert.Equal(t, StageListing, p.Stats().Stage)
	assert.Zero(t, p.Stats().Percent())
}

func TestProgressTracker_UpdateNeverGoesBackwards(t *testing.T) {
	p := NewProgressTracker()
	p.SetStage(StageIndexing, 10)
	p.Update(6)
	p.Update(3)
	assert.Equal(t, 6, p.Stats().Current)
}

func TestProgressTracker_SetStageResets(t *testing.T) {
	p := NewProgressTracker()
	p.SetStage(StageIndexing, 10)
	p.Update(10)
	assert.Equal(t, 1.0, p.Stats().Percent())

	p.SetStage(StageComplete, 0)
	assert.Zero(t, p.Stats().Current)
}

func TestProgressTracker_Errors(t *testing.T) {
	p := NewProgressTracker()
	p.AddError(ErrorEvent{Err: errors.New("x")})

	errs := p.Errors()
	errs[0].File = "mutated"

	assert.Equal(t, 1, p.Stats().Errors)
	assert.Empty(t, p.Errors()[0].File)
}
