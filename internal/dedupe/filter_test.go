package dedupe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/eddiefleurent/strike_advisor/internal/models"
)

func decision(action models.Action, strike float64, priority models.Priority) *models.Decision {
	return &models.Decision{
		Action:   action,
		Priority: priority,
		Target:   &models.Target{Strike: strike, Expiration: time.Date(2025, 2, 21, 0, 0, 0, 0, time.UTC)},
	}
}

func TestShouldSend(t *testing.T) {
	loc := time.FixedZone("ET", -5*3600)
	f := NewFilter(loc)
	morning := time.Date(2025, 1, 6, 9, 0, 0, 0, loc)
	d := decision(models.ActionRollITM, 105, models.PriorityHigh)

	assert.True(t, f.ShouldSend("rec-1", d, morning), "first sighting sends")
	assert.False(t, f.ShouldSend("rec-1", d, morning.Add(2*time.Hour)), "same hash suppressed")

	reworded := *d
	reworded.Reason = "new wording"
	assert.False(t, f.ShouldSend("rec-1", &reworded, morning.Add(3*time.Hour)), "reason is not part of the hash")

	escalated := decision(models.ActionRollITM, 105, models.PriorityUrgent)
	assert.True(t, f.ShouldSend("rec-1", escalated, morning.Add(4*time.Hour)))
	assert.False(t, f.ShouldSend("rec-1", escalated, morning.Add(5*time.Hour)))

	assert.True(t, f.ShouldSend("rec-2", escalated, morning), "identities are independent")
	assert.Equal(t, 2, f.Len())
}

func TestShouldSend_ResetsAtLocalMidnight(t *testing.T) {
	loc := time.FixedZone("ET", -5*3600)
	f := NewFilter(loc)
	d := decision(models.ActionCompress, 185, models.PriorityMedium)

	late := time.Date(2025, 1, 6, 23, 59, 0, 0, loc)
	assert.True(t, f.ShouldSend("rec-1", d, late))
	assert.False(t, f.ShouldSend("rec-1", d, late))

	// 05:01 UTC; only the local calendar day has changed
	nextDay := time.Date(2025, 1, 7, 0, 1, 0, 0, loc)
	assert.True(t, f.ShouldSend("rec-1", d, nextDay))
	assert.True(t, f.Seen("rec-1", nextDay))
}

func TestForget(t *testing.T) {
	f := NewFilter(time.UTC)
	now := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	d := decision(models.ActionCloseCatastrophic, 0, models.PriorityUrgent)

	assert.True(t, f.ShouldSend("rec-1", d, now))
	f.Forget("rec-1", now)
	assert.False(t, f.Seen("rec-1", now))
	assert.True(t, f.ShouldSend("rec-1", d, now.Add(time.Hour)), "forgotten decision is new again")

	f.Forget("rec-2", now)
	assert.Equal(t, 1, f.Len())
}

func TestShouldSend_NilDecision(t *testing.T) {
	f := NewFilter(time.UTC)
	assert.False(t, f.ShouldSend("rec-1", nil, time.Now()))
	assert.Equal(t, 0, f.Len())
}

func TestReset(t *testing.T) {
	f := NewFilter(time.UTC)
	now := time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)
	d := decision(models.ActionPullBack, 90, models.PriorityHigh)

	f.ShouldSend("rec-1", d, now)
	f.Reset()
	assert.Equal(t, 0, f.Len())
	assert.True(t, f.ShouldSend("rec-1", d, now))
}

func TestShouldSend_Concurrent(t *testing.T) {
	f := NewFilter(time.UTC)
	now := time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)
	d := decision(models.ActionRollWeekly, 95, models.PriorityMedium)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		sends int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.ShouldSend("rec-1", d, now) {
				mu.Lock()
				sends++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, sends, "exactly one concurrent caller wins")
}
