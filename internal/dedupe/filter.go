// Package dedupe suppresses repeat delivery of an unchanged decision within one day.
package dedupe

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/eddiefleurent/strike_advisor/internal/models"
)

// expiryGrace keeps yesterday's entries around briefly past midnight; they are
// unreachable anyway since keys carry the day.
const expiryGrace = time.Hour

// Filter remembers, per local calendar day, the hash of the last decision sent
// for each position identity.
type Filter struct {
	mu    sync.Mutex
	loc   *time.Location
	items *cache.Cache
}

// NewFilter creates a filter whose day boundaries are midnight in loc.
func NewFilter(loc *time.Location) *Filter {
	if loc == nil {
		loc = time.Local
	}
	return &Filter{
		loc:   loc,
		items: cache.New(cache.NoExpiration, 30*time.Minute),
	}
}

// ShouldSend reports whether d is new for id today, remembering its hash when it is.
func (f *Filter) ShouldSend(id string, d *models.Decision, now time.Time) bool {
	if d == nil {
		return false
	}
	key := f.key(id, now)
	hash := d.Hash()

	f.mu.Lock()
	defer f.mu.Unlock()

	if prev, found := f.items.Get(key); found && prev.(string) == hash {
		return false
	}
	f.items.Set(key, hash, f.ttl(now))
	return true
}

// Seen reports whether any decision was sent for id today.
func (f *Filter) Seen(id string, now time.Time) bool {
	_, found := f.items.Get(f.key(id, now))
	return found
}

// Forget drops today's entry for id so the next decision for it is treated as new.
func (f *Filter) Forget(id string, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items.Delete(f.key(id, now))
}

// Reset forgets everything.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items.Flush()
}

// Len returns the number of remembered entries.
func (f *Filter) Len() int {
	return f.items.ItemCount()
}

func (f *Filter) key(id string, now time.Time) string {
	return now.In(f.loc).Format("2006-01-02") + "|" + id
}

func (f *Filter) ttl(now time.Time) time.Duration {
	local := now.In(f.loc)
	y, m, d := local.Date()
	midnight := time.Date(y, m, d+1, 0, 0, 0, 0, f.loc)
	return midnight.Sub(local) + expiryGrace
}
