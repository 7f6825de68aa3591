package storage

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/eddiefleurent/strike_advisor/internal/models"
)

// MockStorage implements Interface in memory for testing. It mirrors the SQLite
// constraints (unique keys, snapshot numbering, foreign keys) and lets tests
// inject failures per operation.
type MockStorage struct {
	*memStore
	mu       sync.Mutex
	failures map[string]error
	calls    map[string]int
}

type memData struct {
	recommendations map[string]models.Recommendation
	snapshots       map[string][]models.Snapshot // by recommendation, number order
	executions      map[string]models.Execution
	matches         map[string]models.Match
	outcomes        map[string]models.Outcome
	weekly          map[[2]int]models.WeeklySummary
}

// memStore is the Store over one memData; mu is nil inside a transaction,
// where the owning MockStorage already holds the lock.
type memStore struct {
	mu    *sync.Mutex
	d     *memData
	check func(op string) error
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	m := &MockStorage{
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
	m.memStore = &memStore{
		mu:    &m.mu,
		d:     newMemData(),
		check: m.record,
	}
	return m
}

func newMemData() *memData {
	return &memData{
		recommendations: make(map[string]models.Recommendation),
		snapshots:       make(map[string][]models.Snapshot),
		executions:      make(map[string]models.Execution),
		matches:         make(map[string]models.Match),
		outcomes:        make(map[string]models.Outcome),
		weekly:          make(map[[2]int]models.WeeklySummary),
	}
}

func (d *memData) clone() *memData {
	c := &memData{
		recommendations: maps.Clone(d.recommendations),
		snapshots:       make(map[string][]models.Snapshot, len(d.snapshots)),
		executions:      maps.Clone(d.executions),
		matches:         maps.Clone(d.matches),
		outcomes:        maps.Clone(d.outcomes),
		weekly:          maps.Clone(d.weekly),
	}
	for k, v := range d.snapshots {
		c.snapshots[k] = slices.Clone(v)
	}
	return c
}

// FailOn makes every later call to op (a Store method name) return err.
// A nil err clears the failure.
func (m *MockStorage) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// CallCount reports how many times op was called, including failed calls.
func (m *MockStorage) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// record runs with m.mu held.
func (m *MockStorage) record(op string) error {
	m.calls[op]++
	return m.failures[op]
}

// WithTx runs fn against a copy of the data and keeps the copy only if fn succeeds.
func (m *MockStorage) WithTx(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("WithTx"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memStore{d: m.d.clone(), check: m.record}
	if err := fn(tx); err != nil {
		return err
	}
	m.d = tx.d
	return nil
}

// Close is a no-op.
func (m *MockStorage) Close() error {
	return nil
}

func (s *memStore) enter(op string) (func(), error) {
	unlock := func() {}
	if s.mu != nil {
		s.mu.Lock()
		unlock = s.mu.Unlock
	}
	if err := s.check(op); err != nil {
		unlock()
		return nil, err
	}
	return unlock, nil
}

// Recommendations

func (s *memStore) GetRecommendation(_ context.Context, id string) (*models.Recommendation, error) {
	unlock, err := s.enter("GetRecommendation")
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, ok := s.d.recommendations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *memStore) SaveRecommendation(_ context.Context, rec *models.Recommendation) error {
	unlock, err := s.enter("SaveRecommendation")
	if err != nil {
		return err
	}
	defer unlock()

	if existing, ok := s.d.recommendations[rec.ID]; ok {
		// identity columns are fixed at creation
		existing.Status = rec.Status
		existing.ResolutionReason = rec.ResolutionReason
		existing.DaysActive = rec.DaysActive
		existing.LastSnapshotNumber = rec.LastSnapshotNumber
		existing.UpdatedAt = rec.UpdatedAt
		existing.ResolvedAt = rec.ResolvedAt
		s.d.recommendations[rec.ID] = existing
		return nil
	}
	for _, r := range s.d.recommendations {
		if r.PositionKey == rec.PositionKey {
			return fmt.Errorf("save recommendation %s: %w: position key %s taken by %s",
				rec.ID, ErrConflict, rec.PositionKey, r.ID)
		}
	}
	s.d.recommendations[rec.ID] = *rec
	return nil
}

func (s *memStore) ListRecommendations(_ context.Context, status models.RecommendationStatus) ([]models.Recommendation, error) {
	unlock, err := s.enter("ListRecommendations")
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []models.Recommendation
	for _, r := range s.d.recommendations {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b models.Recommendation) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Snapshots

func (s *memStore) InsertSnapshot(_ context.Context, snap *models.Snapshot) error {
	unlock, err := s.enter("InsertSnapshot")
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := s.d.recommendations[snap.RecommendationID]; !ok {
		return fmt.Errorf("insert snapshot %s: %w: unknown recommendation", snap.ID, ErrConflict)
	}
	for _, list := range s.d.snapshots {
		for _, existing := range list {
			if existing.ID == snap.ID {
				return fmt.Errorf("insert snapshot %s: %w: duplicate id", snap.ID, ErrConflict)
			}
		}
	}
	list := s.d.snapshots[snap.RecommendationID]
	for _, existing := range list {
		if existing.Number == snap.Number {
			return fmt.Errorf("insert snapshot %s #%d: %w", snap.RecommendationID, snap.Number, ErrConflict)
		}
	}

	stored := *snap
	if snap.Target != nil {
		t := *snap.Target
		stored.Target = &t
	}
	list = append(list, stored)
	slices.SortFunc(list, func(a, b models.Snapshot) int { return cmp.Compare(a.Number, b.Number) })
	s.d.snapshots[snap.RecommendationID] = list
	return nil
}

func (s *memStore) LatestSnapshot(_ context.Context, recID string) (*models.Snapshot, error) {
	unlock, err := s.enter("LatestSnapshot")
	if err != nil {
		return nil, err
	}
	defer unlock()

	list := s.d.snapshots[recID]
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return copySnapshot(list[len(list)-1]), nil
}

func (s *memStore) LatestNotifiedSnapshot(_ context.Context, recID string) (*models.Snapshot, error) {
	unlock, err := s.enter("LatestNotifiedSnapshot")
	if err != nil {
		return nil, err
	}
	defer unlock()

	list := s.d.snapshots[recID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Notified {
			return copySnapshot(list[i]), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) ListSnapshots(_ context.Context, recID string) ([]models.Snapshot, error) {
	unlock, err := s.enter("ListSnapshots")
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []models.Snapshot
	for _, snap := range s.d.snapshots[recID] {
		out = append(out, *copySnapshot(snap))
	}
	return out, nil
}

func (s *memStore) NotifiedSnapshotsBetween(_ context.Context, from, to time.Time) ([]models.Snapshot, error) {
	unlock, err := s.enter("NotifiedSnapshotsBetween")
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []models.Snapshot
	for _, list := range s.d.snapshots {
		for _, snap := range list {
			if snap.Notified && !snap.CreatedAt.Before(from) && snap.CreatedAt.Before(to) {
				out = append(out, *copySnapshot(snap))
			}
		}
	}
	slices.SortFunc(out, func(a, b models.Snapshot) int {
		return cmp.Or(
			a.CreatedAt.Compare(b.CreatedAt),
			cmp.Compare(a.RecommendationID, b.RecommendationID),
			cmp.Compare(a.Number, b.Number),
		)
	})
	return out, nil
}

func copySnapshot(snap models.Snapshot) *models.Snapshot {
	if snap.Target != nil {
		t := *snap.Target
		snap.Target = &t
	}
	return &snap
}

// Executions

func (s *memStore) SaveExecutions(_ context.Context, execs []models.Execution) error {
	unlock, err := s.enter("SaveExecutions")
	if err != nil {
		return err
	}
	defer unlock()

	for _, e := range execs {
		s.d.executions[e.ID] = e
	}
	return nil
}

func (s *memStore) GetExecution(_ context.Context, id string) (*models.Execution, error) {
	unlock, err := s.enter("GetExecution")
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, ok := s.d.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (s *memStore) ExecutionsBetween(_ context.Context, from, to time.Time) ([]models.Execution, error) {
	unlock, err := s.enter("ExecutionsBetween")
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []models.Execution
	for _, e := range s.d.executions {
		if !e.ExecutedAt.Before(from) && e.ExecutedAt.Before(to) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b models.Execution) int {
		return cmp.Or(a.ExecutedAt.Compare(b.ExecutedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Matches

func (s *memStore) UpsertMatch(_ context.Context, m *models.Match) error {
	unlock, err := s.enter("UpsertMatch")
	if err != nil {
		return err
	}
	defer unlock()

	day := fmtDate(m.Day)
	for id, existing := range s.d.matches {
		same := false
		if m.RecommendationID != "" {
			same = existing.RecommendationID == m.RecommendationID && fmtDate(existing.Day) == day
		} else {
			same = existing.RecommendationID == "" && existing.ExecutionID == m.ExecutionID
		}
		if same {
			m.ID = id
			m.CreatedAt = existing.CreatedAt
			break
		}
	}
	if prev, ok := s.d.matches[m.ID]; ok && !sameMatchKey(prev, *m) {
		return fmt.Errorf("upsert match %s: %w: id in use", m.ID, ErrConflict)
	}
	s.d.matches[m.ID] = *m
	return nil
}

func sameMatchKey(a, b models.Match) bool {
	if a.RecommendationID != b.RecommendationID {
		return false
	}
	if a.RecommendationID == "" {
		return a.ExecutionID == b.ExecutionID
	}
	return fmtDate(a.Day) == fmtDate(b.Day)
}

func (s *memStore) DeleteMatch(_ context.Context, id string) error {
	unlock, err := s.enter("DeleteMatch")
	if err != nil {
		return err
	}
	defer unlock()

	delete(s.d.matches, id)
	delete(s.d.outcomes, id)
	return nil
}

func (s *memStore) MatchesForDays(_ context.Context, fromDay, toDay string) ([]models.Match, error) {
	unlock, err := s.enter("MatchesForDays")
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []models.Match
	for _, m := range s.d.matches {
		day := fmtDate(m.Day)
		if day >= fromDay && day <= toDay {
			out = append(out, m)
		}
	}
	sortMatches(out)
	return out, nil
}

func (s *memStore) UsedExecutionIDs(_ context.Context, excludeDay string) (map[string]bool, error) {
	unlock, err := s.enter("UsedExecutionIDs")
	if err != nil {
		return nil, err
	}
	defer unlock()

	used := make(map[string]bool)
	for _, m := range s.d.matches {
		if m.ExecutionID != "" && fmtDate(m.Day) != excludeDay {
			used[m.ExecutionID] = true
		}
	}
	return used, nil
}

func (s *memStore) MatchesAwaitingOutcome(_ context.Context) ([]models.Match, error) {
	unlock, err := s.enter("MatchesAwaitingOutcome")
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []models.Match
	for id, m := range s.d.matches {
		if _, done := s.d.outcomes[id]; m.ExecutionID != "" && !done {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b models.Match) int {
		return cmp.Or(cmp.Compare(fmtDate(a.Day), fmtDate(b.Day)), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func sortMatches(ms []models.Match) {
	slices.SortFunc(ms, func(a, b models.Match) int {
		return cmp.Or(
			cmp.Compare(fmtDate(a.Day), fmtDate(b.Day)),
			cmp.Compare(a.RecommendationID, b.RecommendationID),
			cmp.Compare(a.ExecutionID, b.ExecutionID),
		)
	})
}

// Outcomes

func (s *memStore) SaveOutcome(_ context.Context, o *models.Outcome) error {
	unlock, err := s.enter("SaveOutcome")
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := s.d.matches[o.MatchID]; !ok {
		return fmt.Errorf("save outcome %s: %w: unknown match", o.MatchID, ErrConflict)
	}
	s.d.outcomes[o.MatchID] = *o
	return nil
}

func (s *memStore) OutcomesClosedBetween(_ context.Context, from, to time.Time) ([]models.Outcome, error) {
	unlock, err := s.enter("OutcomesClosedBetween")
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []models.Outcome
	for _, o := range s.d.outcomes {
		if !o.ClosedAt.Before(from) && o.ClosedAt.Before(to) {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b models.Outcome) int {
		return cmp.Or(a.ClosedAt.Compare(b.ClosedAt), cmp.Compare(a.MatchID, b.MatchID))
	})
	return out, nil
}

// Weekly summaries

func (s *memStore) SaveWeeklySummary(_ context.Context, ws *models.WeeklySummary) error {
	unlock, err := s.enter("SaveWeeklySummary")
	if err != nil {
		return err
	}
	defer unlock()

	s.d.weekly[[2]int{ws.Year, ws.Week}] = *ws
	return nil
}

func (s *memStore) GetWeeklySummary(_ context.Context, year, week int) (*models.WeeklySummary, error) {
	unlock, err := s.enter("GetWeeklySummary")
	if err != nil {
		return nil, err
	}
	defer unlock()

	ws, ok := s.d.weekly[[2]int{year, week}]
	if !ok {
		return nil, ErrNotFound
	}
	return &ws, nil
}
