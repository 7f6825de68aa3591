package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/eddiefleurent/strike_advisor/internal/models"
)

const (
	// fixed-width so TEXT comparisons order chronologically
	timeLayout = "2006-01-02T15:04:05.000000000Z"
	dayLayout  = "2006-01-02"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// sqlStore implements Store over either the database or an open transaction.
type sqlStore struct {
	q querier
}

// SQLiteStorage persists advisor state in a SQLite database.
type SQLiteStorage struct {
	*sqlStore
	db *sql.DB
}

// NewSQLiteStorage opens (creating if needed) the database at path and applies the schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: the pragmas below are per-connection and SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStorage{sqlStore: &sqlStore{q: db}, db: db}, nil
}

// WithTx runs fn inside a database transaction, committing only if fn succeeds.
func (s *SQLiteStorage) WithTx(ctx context.Context, fn func(tx Store) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&sqlStore{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- recommendations ---

const recommendationColumns = `id, position_key, symbol, account, option_type, strike, expiration,
	contracts, original_premium, status, resolution_reason, days_active, last_snapshot_number,
	created_at, updated_at, resolved_at`

func (s *sqlStore) GetRecommendation(ctx context.Context, id string) (*models.Recommendation, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+recommendationColumns+` FROM recommendations WHERE id = ?`, id)
	rec, err := scanRecommendation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recommendation %s: %w", id, err)
	}
	return rec, nil
}

func (s *sqlStore) SaveRecommendation(ctx context.Context, rec *models.Recommendation) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO recommendations (`+recommendationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			resolution_reason = excluded.resolution_reason,
			days_active = excluded.days_active,
			last_snapshot_number = excluded.last_snapshot_number,
			updated_at = excluded.updated_at,
			resolved_at = excluded.resolved_at`,
		rec.ID, rec.PositionKey, rec.Symbol, rec.Account, string(rec.OptionType), rec.Strike,
		fmtDate(rec.Expiration), rec.Contracts, rec.OriginalPremium, string(rec.Status),
		rec.ResolutionReason, rec.DaysActive, rec.LastSnapshotNumber,
		fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt), fmtTime(rec.ResolvedAt),
	)
	if err != nil {
		return wrapWrite(fmt.Sprintf("save recommendation %s", rec.ID), err)
	}
	return nil
}

func (s *sqlStore) ListRecommendations(ctx context.Context, status models.RecommendationStatus) ([]models.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + ` FROM recommendations`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	var out []models.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanRecommendation(r rowScanner) (*models.Recommendation, error) {
	var (
		rec                          models.Recommendation
		optType, status, exp         string
		createdAt, updatedAt, resolv string
	)
	if err := r.Scan(&rec.ID, &rec.PositionKey, &rec.Symbol, &rec.Account, &optType, &rec.Strike, &exp,
		&rec.Contracts, &rec.OriginalPremium, &status, &rec.ResolutionReason, &rec.DaysActive,
		&rec.LastSnapshotNumber, &createdAt, &updatedAt, &resolv); err != nil {
		return nil, err
	}
	rec.OptionType = models.OptionType(optType)
	rec.Status = models.RecommendationStatus(status)

	var err error
	if rec.Expiration, err = parseDate(exp); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if rec.ResolvedAt, err = parseTime(resolv); err != nil {
		return nil, err
	}
	return &rec, nil
}

// --- snapshots ---

const snapshotColumns = `id, recommendation_id, number, action, priority, reason,
	target_strike, target_expiration, target_net_cost, target_premium,
	detail, technical_summary, rationale, market,
	action_changed, target_changed, priority_changed, notified, verdict_reason, created_at`

func (s *sqlStore) InsertSnapshot(ctx context.Context, snap *models.Snapshot) error {
	detail, err := models.EncodeDetail(snap.Detail)
	if err != nil {
		return err
	}
	market, err := json.Marshal(snap.Market)
	if err != nil {
		return fmt.Errorf("encode market context: %w", err)
	}

	var tStrike, tNet, tPrem sql.NullFloat64
	var tExp sql.NullString
	if t := snap.Target; t != nil {
		tStrike = sql.NullFloat64{Float64: t.Strike, Valid: true}
		tExp = sql.NullString{String: fmtDate(t.Expiration), Valid: true}
		tNet = sql.NullFloat64{Float64: t.NetCost, Valid: true}
		tPrem = sql.NullFloat64{Float64: t.Premium, Valid: true}
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.RecommendationID, snap.Number, string(snap.Action), string(snap.Priority), snap.Reason,
		tStrike, tExp, tNet, tPrem,
		detail, snap.TechnicalSummary, snap.Rationale, string(market),
		snap.ActionChanged, snap.TargetChanged, snap.PriorityChanged, snap.Notified,
		string(snap.VerdictReason), fmtTime(snap.CreatedAt),
	)
	if err != nil {
		return wrapWrite(fmt.Sprintf("insert snapshot %s #%d", snap.RecommendationID, snap.Number), err)
	}
	return nil
}

func (s *sqlStore) LatestSnapshot(ctx context.Context, recID string) (*models.Snapshot, error) {
	return s.oneSnapshot(ctx, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE recommendation_id = ? ORDER BY number DESC LIMIT 1`, recID)
}

func (s *sqlStore) LatestNotifiedSnapshot(ctx context.Context, recID string) (*models.Snapshot, error) {
	return s.oneSnapshot(ctx, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE recommendation_id = ? AND notified = 1 ORDER BY number DESC LIMIT 1`, recID)
}

func (s *sqlStore) ListSnapshots(ctx context.Context, recID string) ([]models.Snapshot, error) {
	return s.manySnapshots(ctx, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE recommendation_id = ? ORDER BY number`, recID)
}

func (s *sqlStore) NotifiedSnapshotsBetween(ctx context.Context, from, to time.Time) ([]models.Snapshot, error) {
	return s.manySnapshots(ctx, `SELECT `+snapshotColumns+` FROM snapshots
		WHERE notified = 1 AND created_at >= ? AND created_at < ?
		ORDER BY created_at, recommendation_id, number`, fmtTime(from), fmtTime(to))
}

func (s *sqlStore) oneSnapshot(ctx context.Context, query string, args ...any) (*models.Snapshot, error) {
	snap, err := scanSnapshot(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

func (s *sqlStore) manySnapshots(ctx context.Context, query string, args ...any) ([]models.Snapshot, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

func scanSnapshot(r rowScanner) (*models.Snapshot, error) {
	var (
		snap                                models.Snapshot
		action, priority, verdict           string
		detail, market, createdAt           string
		tStrike, tNet, tPrem                sql.NullFloat64
		tExp                                sql.NullString
		actionChg, targetChg, prioChg, noti bool
	)
	if err := r.Scan(&snap.ID, &snap.RecommendationID, &snap.Number, &action, &priority, &snap.Reason,
		&tStrike, &tExp, &tNet, &tPrem,
		&detail, &snap.TechnicalSummary, &snap.Rationale, &market,
		&actionChg, &targetChg, &prioChg, &noti, &verdict, &createdAt); err != nil {
		return nil, err
	}
	snap.Action = models.Action(action)
	snap.Priority = models.Priority(priority)
	snap.VerdictReason = models.VerdictReason(verdict)
	snap.ActionChanged, snap.TargetChanged, snap.PriorityChanged, snap.Notified = actionChg, targetChg, prioChg, noti

	var err error
	if tStrike.Valid {
		t := &models.Target{Strike: tStrike.Float64, NetCost: tNet.Float64, Premium: tPrem.Float64}
		if t.Expiration, err = parseDate(tExp.String); err != nil {
			return nil, err
		}
		snap.Target = t
	}
	if snap.Detail, err = models.DecodeDetail(snap.Action, detail); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(market), &snap.Market); err != nil {
		return nil, fmt.Errorf("decode market context: %w", err)
	}
	if snap.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &snap, nil
}

// --- executions ---

const executionColumns = `id, symbol, account, option_type, action, strike, expiration, premium, contracts, executed_at`

func (s *sqlStore) SaveExecutions(ctx context.Context, execs []models.Execution) error {
	for _, e := range execs {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO executions (`+executionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				symbol = excluded.symbol,
				account = excluded.account,
				option_type = excluded.option_type,
				action = excluded.action,
				strike = excluded.strike,
				expiration = excluded.expiration,
				premium = excluded.premium,
				contracts = excluded.contracts,
				executed_at = excluded.executed_at`,
			e.ID, e.Symbol, e.Account, string(e.OptionType), string(e.Action), e.Strike,
			fmtDate(e.Expiration), e.Premium, e.Contracts, fmtTime(e.ExecutedAt),
		)
		if err != nil {
			return wrapWrite(fmt.Sprintf("save execution %s", e.ID), err)
		}
	}
	return nil
}

func (s *sqlStore) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	e, err := scanExecution(s.q.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	return e, nil
}

func (s *sqlStore) ExecutionsBetween(ctx context.Context, from, to time.Time) ([]models.Execution, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+executionColumns+` FROM executions
		WHERE executed_at >= ? AND executed_at < ? ORDER BY executed_at, id`, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []models.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanExecution(r rowScanner) (*models.Execution, error) {
	var (
		e                     models.Execution
		optType, action       string
		expiration, executedA string
	)
	if err := r.Scan(&e.ID, &e.Symbol, &e.Account, &optType, &action, &e.Strike, &expiration,
		&e.Premium, &e.Contracts, &executedA); err != nil {
		return nil, err
	}
	e.OptionType = models.OptionType(optType)
	e.Action = models.ExecutionAction(action)

	var err error
	if e.Expiration, err = parseDate(expiration); err != nil {
		return nil, err
	}
	if e.ExecutedAt, err = parseTime(executedA); err != nil {
		return nil, err
	}
	return &e, nil
}

// --- matches ---

const matchColumns = `id, day, recommendation_id, snapshot_id, execution_id, symbol, classification,
	recommended_action, recommended_priority, confidence, recommended_premium,
	strike_delta_pct, expiration_delta_days, premium_delta_pct, created_at, updated_at`

// UpsertMatch inserts m or updates the row with the same natural key: (recommendation, day)
// for recommendation matches, execution for independent ones. m.ID and m.CreatedAt are
// replaced by the existing row's values when one is found.
func (s *sqlStore) UpsertMatch(ctx context.Context, m *models.Match) error {
	var (
		query string
		args  []any
	)
	if m.RecommendationID != "" {
		query = `SELECT id, created_at FROM matches WHERE recommendation_id = ? AND day = ?`
		args = []any{m.RecommendationID, fmtDate(m.Day)}
	} else {
		query = `SELECT id, created_at FROM matches WHERE recommendation_id = '' AND execution_id = ?`
		args = []any{m.ExecutionID}
	}

	var id, createdAt string
	err := s.q.QueryRowContext(ctx, query, args...).Scan(&id, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.q.ExecContext(ctx, `INSERT INTO matches (`+matchColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, matchArgs(m)...)
		if err != nil {
			return wrapWrite(fmt.Sprintf("insert match %s", m.ID), err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("find match: %w", err)
	}

	m.ID = id
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		UPDATE matches SET
			day = ?, snapshot_id = ?, execution_id = ?, symbol = ?, classification = ?,
			recommended_action = ?, recommended_priority = ?, confidence = ?, recommended_premium = ?,
			strike_delta_pct = ?, expiration_delta_days = ?, premium_delta_pct = ?, updated_at = ?
		WHERE id = ?`,
		fmtDate(m.Day), m.SnapshotID, m.ExecutionID, m.Symbol, string(m.Classification),
		string(m.RecommendedAction), string(m.RecommendedPriority), m.Confidence, m.RecommendedPremium,
		m.StrikeDeltaPct, m.ExpirationDeltaDays, m.PremiumDeltaPct, fmtTime(m.UpdatedAt), m.ID,
	)
	if err != nil {
		return wrapWrite(fmt.Sprintf("update match %s", m.ID), err)
	}
	return nil
}

func matchArgs(m *models.Match) []any {
	return []any{
		m.ID, fmtDate(m.Day), m.RecommendationID, m.SnapshotID, m.ExecutionID, m.Symbol,
		string(m.Classification), string(m.RecommendedAction), string(m.RecommendedPriority),
		m.Confidence, m.RecommendedPremium, m.StrikeDeltaPct, m.ExpirationDeltaDays,
		m.PremiumDeltaPct, fmtTime(m.CreatedAt), fmtTime(m.UpdatedAt),
	}
}

func (s *sqlStore) DeleteMatch(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM matches WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete match %s: %w", id, err)
	}
	return nil
}

func (s *sqlStore) MatchesForDays(ctx context.Context, fromDay, toDay string) ([]models.Match, error) {
	return s.manyMatches(ctx, `SELECT `+matchColumns+` FROM matches
		WHERE day >= ? AND day <= ? ORDER BY day, recommendation_id, execution_id`, fromDay, toDay)
}

func (s *sqlStore) MatchesAwaitingOutcome(ctx context.Context) ([]models.Match, error) {
	return s.manyMatches(ctx, `SELECT `+prefixed("m.", matchColumns)+` FROM matches m
		LEFT JOIN outcomes o ON o.match_id = m.id
		WHERE m.execution_id <> '' AND o.match_id IS NULL
		ORDER BY m.day, m.id`)
}

func (s *sqlStore) UsedExecutionIDs(ctx context.Context, excludeDay string) (map[string]bool, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT execution_id FROM matches WHERE execution_id <> '' AND day <> ?`, excludeDay)
	if err != nil {
		return nil, fmt.Errorf("used executions: %w", err)
	}
	defer rows.Close()

	used := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		used[id] = true
	}
	return used, rows.Err()
}

func (s *sqlStore) manyMatches(ctx context.Context, query string, args ...any) ([]models.Match, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var out []models.Match
	for rows.Next() {
		var (
			m                        models.Match
			day, class, action, prio string
			createdAt, updatedAt     string
		)
		if err := rows.Scan(&m.ID, &day, &m.RecommendationID, &m.SnapshotID, &m.ExecutionID, &m.Symbol,
			&class, &action, &prio, &m.Confidence, &m.RecommendedPremium,
			&m.StrikeDeltaPct, &m.ExpirationDeltaDays, &m.PremiumDeltaPct, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		m.Classification = models.Classification(class)
		m.RecommendedAction = models.Action(action)
		m.RecommendedPriority = models.Priority(prio)
		if m.Day, err = parseDate(day); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- outcomes ---

func (s *sqlStore) SaveOutcome(ctx context.Context, o *models.Outcome) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO outcomes (match_id, result, closing_execution_id, realized_premium, net_profit, closed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(match_id) DO UPDATE SET
			result = excluded.result,
			closing_execution_id = excluded.closing_execution_id,
			realized_premium = excluded.realized_premium,
			net_profit = excluded.net_profit,
			closed_at = excluded.closed_at`,
		o.MatchID, string(o.Result), o.ClosingExecution, o.RealizedPremium, o.NetProfit, fmtTime(o.ClosedAt),
	)
	if err != nil {
		return wrapWrite(fmt.Sprintf("save outcome %s", o.MatchID), err)
	}
	return nil
}

func (s *sqlStore) OutcomesClosedBetween(ctx context.Context, from, to time.Time) ([]models.Outcome, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT match_id, result, closing_execution_id, realized_premium, net_profit, closed_at
		FROM outcomes WHERE closed_at >= ? AND closed_at < ? ORDER BY closed_at, match_id`,
		fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []models.Outcome
	for rows.Next() {
		var (
			o                models.Outcome
			result, closedAt string
		)
		if err := rows.Scan(&o.MatchID, &result, &o.ClosingExecution, &o.RealizedPremium, &o.NetProfit, &closedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Result = models.OutcomeResult(result)
		if o.ClosedAt, err = parseTime(closedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// --- weekly summaries ---

func (s *sqlStore) SaveWeeklySummary(ctx context.Context, ws *models.WeeklySummary) error {
	payload, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("encode weekly summary: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO weekly_summaries (year, week, payload, generated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(year, week) DO UPDATE SET payload = excluded.payload, generated_at = excluded.generated_at`,
		ws.Year, ws.Week, string(payload), fmtTime(ws.GeneratedAt),
	)
	if err != nil {
		return wrapWrite(fmt.Sprintf("save weekly summary %d-W%02d", ws.Year, ws.Week), err)
	}
	return nil
}

func (s *sqlStore) GetWeeklySummary(ctx context.Context, year, week int) (*models.WeeklySummary, error) {
	var payload string
	err := s.q.QueryRowContext(ctx, `SELECT payload FROM weekly_summaries WHERE year = ? AND week = ?`,
		year, week).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get weekly summary: %w", err)
	}
	var ws models.WeeklySummary
	if err := json.Unmarshal([]byte(payload), &ws); err != nil {
		return nil, fmt.Errorf("decode weekly summary: %w", err)
	}
	return &ws, nil
}

// --- helpers ---

func wrapWrite(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// fmtDate keeps the calendar date as written, regardless of location.
func fmtDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dayLayout)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}
