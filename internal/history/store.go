// Package history records every docking attempt in a SQLite database and
// answers the queries behind the "history" commands.
package history

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

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/dockpipe/internal/models"
)

// Run statuses
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ErrNotFound is returned by Get when no run matches.
var ErrNotFound = errors.New("run not found")

// Run is one recorded docking attempt.
type Run struct {
	ID           string        `json:"id"`
	Target       string        `json:"target"`
	Smiles       string        `json:"smiles"`
	Canonical    string        `json:"canonical,omitempty"`
	Seed         int64         `json:"seed"`
	CPUs         int           `json:"cpus,omitempty"`
	Status       string        `json:"status"`
	ErrorKind    string        `json:"error_kind,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Best         *float64      `json:"best_score,omitempty"` // nil for failed runs
	Scores       []float64     `json:"scores,omitempty"`
	Digest       string        `json:"geometry_digest,omitempty"`
	Formula      string        `json:"formula,omitempty"`
	Duration     time.Duration `json:"duration"`
	StartedAt    time.Time     `json:"started_at"`

	// UnseededEmbedding marks a run whose starting conformer ignored Seed.
	UnseededEmbedding bool `json:"unseeded_embedding,omitempty"`
}

// Succeeded reports whether the run produced scores.
func (r *Run) Succeeded() bool {
	return r.Status == StatusSuccess
}

// RunFromDock converts a finished Dock call into a Run. res is nil when
// dockErr is set.
func RunFromDock(req models.DockRequest, res *models.DockResult, dockErr error) *Run {
	run := &Run{
		ID:        req.ID,
		Target:    req.Target,
		Smiles:    req.Smiles,
		Canonical: req.Canonical,
		Seed:      req.Seed,
		CPUs:      req.CPUs,
		StartedAt: time.Now(),
	}
	if dockErr != nil {
		run.Status = StatusFailed
		run.ErrorKind = models.KindOf(dockErr).String()
		run.ErrorMessage = dockErr.Error()
		return run
	}
	best := res.Best
	run.Status = StatusSuccess
	run.Best = &best
	run.Scores = res.Scores()
	run.Digest = res.Digest
	run.Formula = res.Formula
	run.UnseededEmbedding = res.UnseededEmbedding
	run.Duration = res.Duration
	if !res.StartedAt.IsZero() {
		run.StartedAt = res.StartedAt
	}
	if res.Request.Canonical != "" {
		run.Canonical = res.Request.Canonical
	}
	return run
}

// Store manages the SQLite database of docking runs
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new Store instance and initializes the database
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	return openAndInitStore(dbPath)
}

func openAndInitStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	// busy_timeout first so the remaining pragmas wait on locks held by
	// concurrent processes opening the same file
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

// execWithRetry executes a SQL statement with exponential backoff retry on lock errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record inserts run. A missing ID is generated and StartedAt defaults to now.
func (s *Store) Record(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status != StatusSuccess && run.Status != StatusFailed {
		return fmt.Errorf("invalid run status %q", run.Status)
	}

	scoresJSON := "[]"
	if len(run.Scores) > 0 {
		data, err := json.Marshal(run.Scores)
		if err != nil {
			return fmt.Errorf("marshal scores: %w", err)
		}
		scoresJSON = string(data)
	}
	var best sql.NullFloat64
	if run.Best != nil {
		best = sql.NullFloat64{Float64: *run.Best, Valid: true}
	}

	query := `INSERT INTO dock_runs
		(id, target, smiles, canonical, seed, cpus, status, error_kind, error_message, best_score, scores, digest, formula, unseeded_embedding, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Target,
		run.Smiles,
		run.Canonical,
		run.Seed,
		run.CPUs,
		run.Status,
		run.ErrorKind,
		run.ErrorMessage,
		best,
		scoresJSON,
		run.Digest,
		run.Formula,
		run.UnseededEmbedding,
		run.Duration.Milliseconds(),
		run.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert dock run: %w", err)
	}
	return nil
}

// RecordDock records a finished Dock call.
func (s *Store) RecordDock(ctx context.Context, req models.DockRequest, res *models.DockResult, dockErr error) error {
	return s.Record(ctx, RunFromDock(req, res, dockErr))
}

const runColumns = `id, target, smiles, canonical, seed, cpus, status, error_kind, error_message, best_score, scores, digest, formula, unseeded_embedding, duration_ms, started_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var canonical, errorKind, errorMessage, scores, digest, formula sql.NullString
	var best sql.NullFloat64
	var durationMs, startedAt int64
	err := row.Scan(
		&run.ID,
		&run.Target,
		&run.Smiles,
		&canonical,
		&run.Seed,
		&run.CPUs,
		&run.Status,
		&errorKind,
		&errorMessage,
		&best,
		&scores,
		&digest,
		&formula,
		&run.UnseededEmbedding,
		&durationMs,
		&startedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Canonical = canonical.String
	run.ErrorKind = errorKind.String
	run.ErrorMessage = errorMessage.String
	run.Digest = digest.String
	run.Formula = formula.String
	if best.Valid {
		v := best.Float64
		run.Best = &v
	}
	if scores.Valid && scores.String != "" {
		if err := json.Unmarshal([]byte(scores.String), &run.Scores); err != nil {
			return nil, fmt.Errorf("unmarshal scores: %w", err)
		}
	}
	run.Duration = time.Duration(durationMs) * time.Millisecond
	run.StartedAt = time.UnixMilli(startedAt)
	return run, nil
}

// Get returns the run with id. A unique id prefix is accepted.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + runColumns + ` FROM dock_runs WHERE id = ? OR id LIKE ? ESCAPE '\' ORDER BY started_at DESC LIMIT 2`
	rows, err := s.db.QueryContext(ctx, query, id, escapeLike(id)+"%")
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	var found []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		if run.ID == id {
			return run, nil
		}
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
}

// escapeLike makes id safe for a LIKE pattern.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return r.Replace(s)
}

// Filter narrows List results. Zero fields do not filter.
type Filter struct {
	Target string
	Status string
	Since  time.Time
	Limit  int
}

// List returns runs matching f, most recent first.
func (s *Store) List(ctx context.Context, f Filter) ([]*Run, error) {
	var where []string
	var args []interface{}
	if f.Target != "" {
		where = append(where, "target = ?")
		args = append(args, f.Target)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, f.Since.UnixMilli())
	}

	query := `SELECT ` + runColumns + ` FROM dock_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

// TargetStats aggregates the runs of one target.
type TargetStats struct {
	Target    string
	Runs      int
	Succeeded int
	Failed    int
	Ligands   int // distinct canonical SMILES that docked
	BestScore *float64
	MeanBest  *float64
	LastRun   time.Time
}

// SuccessRate returns Succeeded/Runs, or 0 without runs.
func (t TargetStats) SuccessRate() float64 {
	if t.Runs == 0 {
		return 0
	}
	return float64(t.Succeeded) / float64(t.Runs)
}

// Stats aggregates runs per target. An empty target returns every target.
func (s *Store) Stats(ctx context.Context, target string) ([]TargetStats, error) {
	query := `
		SELECT
			target,
			COUNT(*),
			COUNT(CASE WHEN status = 'success' THEN 1 END),
			COUNT(DISTINCT CASE WHEN status = 'success' THEN canonical END),
			MIN(best_score),
			AVG(best_score),
			MAX(started_at)
		FROM dock_runs`
	var args []interface{}
	if target != "" {
		query += " WHERE target = ?"
		args = append(args, target)
	}
	query += " GROUP BY target ORDER BY target"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var stats []TargetStats
	for rows.Next() {
		var st TargetStats
		var best, mean sql.NullFloat64
		var last int64
		if err := rows.Scan(&st.Target, &st.Runs, &st.Succeeded, &st.Ligands, &best, &mean, &last); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		st.Failed = st.Runs - st.Succeeded
		if best.Valid {
			v := best.Float64
			st.BestScore = &v
		}
		if mean.Valid {
			v := mean.Float64
			st.MeanBest = &v
		}
		st.LastRun = time.UnixMilli(last)
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats rows: %w", err)
	}
	return stats, nil
}

// Prune removes runs started before olderThan and returns how many were deleted.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM dock_runs WHERE started_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return deleted, nil
}

// PruneDays removes runs older than keepDays days. 0 or negative keeps everything.
func (s *Store) PruneDays(ctx context.Context, keepDays int) (int64, error) {
	if keepDays <= 0 {
		return 0, nil
	}
	return s.Prune(ctx, time.Now().AddDate(0, 0, -keepDays))
}
