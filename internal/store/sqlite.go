package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/verdict/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer; watch mode and the MCP server
	// may record from different goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Council runs ---

const councilRunColumns = `id, repo, pr_number, head_sha, verdict, summary, total, pass, warn, fail, skip,
	parse_failures_reclassified, skip_rate, parse_failure_rate, override_used, override_actor,
	council_json, report_json, created_at`

// RecordCouncilRun stores a run and its members in one transaction.
func (s *SQLiteStore) RecordCouncilRun(ctx context.Context, run *models.CouncilRun, reviewers []*models.ReviewerRun) error {
	if run.ID == "" {
		run.ID = newULID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO council_runs (`+councilRunColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Repo, run.PRNumber, run.HeadSHA, string(run.Verdict), run.Summary,
		run.Total, run.Pass, run.Warn, run.Fail, run.Skip,
		run.ParseFailuresReclassified, run.SkipRate, run.ParseFailureRate,
		boolToInt(run.OverrideUsed), run.OverrideActor,
		nonEmptyJSON(run.CouncilJSON), nonEmptyJSON(run.ReportJSON), run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create council run: %w", err)
	}

	for _, r := range reviewers {
		if r.ID == "" {
			r.ID = newULID()
		}
		r.RunID = run.ID
		var runtime sql.NullFloat64
		if r.RuntimeSeconds != nil {
			runtime = sql.NullFloat64{Float64: *r.RuntimeSeconds, Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO reviewer_runs (id, run_id, reviewer, model, verdict, confidence, runtime_seconds, fallback_used, parse_failure, timeout)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.RunID, r.Reviewer, r.Model, string(r.Verdict), r.Confidence, runtime,
			boolToInt(r.FallbackUsed), boolToInt(r.ParseFailure), boolToInt(r.Timeout),
		)
		if err != nil {
			return fmt.Errorf("create reviewer run %s: %w", r.Reviewer, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit council run: %w", err)
	}
	return nil
}

func nonEmptyJSON(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCouncilRun(row rowScanner) (*models.CouncilRun, error) {
	r := &models.CouncilRun{}
	var verdict string
	err := row.Scan(&r.ID, &r.Repo, &r.PRNumber, &r.HeadSHA, &verdict, &r.Summary,
		&r.Total, &r.Pass, &r.Warn, &r.Fail, &r.Skip,
		&r.ParseFailuresReclassified, &r.SkipRate, &r.ParseFailureRate,
		&r.OverrideUsed, &r.OverrideActor, &r.CouncilJSON, &r.ReportJSON, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Verdict = models.Verdict(verdict)
	return r, nil
}

func (s *SQLiteStore) GetCouncilRun(ctx context.Context, id string) (*models.CouncilRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+councilRunColumns+` FROM council_runs WHERE id = ?`, id)
	r, err := scanCouncilRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("council run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get council run: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListCouncilRuns(ctx context.Context, filter RunListFilter) ([]*models.CouncilRun, error) {
	query := `SELECT ` + councilRunColumns + ` FROM council_runs WHERE 1=1`
	var args []any
	if filter.Repo != "" {
		query += " AND repo = ?"
		args = append(args, filter.Repo)
	}
	if filter.HeadSHA != "" {
		query += " AND head_sha LIKE ?"
		args = append(args, filter.HeadSHA+"%")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list council runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*models.CouncilRun
	for rows.Next() {
		r, err := scanCouncilRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan council run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) ListReviewerRuns(ctx context.Context, runID string) ([]*models.ReviewerRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, reviewer, model, verdict, confidence, runtime_seconds, fallback_used, parse_failure, timeout
		FROM reviewer_runs WHERE run_id = ? ORDER BY reviewer`, runID)
	if err != nil {
		return nil, fmt.Errorf("list reviewer runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.ReviewerRun
	for rows.Next() {
		r := &models.ReviewerRun{}
		var verdict string
		var runtime sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.RunID, &r.Reviewer, &r.Model, &verdict, &r.Confidence, &runtime,
			&r.FallbackUsed, &r.ParseFailure, &r.Timeout); err != nil {
			return nil, fmt.Errorf("scan reviewer run: %w", err)
		}
		r.Verdict = models.Verdict(verdict)
		if runtime.Valid {
			v := runtime.Float64
			r.RuntimeSeconds = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ModelStats aggregates every recorded reviewer run per model. An empty repo spans all repos.
func (s *SQLiteStore) ModelStats(ctx context.Context, repo string) ([]*models.ModelHistory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rr.model,
			COUNT(*),
			COALESCE(SUM(CASE WHEN rr.verdict = 'PASS' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN rr.verdict = 'WARN' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN rr.verdict = 'FAIL' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN rr.verdict = 'SKIP' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(rr.parse_failure), 0),
			COALESCE(SUM(rr.fallback_used), 0),
			AVG(rr.runtime_seconds)
		FROM reviewer_runs rr
		JOIN council_runs cr ON cr.id = rr.run_id
		WHERE (? = '' OR cr.repo = ?)
		GROUP BY rr.model
		ORDER BY rr.model`, repo, repo)
	if err != nil {
		return nil, fmt.Errorf("model stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.ModelHistory
	for rows.Next() {
		m := &models.ModelHistory{}
		var avg sql.NullFloat64
		if err := rows.Scan(&m.Model, &m.Reviews, &m.Pass, &m.Warn, &m.Fail, &m.Skip,
			&m.ParseFailures, &m.Fallbacks, &avg); err != nil {
			return nil, fmt.Errorf("scan model stats: %w", err)
		}
		if avg.Valid {
			m.AvgRuntimeSeconds = avg.Float64
		}
		if m.Reviews > 0 {
			n := float64(m.Reviews)
			m.SuccessRate = float64(m.Reviews-m.Skip) / n
			m.SkipRate = float64(m.Skip) / n
			m.FallbackRate = float64(m.Fallbacks) / n
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Gate runs ---

func (s *SQLiteStore) RecordGateRun(ctx context.Context, run *models.GateRun) error {
	if run.ID == "" {
		run.ID = newULID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gate_runs (id, repo, head_sha, wave, tier, escalate, blocking, reason, next_wave, result_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Repo, run.HeadSHA, run.Wave, run.Tier,
		boolToInt(run.Escalate), boolToInt(run.Blocking), run.Reason, run.NextWave,
		nonEmptyJSON(run.ResultJSON), run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create gate run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListGateRuns(ctx context.Context, headSHA string, limit int) ([]*models.GateRun, error) {
	query := `SELECT id, repo, head_sha, wave, tier, escalate, blocking, reason, next_wave, result_json, created_at
		FROM gate_runs WHERE (? = '' OR head_sha LIKE ?) ORDER BY created_at DESC, id DESC`
	args := []any{headSHA, headSHA + "%"}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list gate runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.GateRun
	for rows.Next() {
		g := &models.GateRun{}
		if err := rows.Scan(&g.ID, &g.Repo, &g.HeadSHA, &g.Wave, &g.Tier, &g.Escalate, &g.Blocking,
			&g.Reason, &g.NextWave, &g.ResultJSON, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan gate run: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
