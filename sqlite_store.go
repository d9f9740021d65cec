package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS study_plans (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		deadline TEXT NOT NULL,
		created_on TEXT NOT NULL,
		days_left INTEGER NOT NULL,
		syllabus_name TEXT NOT NULL DEFAULT '',
		syllabus_key TEXT NOT NULL DEFAULT '',
		syllabus_loaded INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		markdown TEXT NOT NULL DEFAULT '',
		schedule_rows TEXT NOT NULL DEFAULT '[]',
		total_hours REAL NOT NULL DEFAULT 0,
		warning TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_study_plans_created_at ON study_plans(created_at DESC)`,
}

// Fixed-width so created_at sorts lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqlitePlanColumns = `id, subject, deadline, created_on, days_left, syllabus_name, syllabus_key,
	syllabus_loaded, status, markdown, schedule_rows, total_hours, warning, error, created_at, updated_at`

// OpenSQLite opens (and migrates) a SQLite database at path. ":memory:" is
// an in-memory database pinned to a single connection.
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	for i, stmt := range sqliteMigrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return db, nil
}

type sqliteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(db *sql.DB) PlanStore {
	return &sqliteStore{db: db, now: time.Now}
}

func (s *sqliteStore) Create(ctx context.Context, plan *StudyPlan) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO study_plans (id, subject, deadline, created_on, days_left, syllabus_name,
			syllabus_key, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID.String(), plan.Subject, plan.Deadline.Format(dateLayout), plan.CreatedOn.Format(dateLayout),
		plan.DaysLeft, plan.SyllabusName, plan.SyllabusKey, string(plan.Status),
		now.Format(sqliteTimeLayout), now.Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("creating study plan: %w", err)
	}
	plan.CreatedAt, plan.UpdatedAt = now, now
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, id uuid.UUID) (*StudyPlan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePlanColumns+` FROM study_plans WHERE id = ?`, id.String())
	plan, err := scanSQLitePlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting study plan: %w", err)
	}
	return plan, nil
}

func (s *sqliteStore) UpdateStatus(ctx context.Context, id uuid.UUID, status PlanStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE study_plans SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.now().UTC().Format(sqliteTimeLayout), id.String())
	if err != nil {
		return fmt.Errorf("updating study plan status: %w", err)
	}
	return requireAffected(res)
}

func (s *sqliteStore) SaveResult(ctx context.Context, plan *StudyPlan) error {
	rows, err := marshalRows(plan.Rows)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE study_plans SET status = ?, markdown = ?, schedule_rows = ?, total_hours = ?,
			syllabus_loaded = ?, syllabus_key = ?, warning = ?, error = ?, updated_at = ?
		 WHERE id = ?`,
		string(plan.Status), plan.Markdown, string(rows), plan.TotalHours,
		plan.SyllabusLoaded, plan.SyllabusKey, plan.Warning, plan.Error,
		now.Format(sqliteTimeLayout), plan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("saving study plan result: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	plan.UpdatedAt = now
	return nil
}

func (s *sqliteStore) ListRecent(ctx context.Context, limit int) ([]StudyPlan, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePlanColumns+` FROM study_plans ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing study plans: %w", err)
	}
	defer rows.Close()

	var out []StudyPlan
	for rows.Next() {
		plan, err := scanSQLitePlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning study plan: %w", err)
		}
		out = append(out, *plan)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLitePlan(row rowScanner) (*StudyPlan, error) {
	var (
		p                                         StudyPlan
		id, deadline, createdOn, status, rowsJSON string
		createdAt, updatedAt                      string
	)
	if err := row.Scan(&id, &p.Subject, &deadline, &createdOn, &p.DaysLeft, &p.SyllabusName,
		&p.SyllabusKey, &p.SyllabusLoaded, &status, &p.Markdown, &rowsJSON, &p.TotalHours,
		&p.Warning, &p.Error, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing plan id: %w", err)
	}
	if p.Deadline, err = time.Parse(dateLayout, deadline); err != nil {
		return nil, fmt.Errorf("parsing deadline: %w", err)
	}
	if p.CreatedOn, err = time.Parse(dateLayout, createdOn); err != nil {
		return nil, fmt.Errorf("parsing created_on: %w", err)
	}
	if p.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(sqliteTimeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if p.Rows, err = unmarshalRows([]byte(rowsJSON)); err != nil {
		return nil, err
	}
	p.Status = PlanStatus(status)
	return &p, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPlanNotFound
	}
	return nil
}
