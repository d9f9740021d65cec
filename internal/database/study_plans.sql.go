package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const createStudyPlan = `-- name: CreateStudyPlan :one
INSERT INTO study_plans (
id, subject, deadline, created_on, days_left, syllabus_name, syllabus_key, status)
VALUES ( $1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at, updated_at
`

type CreateStudyPlanParams struct {
	ID           uuid.UUID
	Subject      string
	Deadline     time.Time
	CreatedOn    time.Time
	DaysLeft     int32
	SyllabusName string
	SyllabusKey  string
	Status       string
}

type CreateStudyPlanRow struct {
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (q *Queries) CreateStudyPlan(ctx context.Context, arg CreateStudyPlanParams) (CreateStudyPlanRow, error) {
	row := q.db.QueryRowContext(ctx, createStudyPlan,
		arg.ID,
		arg.Subject,
		arg.Deadline,
		arg.CreatedOn,
		arg.DaysLeft,
		arg.SyllabusName,
		arg.SyllabusKey,
		arg.Status,
	)
	var i CreateStudyPlanRow
	err := row.Scan(&i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const getStudyPlan = `-- name: GetStudyPlan :one
SELECT id, subject, deadline, created_on, days_left, syllabus_name, syllabus_key, syllabus_loaded, status, markdown, schedule_rows, total_hours, warning, error, created_at, updated_at FROM study_plans WHERE id=$1
`

func (q *Queries) GetStudyPlan(ctx context.Context, id uuid.UUID) (StudyPlan, error) {
	row := q.db.QueryRowContext(ctx, getStudyPlan, id)
	var i StudyPlan
	err := row.Scan(
		&i.ID,
		&i.Subject,
		&i.Deadline,
		&i.CreatedOn,
		&i.DaysLeft,
		&i.SyllabusName,
		&i.SyllabusKey,
		&i.SyllabusLoaded,
		&i.Status,
		&i.Markdown,
		&i.Rows,
		&i.TotalHours,
		&i.Warning,
		&i.Error,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const updateStudyPlanStatus = `-- name: UpdateStudyPlanStatus :execrows
UPDATE study_plans
SET status=$1, updated_at = CURRENT_TIMESTAMP
WHERE id=$2
`

type UpdateStudyPlanStatusParams struct {
	Status string
	ID     uuid.UUID
}

func (q *Queries) UpdateStudyPlanStatus(ctx context.Context, arg UpdateStudyPlanStatusParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateStudyPlanStatus, arg.Status, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const saveStudyPlanResult = `-- name: SaveStudyPlanResult :one
UPDATE study_plans
SET status=$1, markdown=$2, schedule_rows=$3, total_hours=$4, syllabus_loaded=$5,
    syllabus_key=$6, warning=$7, error=$8, updated_at = CURRENT_TIMESTAMP
WHERE id=$9
RETURNING updated_at
`

type SaveStudyPlanResultParams struct {
	Status         string
	Markdown       string
	Rows           json.RawMessage
	TotalHours     float64
	SyllabusLoaded bool
	SyllabusKey    string
	Warning        string
	Error          string
	ID             uuid.UUID
}

func (q *Queries) SaveStudyPlanResult(ctx context.Context, arg SaveStudyPlanResultParams) (time.Time, error) {
	row := q.db.QueryRowContext(ctx, saveStudyPlanResult,
		arg.Status,
		arg.Markdown,
		arg.Rows,
		arg.TotalHours,
		arg.SyllabusLoaded,
		arg.SyllabusKey,
		arg.Warning,
		arg.Error,
		arg.ID,
	)
	var updated_at time.Time
	err := row.Scan(&updated_at)
	return updated_at, err
}

const listRecentStudyPlans = `-- name: ListRecentStudyPlans :many
SELECT id, subject, deadline, created_on, days_left, syllabus_name, syllabus_key, syllabus_loaded, status, markdown, schedule_rows, total_hours, warning, error, created_at, updated_at FROM study_plans ORDER BY created_at DESC LIMIT $1
`

func (q *Queries) ListRecentStudyPlans(ctx context.Context, maxRows sql.NullInt32) ([]StudyPlan, error) {
	rows, err := q.db.QueryContext(ctx, listRecentStudyPlans, maxRows)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []StudyPlan
	for rows.Next() {
		var i StudyPlan
		if err := rows.Scan(
			&i.ID,
			&i.Subject,
			&i.Deadline,
			&i.CreatedOn,
			&i.DaysLeft,
			&i.SyllabusName,
			&i.SyllabusKey,
			&i.SyllabusLoaded,
			&i.Status,
			&i.Markdown,
			&i.Rows,
			&i.TotalHours,
			&i.Warning,
			&i.Error,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
