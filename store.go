package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/muhammadolammi/studyplanner/internal/database"
)

// PlanStore persists study plans and their generation status.
type PlanStore interface {
	Create(ctx context.Context, plan *StudyPlan) error
	Get(ctx context.Context, id uuid.UUID) (*StudyPlan, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status PlanStatus) error
	SaveResult(ctx context.Context, plan *StudyPlan) error
	ListRecent(ctx context.Context, limit int) ([]StudyPlan, error)
}

type memoryStore struct {
	mu    sync.RWMutex
	plans map[uuid.UUID]StudyPlan
	now   func() time.Time
}

func NewMemoryStore() PlanStore {
	return &memoryStore{
		plans: make(map[uuid.UUID]StudyPlan),
		now:   time.Now,
	}
}

func (s *memoryStore) Create(_ context.Context, plan *StudyPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[plan.ID]; ok {
		return fmt.Errorf("study plan %s already exists", plan.ID)
	}
	now := s.now()
	plan.CreatedAt, plan.UpdatedAt = now, now
	s.plans[plan.ID] = clonePlan(*plan)
	return nil
}

func (s *memoryStore) Get(_ context.Context, id uuid.UUID) (*StudyPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	p = clonePlan(p)
	return &p, nil
}

func (s *memoryStore) UpdateStatus(_ context.Context, id uuid.UUID, status PlanStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return ErrPlanNotFound
	}
	p.Status = status
	p.UpdatedAt = s.now()
	s.plans[id] = p
	return nil
}

func (s *memoryStore) SaveResult(_ context.Context, plan *StudyPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[plan.ID]
	if !ok {
		return ErrPlanNotFound
	}
	plan.CreatedAt = p.CreatedAt
	plan.UpdatedAt = s.now()
	s.plans[plan.ID] = clonePlan(*plan)
	return nil
}

func (s *memoryStore) ListRecent(_ context.Context, limit int) ([]StudyPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StudyPlan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, clonePlan(p))
	}
	slices.SortFunc(out, func(a, b StudyPlan) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clonePlan(p StudyPlan) StudyPlan {
	p.Rows = slices.Clone(p.Rows)
	return p
}

// postgresStore keeps plans in Postgres through the generated queries.
type postgresStore struct {
	db *database.Queries
}

func NewPostgresStore(ctx context.Context, dbURL string) (PlanStore, *sql.DB, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("error connecting to db: %w", err)
	}
	return newPostgresStore(db), db, nil
}

func newPostgresStore(db *sql.DB) PlanStore {
	return &postgresStore{db: database.New(db)}
}

func (s *postgresStore) Create(ctx context.Context, plan *StudyPlan) error {
	created, err := s.db.CreateStudyPlan(ctx, database.CreateStudyPlanParams{
		ID:           plan.ID,
		Subject:      plan.Subject,
		Deadline:     plan.Deadline,
		CreatedOn:    plan.CreatedOn,
		DaysLeft:     int32(plan.DaysLeft),
		SyllabusName: plan.SyllabusName,
		SyllabusKey:  plan.SyllabusKey,
		Status:       string(plan.Status),
	})
	if err != nil {
		return fmt.Errorf("creating study plan: %w", err)
	}
	plan.CreatedAt, plan.UpdatedAt = created.CreatedAt, created.UpdatedAt
	return nil
}

func (s *postgresStore) Get(ctx context.Context, id uuid.UUID) (*StudyPlan, error) {
	row, err := s.db.GetStudyPlan(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting study plan: %w", err)
	}
	plan, err := planFromRow(row)
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *postgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, status PlanStatus) error {
	n, err := s.db.UpdateStudyPlanStatus(ctx, database.UpdateStudyPlanStatusParams{
		Status: string(status),
		ID:     id,
	})
	if err != nil {
		return fmt.Errorf("updating study plan status: %w", err)
	}
	if n == 0 {
		return ErrPlanNotFound
	}
	return nil
}

func (s *postgresStore) SaveResult(ctx context.Context, plan *StudyPlan) error {
	rows, err := marshalRows(plan.Rows)
	if err != nil {
		return err
	}
	updatedAt, err := s.db.SaveStudyPlanResult(ctx, database.SaveStudyPlanResultParams{
		Status:         string(plan.Status),
		Markdown:       plan.Markdown,
		Rows:           rows,
		TotalHours:     plan.TotalHours,
		SyllabusLoaded: plan.SyllabusLoaded,
		SyllabusKey:    plan.SyllabusKey,
		Warning:        plan.Warning,
		Error:          plan.Error,
		ID:             plan.ID,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPlanNotFound
	}
	if err != nil {
		return fmt.Errorf("saving study plan result: %w", err)
	}
	plan.UpdatedAt = updatedAt
	return nil
}

func (s *postgresStore) ListRecent(ctx context.Context, limit int) ([]StudyPlan, error) {
	maxRows := sql.NullInt32{Int32: int32(limit), Valid: limit > 0}
	rows, err := s.db.ListRecentStudyPlans(ctx, maxRows)
	if err != nil {
		return nil, fmt.Errorf("listing study plans: %w", err)
	}
	out := make([]StudyPlan, 0, len(rows))
	for _, row := range rows {
		plan, err := planFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, plan)
	}
	return out, nil
}

func marshalRows(rows []ScheduleRow) (json.RawMessage, error) {
	if rows == nil {
		rows = []ScheduleRow{}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schedule rows: %w", err)
	}
	return b, nil
}

func unmarshalRows(b []byte) ([]ScheduleRow, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var rows []ScheduleRow
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule rows: %w", err)
	}
	return rows, nil
}

func planFromRow(row database.StudyPlan) (StudyPlan, error) {
	rows, err := unmarshalRows(row.Rows)
	if err != nil {
		return StudyPlan{}, err
	}
	return StudyPlan{
		ID:             row.ID,
		Subject:        row.Subject,
		Deadline:       row.Deadline,
		CreatedOn:      row.CreatedOn,
		DaysLeft:       int(row.DaysLeft),
		SyllabusName:   row.SyllabusName,
		SyllabusKey:    row.SyllabusKey,
		SyllabusLoaded: row.SyllabusLoaded,
		Status:         PlanStatus(row.Status),
		Markdown:       row.Markdown,
		Rows:           rows,
		TotalHours:     row.TotalHours,
		Warning:        row.Warning,
		Error:          row.Error,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}, nil
}
