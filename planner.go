package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PlannerConfig struct {
	Generator Generator
	Store     PlanStore
	// Archive is optional.
	Archive Archive
	Clock   Clock
	Logger  *zap.Logger
	MaxDays int
	Timeout time.Duration
}

type Planner struct {
	generator Generator
	store     PlanStore
	archive   Archive
	clock     Clock
	logger    *zap.Logger
	maxDays   int
	timeout   time.Duration
}

func NewPlanner(cfg PlannerConfig) *Planner {
	if cfg.Clock == nil {
		cfg.Clock = NewSystemClock(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	return &Planner{
		generator: cfg.Generator,
		store:     cfg.Store,
		archive:   cfg.Archive,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		maxDays:   cfg.MaxDays,
		timeout:   cfg.Timeout,
	}
}

func (p *Planner) Today() time.Time { return p.clock.Today() }

// Check validates a request without generating anything.
func (p *Planner) Check(req PlanRequest) (int, error) {
	return Validate(req, p.clock.Today(), p.maxDays)
}

// NewPendingPlan records a plan that a worker will fill in later.
func (p *Planner) NewPendingPlan(ctx context.Context, req PlanRequest) (*StudyPlan, error) {
	today := p.clock.Today()
	days, err := Validate(req, today, p.maxDays)
	if err != nil {
		return nil, err
	}
	plan := newStudyPlan(req, today, days)
	if err := p.store.Create(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func newStudyPlan(req PlanRequest, today time.Time, days int) *StudyPlan {
	id := req.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &StudyPlan{
		ID:           id,
		Subject:      strings.TrimSpace(req.Subject),
		Deadline:     req.Deadline,
		CreatedOn:    today,
		DaysLeft:     days,
		SyllabusName: req.SyllabusName,
		SyllabusKey:  req.SyllabusKey,
		Status:       StatusPending,
	}
}

// Generate validates the request, builds the prompt, calls the agent and
// persists the result. Validation errors are returned before anything is
// stored. A failed generation is stored as failed and returned with the
// plan, wrapped in ErrGeneration.
func (p *Planner) Generate(ctx context.Context, req PlanRequest) (*StudyPlan, error) {
	today := p.clock.Today()
	days, err := Validate(req, today, p.maxDays)
	if err != nil {
		return nil, err
	}

	plan, err := p.loadOrCreate(ctx, req, today, days)
	if err != nil {
		return nil, err
	}
	log := p.logger.With(
		zap.String("plan_id", plan.ID.String()),
		zap.String("subject", plan.Subject),
		zap.Int("days_left", days),
	)

	if err := p.store.UpdateStatus(ctx, plan.ID, StatusProcessing); err != nil {
		return nil, err
	}
	plan.Status = StatusProcessing

	var text string
	if len(req.Syllabus) > 0 {
		text, err = ExtractSyllabusText(req.SyllabusName, req.SyllabusMime, req.Syllabus)
		if err != nil {
			log.Warn("syllabus extraction failed", zap.String("syllabus", req.SyllabusName), zap.Error(err))
			plan.Warning = fmt.Sprintf("Error reading syllabus: %v", err)
			text = ""
		}
		if p.archive != nil && plan.SyllabusKey == "" {
			key, err := p.archive.PutSyllabus(ctx, plan.ID, req.SyllabusName, req.SyllabusMime, req.Syllabus)
			if err != nil {
				log.Warn("failed to archive syllabus", zap.Error(err))
			} else {
				plan.SyllabusKey = key
			}
		}
	}
	syllabus, loaded := PrepareSyllabus(text)
	plan.SyllabusLoaded = loaded

	prompt := TaskPrompt(PlanInput{
		Subject:      plan.Subject,
		CurrentDate:  today.Format(dateLayout),
		Deadline:     plan.Deadline.Format(dateLayout),
		DaysLeft:     days,
		SyllabusText: syllabus,
	})

	genCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	output, err := p.generator.Generate(genCtx, plan.ID.String(), prompt)
	// The result is stored even if the caller went away during generation.
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		log.Error("plan generation failed", zap.Error(err), zap.Duration("latency", time.Since(start)))
		plan.Status = StatusFailed
		plan.Error = err.Error()
		if saveErr := p.store.SaveResult(persistCtx, plan); saveErr != nil {
			log.Error("failed to save failed plan", zap.Error(saveErr))
		}
		return plan, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	plan.Markdown = CleanMarkdown(output)
	plan.Rows = ParseScheduleTable(plan.Markdown)
	plan.TotalHours = TotalHours(plan.Rows)
	plan.Status = StatusCompleted
	plan.Error = ""

	if p.archive != nil {
		if _, err := p.archive.PutPlan(persistCtx, plan); err != nil {
			log.Warn("failed to archive plan", zap.Error(err))
		}
	}

	if err := p.store.SaveResult(persistCtx, plan); err != nil {
		return plan, fmt.Errorf("failed to save study plan: %w", err)
	}

	log.Info("study plan generated",
		zap.Int("rows", len(plan.Rows)),
		zap.Float64("total_hours", plan.TotalHours),
		zap.Bool("syllabus_loaded", loaded),
		zap.Duration("latency", time.Since(start)),
	)
	return plan, nil
}

func (p *Planner) loadOrCreate(ctx context.Context, req PlanRequest, today time.Time, days int) (*StudyPlan, error) {
	if req.ID != uuid.Nil {
		plan, err := p.store.Get(ctx, req.ID)
		if err == nil {
			plan.DaysLeft = days
			if req.SyllabusKey != "" {
				plan.SyllabusKey = req.SyllabusKey
			}
			return plan, nil
		}
		if !errors.Is(err, ErrPlanNotFound) {
			return nil, err
		}
	}
	plan := newStudyPlan(req, today, days)
	if err := p.store.Create(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}
