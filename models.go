package main

import (
	"time"

	"github.com/google/uuid"
)

type PlanStatus string

const (
	StatusPending    PlanStatus = "pending"
	StatusProcessing PlanStatus = "processing"
	StatusCompleted  PlanStatus = "completed"
	StatusFailed     PlanStatus = "failed"
)

type R2Config struct {
	AccountID string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Enabled reports whether every R2 credential is present.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// PlanRequest is what the form (or a queued job) hands the planner.
type PlanRequest struct {
	// ID is set when the plan was created ahead of time, e.g. by the async API.
	ID           uuid.UUID
	Subject      string
	Deadline     time.Time
	SyllabusName string
	SyllabusMime string
	Syllabus     []byte
	// SyllabusKey is the object key the syllabus is already archived under.
	SyllabusKey string
}

type ScheduleRow struct {
	Day              int     `json:"day"`
	Date             string  `json:"date"`
	Topic            string  `json:"topic"`
	EstimatedHours   float64 `json:"estimated_hours"`
	HoursText        string  `json:"hours_text"`
	PracticeQuestion string  `json:"practice_question"`
	Resource         string  `json:"resource"`
}

type StudyPlan struct {
	ID             uuid.UUID     `json:"id"`
	Subject        string        `json:"subject"`
	Deadline       time.Time     `json:"deadline"`
	CreatedOn      time.Time     `json:"created_on"`
	DaysLeft       int           `json:"days_left"`
	SyllabusName   string        `json:"syllabus_name,omitempty"`
	SyllabusKey    string        `json:"syllabus_key,omitempty"`
	SyllabusLoaded bool          `json:"syllabus_loaded"`
	Status         PlanStatus    `json:"status"`
	Markdown       string        `json:"markdown,omitempty"`
	Rows           []ScheduleRow `json:"rows,omitempty"`
	TotalHours     float64       `json:"total_hours"`
	Warning        string        `json:"warning,omitempty"`
	Error          string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// PlanJob is the message body on the plan_requests queue.
type PlanJob struct {
	PlanID       uuid.UUID `json:"plan_id"`
	Subject      string    `json:"subject"`
	Deadline     string    `json:"deadline"`
	SyllabusName string    `json:"syllabus_name,omitempty"`
	SyllabusMime string    `json:"syllabus_mime,omitempty"`
	SyllabusKey  string    `json:"syllabus_key,omitempty"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// PlanUpdate is published to the plan_updates exchange on every status change.
type PlanUpdate struct {
	PlanID    uuid.UUID  `json:"plan_id"`
	Status    PlanStatus `json:"status"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}
