package database

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type StudyPlan struct {
	ID             uuid.UUID
	Subject        string
	Deadline       time.Time
	CreatedOn      time.Time
	DaysLeft       int32
	SyllabusName   string
	SyllabusKey    string
	SyllabusLoaded bool
	Status         string
	Markdown       string
	Rows           json.RawMessage
	TotalHours     float64
	Warning        string
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
