package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskPrompt(t *testing.T) {
	prompt := TaskPrompt(PlanInput{
		Subject:      "Linear Algebra",
		CurrentDate:  "2026-10-14",
		Deadline:     "2026-10-24",
		DaysLeft:     10,
		SyllabusText: "Vectors\nMatrices",
	})

	assert.Contains(t, prompt, "Today is 2026-10-14. The deadline is 2026-10-24. You have exactly 10 days.")
	assert.Contains(t, prompt, "Subject: Linear Algebra")
	assert.Contains(t, prompt, "Syllabus Context:\nVectors\nMatrices")
	assert.Contains(t, prompt, `Create a 10-day daily study schedule for "Linear Algebra".`)
	assert.Contains(t, prompt, "across the 10 days")
	assert.Contains(t, prompt, "ONLY output the Markdown table.")
	assert.Contains(t, prompt, expectedOutput)
}

func TestTaskPrompt_DoesNotEscapeText(t *testing.T) {
	prompt := TaskPrompt(PlanInput{Subject: "C++ & <Templates>", DaysLeft: 3})

	assert.Contains(t, prompt, `"C++ & <Templates>"`)
}

func TestInstruction_HasNoStatePlaceholders(t *testing.T) {
	// The agent runtime substitutes {name} from session state.
	assert.False(t, strings.ContainsAny(instruction(), "{}"))
}
