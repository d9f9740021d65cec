package main

import (
	"strings"
	"text/template"
)

const noSyllabusPrompt = "No syllabus provided. Please generate a standard comprehensive curriculum based on the subject name."

const expectedOutput = "A Markdown table with columns: Day, Date, Topic, Estimated Hours, Practice Question, Resource Link."

// PlanInput holds the values substituted into the task prompt.
type PlanInput struct {
	Subject      string
	CurrentDate  string
	Deadline     string
	DaysLeft     int
	SyllabusText string
}

func instruction() string {
	return `
You are a Senior Academic Counselor.

Your goal is to create a personalized, time-managed study roadmap for the subject you are given, running from the current date to the deadline.

You are an expert in curriculum design. You break down official syllabuses into manageable daily study tasks, estimating realistic study hours and finding the best online resources.

Follow the task exactly. Output only what the task asks for.
	`
}

var taskTemplate = template.Must(template.New("task").Parse(`Today is {{.CurrentDate}}. The deadline is {{.Deadline}}. You have exactly {{.DaysLeft}} days.
Subject: {{.Subject}}

Syllabus Context:
{{.SyllabusText}}

Task: Create a {{.DaysLeft}}-day daily study schedule for "{{.Subject}}".
- Map the topics from the syllabus (if provided) across the {{.DaysLeft}} days.
- Estimate how many hours should be spent on that day's topic based on its complexity (e.g., 1.5 hours, 3 hours).
- Include 1 practice question for the day.
- Provide 1 clickable markdown link to a relevant resource (Use standard sites like Wikipedia, GeeksforGeeks, or generate a YouTube Search link formatted like: [Watch Video](https://www.youtube.com/results?search_query=your+topic+here)).
- ONLY output the Markdown table. Do not include introductory text.

Expected output: {{.ExpectedOutput}}
`))

// TaskPrompt renders the per-request prompt sent to the agent.
func TaskPrompt(in PlanInput) string {
	var b strings.Builder
	data := struct {
		PlanInput
		ExpectedOutput string
	}{in, expectedOutput}
	// The template has no failing actions; Execute only errors on writer failure.
	_ = taskTemplate.Execute(&b, data)
	return b.String()
}
