package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPlanRequest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syllabus.txt")
	require.NoError(t, os.WriteFile(path, []byte("Unit 1\nUnit 2"), 0o644))
	cfg := DefaultConfig()
	cfg.Location = time.UTC

	req, err := buildPlanRequest(&planOptions{subject: "Chemistry", deadline: "2026-11-01", syllabus: path}, cfg)

	require.NoError(t, err)
	assert.Equal(t, "Chemistry", req.Subject)
	assert.Equal(t, date(t, "2026-11-01"), req.Deadline)
	assert.Equal(t, "syllabus.txt", req.SyllabusName)
	assert.Equal(t, "Unit 1\nUnit 2", string(req.Syllabus))
}

func TestBuildPlanRequest_Errors(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(big, bytes.Repeat([]byte("x"), 32), 0o644))
	cfg := DefaultConfig()
	cfg.MaxUploadBytes = 16

	_, err := buildPlanRequest(&planOptions{subject: "Chemistry", deadline: "soon"}, cfg)
	assert.ErrorIs(t, err, ErrInvalidDeadline)

	_, err = buildPlanRequest(&planOptions{subject: "Chemistry", deadline: "2026-11-01", syllabus: "notes.odt"}, cfg)
	assert.ErrorIs(t, err, ErrUnsupportedSyllabus)

	_, err = buildPlanRequest(&planOptions{subject: "Chemistry", deadline: "2026-11-01", syllabus: big}, cfg)
	assert.ErrorIs(t, err, ErrUploadTooLarge)

	_, err = buildPlanRequest(&planOptions{subject: "Chemistry", deadline: "2026-11-01", syllabus: filepath.Join(dir, "missing.pdf")}, cfg)
	assert.Error(t, err)
}

func TestFormValidators(t *testing.T) {
	assert.ErrorIs(t, validateSubject("  "), ErrSubjectRequired)
	assert.NoError(t, validateSubject("Art"))

	assert.NoError(t, validateDeadlineInput("2026-12-01"))
	assert.ErrorIs(t, validateDeadlineInput("01/12/2026"), ErrInvalidDeadline)

	assert.NoError(t, validateSyllabusPath(""))
	assert.ErrorIs(t, validateSyllabusPath("notes.odt"), ErrUnsupportedSyllabus)
	assert.Error(t, validateSyllabusPath(filepath.Join(t.TempDir(), "missing.pdf")))
}

func TestPlanHeader(t *testing.T) {
	header := planHeader(&StudyPlan{
		Subject:        "Linear Algebra",
		DaysLeft:       3,
		TotalHours:     5.25,
		SyllabusLoaded: true,
		Warning:        "Error reading syllabus: bad xref",
	})

	assert.Contains(t, header, "Total Days:")
	assert.Contains(t, header, "Linear Algebra")
	assert.Contains(t, header, "Optimized")
	assert.Contains(t, header, "5.2")
	assert.Contains(t, header, "Syllabus successfully loaded!")
	assert.Contains(t, header, "Error reading syllabus: bad xref")
}

func TestPrintPlan_PlainOutput(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printPlan(&buf, &StudyPlan{Subject: "Maths", Markdown: sampleSchedule}, false))

	assert.Equal(t, sampleSchedule+"\n", buf.String())
}

func TestRunPlan_RequiresFlagsWithoutTerminal(t *testing.T) {
	orig := isInteractive
	isInteractive = func() bool { return false }
	t.Cleanup(func() { isInteractive = orig })

	err := runPlan(context.Background(), &bytes.Buffer{}, &planOptions{subject: "Maths"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "--subject and --deadline are required")
}

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{"serve", "worker", "plan"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	plan, _, err := root.Find([]string{"plan"})
	require.NoError(t, err)
	for _, flag := range []string{"subject", "deadline", "syllabus", "out"} {
		assert.NotNil(t, plan.Flags().Lookup(flag), flag)
	}
}
