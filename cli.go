package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00"))
)

// isInteractive reports whether stdin is a terminal huh can prompt on.
var isInteractive = func() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

func stdoutIsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

type planOptions struct {
	subject  string
	deadline string
	syllabus string
	out      string
}

func newPlanCmd() *cobra.Command {
	opts := &planOptions{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate a study plan in the terminal",
		Example: `  studyplanner plan --subject "Machine Learning" --deadline 2026-12-01
  studyplanner plan --subject Calculus --deadline 2026-11-20 --syllabus calc.pdf --out calc.md`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.subject, "subject", "", "subject name")
	cmd.Flags().StringVar(&opts.deadline, "deadline", "", "exam or deadline date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.syllabus, "syllabus", "", "optional syllabus file (.pdf, .txt, .docx)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write the markdown plan to this file")
	return cmd
}

func runPlan(ctx context.Context, w io.Writer, opts *planOptions) error {
	if opts.subject == "" || opts.deadline == "" {
		if !isInteractive() {
			return errors.New("--subject and --deadline are required when not running in a terminal")
		}
		if err := planForm(opts).Run(); err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	req, err := buildPlanRequest(opts, cfg)
	if err != nil {
		return err
	}

	app, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer app.Close()

	if _, err := app.planner.Check(req); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(userMessage(err)))
		return err
	}

	var (
		plan   *StudyPlan
		genErr error
	)
	generate := func() { plan, genErr = app.planner.Generate(ctx, req) }
	if isInteractive() {
		if err := spinner.New().Title("Generating your study plan...").Context(ctx).Action(generate).Run(); err != nil {
			return err
		}
	} else {
		generate()
	}
	if genErr != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(userMessage(genErr)))
		return genErr
	}

	if opts.out != "" {
		if err := os.WriteFile(opts.out, []byte(plan.Markdown+"\n"), 0o644); err != nil {
			return fmt.Errorf("failed to write plan: %w", err)
		}
	}
	return printPlan(w, plan, stdoutIsTerminal())
}

// buildPlanRequest turns flag values into a request, reading the syllabus
// file when one is given.
func buildPlanRequest(opts *planOptions, cfg Config) (PlanRequest, error) {
	deadline, err := ParseDeadline(opts.deadline, cfg.Location)
	if err != nil {
		return PlanRequest{}, err
	}
	req := PlanRequest{Subject: opts.subject, Deadline: deadline}
	if opts.syllabus == "" {
		return req, nil
	}

	if !SupportedSyllabus(opts.syllabus, "") {
		return req, fmt.Errorf("%w: %s", ErrUnsupportedSyllabus, opts.syllabus)
	}
	info, err := os.Stat(opts.syllabus)
	if err != nil {
		return req, fmt.Errorf("failed to read syllabus: %w", err)
	}
	if cfg.MaxUploadBytes > 0 && info.Size() > cfg.MaxUploadBytes {
		return req, ErrUploadTooLarge
	}
	data, err := os.ReadFile(opts.syllabus)
	if err != nil {
		return req, fmt.Errorf("failed to read syllabus: %w", err)
	}
	req.SyllabusName = filepath.Base(opts.syllabus)
	req.Syllabus = data
	return req, nil
}

func planForm(opts *planOptions) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Subject Name").
				Placeholder("e.g., Machine Learning...").
				Value(&opts.subject).
				Validate(validateSubject),
			huh.NewInput().
				Title("Exam / Deadline Date (YYYY-MM-DD)").
				Placeholder("2026-12-01").
				Value(&opts.deadline).
				Validate(validateDeadlineInput),
			huh.NewInput().
				Title("Syllabus file (optional)").
				Placeholder("syllabus.pdf").
				Value(&opts.syllabus).
				Validate(validateSyllabusPath),
		),
	).WithShowHelp(false)
}

func validateSubject(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrSubjectRequired
	}
	return nil
}

func validateDeadlineInput(s string) error {
	_, err := ParseDeadline(s, nil)
	return err
}

func validateSyllabusPath(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if !SupportedSyllabus(s, "") {
		return fmt.Errorf("%w: use .pdf, .txt or .docx", ErrUnsupportedSyllabus)
	}
	if _, err := os.Stat(s); err != nil {
		return fmt.Errorf("cannot open %s", s)
	}
	return nil
}

// planHeader is the summary shown above the schedule.
func planHeader(plan *StudyPlan) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Your Personalized Study Roadmap is Ready!"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %d   %s %s   %s %s",
		labelStyle.Render("Total Days:"), plan.DaysLeft,
		labelStyle.Render("Subject:"), plan.Subject,
		labelStyle.Render("Status:"), "Optimized",
	)
	if plan.TotalHours > 0 {
		fmt.Fprintf(&b, "   %s %.1f", labelStyle.Render("Study Hours:"), plan.TotalHours)
	}
	b.WriteString("\n")
	if plan.SyllabusLoaded {
		b.WriteString("Syllabus successfully loaded!\n")
	}
	if plan.Warning != "" {
		b.WriteString(warnStyle.Render(plan.Warning))
		b.WriteString("\n")
	}
	return b.String()
}

// printPlan renders the plan with glamour on a terminal and as plain
// markdown otherwise.
func printPlan(w io.Writer, plan *StudyPlan, terminal bool) error {
	if !terminal {
		_, err := fmt.Fprintln(w, plan.Markdown)
		return err
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}
	body, err := renderer.Render(plan.Markdown)
	if err != nil {
		body = plan.Markdown + "\n"
	}
	_, err = fmt.Fprint(w, planHeader(plan), body)
	return err
}
