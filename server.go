package main

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	multipartMemory = 32 << 20
	// formOverhead is allowed on top of the upload limit for the other fields
	// and multipart framing.
	formOverhead = 1 << 20
	recentPlans  = 5
)

type ServerConfig struct {
	Planner *Planner
	Store   PlanStore
	// Queue and Archive are nil when async generation is disabled.
	Queue          JobQueue
	Archive        Archive
	Logger         *zap.Logger
	MaxUploadBytes int64
	Location       *time.Location
}

type Server struct {
	planner   *Planner
	store     PlanStore
	queue     JobQueue
	archive   Archive
	logger    *zap.Logger
	maxUpload int64
	location  *time.Location
	templates *template.Template
	markdown  goldmark.Markdown
}

func NewServer(cfg ServerConfig) (*Server, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultConfig().MaxUploadBytes
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Server{
		planner:   cfg.Planner,
		store:     cfg.Store,
		queue:     cfg.Queue,
		archive:   cfg.Archive,
		logger:    cfg.Logger,
		maxUpload: cfg.MaxUploadBytes,
		location:  cfg.Location,
		templates: tmpl,
		markdown:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /plans", s.handleCreatePlan)
	mux.HandleFunc("GET /plans/{id}", s.handleShowPlan)
	mux.HandleFunc("GET /plans/{id}/download", s.handleDownload)
	mux.HandleFunc("GET /api/plans", s.handleAPIListPlans)
	mux.HandleFunc("POST /api/plans", s.handleAPICreatePlan)
	mux.HandleFunc("POST /api/plans/async", s.handleAPICreatePlanAsync)
	mux.HandleFunc("GET /api/plans/{id}", s.handleAPIGetPlan)
	return s.logRequests(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

// pageData feeds both the form page and the result page.
type pageData struct {
	Subject      string
	Deadline     string
	MinDate      string
	Error        string
	Recent       []StudyPlan
	Plan         *StudyPlan
	Schedule     template.HTML
	DownloadName string
}

func (s *Server) newPageData() pageData {
	today := s.planner.Today()
	return pageData{
		Deadline: today.AddDate(0, 0, 7).Format(dateLayout),
		MinDate:  today.AddDate(0, 0, 1).Format(dateLayout),
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := s.newPageData()
	recent, err := s.store.ListRecent(r.Context(), recentPlans)
	if err != nil {
		s.logger.Warn("failed to list recent plans", zap.Error(err))
	}
	data.Recent = recent
	s.render(w, http.StatusOK, "index.html", data)
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	data := s.newPageData()
	req, err := s.parsePlanRequest(w, r)
	data.Subject = r.FormValue("subject")
	if v := r.FormValue("deadline"); v != "" {
		data.Deadline = v
	}
	if err != nil {
		data.Error = userMessage(err)
		s.render(w, statusForError(err), "index.html", data)
		return
	}

	plan, err := s.planner.Generate(r.Context(), req)
	if err != nil && (plan == nil || !errors.Is(err, ErrGeneration)) {
		data.Error = userMessage(err)
		s.render(w, statusForError(err), "index.html", data)
		return
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
	}
	s.renderPlan(w, status, data, plan)
}

func (s *Server) handleShowPlan(w http.ResponseWriter, r *http.Request) {
	data := s.newPageData()
	plan, err := s.planFromPath(r)
	if err != nil {
		data.Error = userMessage(err)
		s.render(w, statusForError(err), "index.html", data)
		return
	}
	data.Subject = plan.Subject
	data.Deadline = plan.Deadline.Format(dateLayout)
	s.renderPlan(w, http.StatusOK, data, plan)
}

func (s *Server) renderPlan(w http.ResponseWriter, status int, data pageData, plan *StudyPlan) {
	data.Plan = plan
	data.DownloadName = DownloadFilename(plan.Subject)
	if plan.Status == StatusCompleted {
		html, err := s.renderMarkdown(plan.Markdown)
		if err != nil {
			s.logger.Warn("failed to render schedule", zap.String("plan_id", plan.ID.String()), zap.Error(err))
			html = template.HTML("<pre>" + template.HTMLEscapeString(plan.Markdown) + "</pre>")
		}
		data.Schedule = html
	}
	s.render(w, status, "plan.html", data)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	plan, err := s.planFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	if plan.Status != StatusCompleted {
		http.Error(w, "study plan is not ready", http.StatusConflict)
		return
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": DownloadFilename(plan.Subject)})
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", disposition)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, plan.Markdown)
}

func (s *Server) handleAPIListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.store.ListRecent(r.Context(), 20)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if plans == nil {
		plans = []StudyPlan{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

func (s *Server) handleAPIGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.planFromPath(r)
	if err != nil {
		writeErr(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleAPICreatePlan(w http.ResponseWriter, r *http.Request) {
	req, err := s.parsePlanRequest(w, r)
	if err != nil {
		writeErr(w, statusForError(err), err)
		return
	}
	plan, err := s.planner.Generate(r.Context(), req)
	if err != nil {
		writeErr(w, statusForError(err), err)
		return
	}
	w.Header().Set("Location", "/api/plans/"+plan.ID.String())
	writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleAPICreatePlanAsync(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeErr(w, http.StatusServiceUnavailable, ErrQueueDisabled)
		return
	}
	req, err := s.parsePlanRequest(w, r)
	if err != nil {
		writeErr(w, statusForError(err), err)
		return
	}
	if _, err := s.planner.Check(req); err != nil {
		writeErr(w, statusForError(err), err)
		return
	}

	ctx := r.Context()
	req.ID = uuid.New()
	if len(req.Syllabus) > 0 {
		// Workers only ever see the syllabus through the archive.
		if s.archive == nil {
			writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("%w: no archive for syllabus uploads", ErrQueueDisabled))
			return
		}
		key, err := s.archive.PutSyllabus(ctx, req.ID, req.SyllabusName, req.SyllabusMime, req.Syllabus)
		if err != nil {
			writeErr(w, http.StatusBadGateway, fmt.Errorf("failed to store syllabus: %w", err))
			return
		}
		req.SyllabusKey = key
	}

	plan, err := s.planner.NewPendingPlan(ctx, req)
	if err != nil {
		writeErr(w, statusForError(err), err)
		return
	}

	job := PlanJob{
		PlanID:       plan.ID,
		Subject:      plan.Subject,
		Deadline:     plan.Deadline.Format(dateLayout),
		SyllabusName: req.SyllabusName,
		SyllabusMime: req.SyllabusMime,
		SyllabusKey:  req.SyllabusKey,
		EnqueuedAt:   time.Now(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.logger.Error("failed to enqueue plan job", zap.String("plan_id", plan.ID.String()), zap.Error(err))
		if statusErr := s.store.UpdateStatus(context.WithoutCancel(ctx), plan.ID, StatusFailed); statusErr != nil {
			s.logger.Warn("failed to mark plan failed", zap.Error(statusErr))
		}
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("failed to enqueue plan: %w", err))
		return
	}

	w.Header().Set("Location", "/api/plans/"+plan.ID.String())
	writeJSON(w, http.StatusAccepted, map[string]any{
		"plan_id": plan.ID,
		"status":  plan.Status,
	})
}

// parsePlanRequest reads subject, deadline and the optional syllabus from a
// multipart or urlencoded form.
func (s *Server) parsePlanRequest(w http.ResponseWriter, r *http.Request) (PlanRequest, error) {
	var req PlanRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+formOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return req, ErrUploadTooLarge
		}
		return req, fmt.Errorf("invalid form: %w", err)
	}

	req.Subject = strings.TrimSpace(r.FormValue("subject"))
	if req.Subject == "" {
		return req, ErrSubjectRequired
	}
	deadline, err := ParseDeadline(r.FormValue("deadline"), s.location)
	if err != nil {
		return req, err
	}
	req.Deadline = deadline

	file, header, err := r.FormFile("syllabus")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return req, nil
	case err != nil:
		return req, fmt.Errorf("invalid syllabus upload: %w", err)
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !SupportedSyllabus(header.Filename, contentType) {
		return req, fmt.Errorf("%w: %s", ErrUnsupportedSyllabus, header.Filename)
	}
	if header.Size > s.maxUpload {
		return req, ErrUploadTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	if err != nil {
		return req, fmt.Errorf("failed to read syllabus: %w", err)
	}
	if int64(len(data)) > s.maxUpload {
		return req, ErrUploadTooLarge
	}

	req.SyllabusName = header.Filename
	req.SyllabusMime = contentType
	req.Syllabus = data
	return req, nil
}

func (s *Server) planFromPath(r *http.Request) (*StudyPlan, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return nil, ErrPlanNotFound
	}
	return s.store.Get(r.Context(), id)
}

func (s *Server) renderMarkdown(md string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	// goldmark drops raw HTML and unsafe link targets unless WithUnsafe is set.
	return template.HTML(buf.String()), nil
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data pageData) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("failed to render template", zap.String("template", name), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    errorCode(code),
			"message": err.Error(),
		},
	})
}
