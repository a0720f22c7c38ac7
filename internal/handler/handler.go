package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavelanni/preflight/internal/handler/views"
	appI18n "github.com/pavelanni/preflight/internal/i18n"
	"github.com/pavelanni/preflight/internal/llm"
	"github.com/pavelanni/preflight/internal/model"
	"github.com/pavelanni/preflight/internal/risk"
	"github.com/pavelanni/preflight/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxJSONBody      = 1 << 20
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Advisor produces mitigation advice for an assessment.
type Advisor interface {
	Advise(ctx context.Context, a *model.Assessment, questions []model.Question) (*llm.Advice, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	advisor Advisor
	eval    *risk.Evaluator
	config  model.ServerConfig
}

// New creates a new Handler. advisor may be nil to disable mitigation advice.
func New(s *store.Store, advisor Advisor, cfg model.ServerConfig) (*Handler, error) {
	if cfg.CautionRatio < 0 || cfg.CautionRatio > 1 {
		return nil, errors.New("caution ratio must be between 0 and 1")
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 10 << 20
	}
	if cfg.AdviceTimeout <= 0 {
		cfg.AdviceTimeout = 15 * time.Second
	}
	return &Handler{store: s, advisor: advisor, eval: risk.New(cfg.CautionRatio), config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(instrument)
	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(identify)

		r.Get("/api/risk-assessment/form", h.handleForm)
		r.Post("/api/risk-assessments", h.handleSubmit)
		r.Get("/api/risk-assessments", h.handleList)
		r.With(requireRole(model.UserRoleInstructor, model.UserRoleAdmin)).
			Get("/api/risk-assessments/stats", h.handleStats)
		r.Get("/api/risk-assessments/{id}", h.handleGet)
		r.With(requireRole(model.UserRoleInstructor, model.UserRoleAdmin)).
			Post("/api/risk-assessments/{id}/override", h.handleOverride)

		r.Get("/risk-assessments", h.handleHistoryPage)
		r.Get("/risk-assessments/{id}", h.handleAssessmentPage)

		r.Route("/api/admin/risk-assessment", func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Get("/categories", h.handleListCategories)
			r.Post("/categories", h.handleSaveCategory)
			r.Post("/questions", h.handleCreateQuestion)
			r.Patch("/questions/{id}", h.handleReplaceQuestion)
			r.Get("/config", h.handleListConfigs)
			r.Post("/config", h.handleCreateConfig)
			r.Post("/config/{id}/activate", h.handleActivateConfig)
			r.Post("/bank", h.handleUploadBank)
		})
	})
}

// BasePathMiddleware stores the configured base path in the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type formResponse struct {
	Config     model.Config     `json:"config"`
	Categories []model.Category `json:"categories"`
	Questions  []model.Question `json:"questions"`
}

func (h *Handler) handleForm(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.LoadSnapshot()
	if errors.Is(err, store.ErrNoActiveConfig) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		slog.Error("failed to load snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	cats, err := h.store.ListCategories()
	if err != nil {
		slog.Error("failed to list categories", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, formResponse{Config: snap.Config, Categories: cats, Questions: snap.Questions})
}

type responseItem struct {
	QuestionID string   `json:"question_id" validate:"required"`
	OptionID   string   `json:"answer_option_id"`
	Value      *float64 `json:"numeric_value"`
}

type submitRequest struct {
	StudentID       string         `json:"student_id" validate:"omitempty,max=128"`
	FlightSessionID string         `json:"flight_session_id" validate:"omitempty,max=128"`
	MissionID       string         `json:"mission_id" validate:"omitempty,max=128"`
	Notes           string         `json:"notes" validate:"max=2000"`
	Responses       []responseItem `json:"responses" validate:"dive"`
}

type submitResponse struct {
	Assessment *model.Assessment `json:"assessment"`
	Verdict    string            `json:"verdict"`
	Advice     *llm.Advice       `json:"advice,omitempty"`
}

type evaluationErrorResponse struct {
	Error       string   `json:"error"`
	Kind        string   `json:"kind"`
	QuestionIDs []string `json:"question_ids,omitempty"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	learnerID := req.StudentID
	if learnerID == "" {
		learnerID = user.ID
	}
	if learnerID != user.ID && !user.CanReview() {
		writeError(w, http.StatusForbidden, "students may only submit their own assessments")
		return
	}

	snap, err := h.store.LoadSnapshot()
	if errors.Is(err, store.ErrNoActiveConfig) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		slog.Error("failed to load snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	responses := make([]model.Response, 0, len(req.Responses))
	for _, item := range req.Responses {
		responses = append(responses, model.Response{QuestionID: item.QuestionID, OptionID: item.OptionID, Value: item.Value})
	}

	a, err := h.eval.Evaluate(risk.Input{
		LearnerID:       learnerID,
		FlightSessionID: req.FlightSessionID,
		MissionID:       req.MissionID,
		Notes:           req.Notes,
		Config:          snap.Config,
		Questions:       snap.Questions,
		Responses:       responses,
	})
	if err != nil {
		kind := risk.Kind(err)
		if kind == "" {
			slog.Error("evaluation failed", "learner", learnerID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		evaluationErrors.WithLabelValues(kind).Inc()
		if kind == "configuration" {
			slog.Error("risk assessment reference data is inconsistent", "error", err)
		}
		writeJSON(w, http.StatusUnprocessableEntity, evaluationErrorResponse{
			Error:       err.Error(),
			Kind:        kind,
			QuestionIDs: risk.QuestionIDs(err),
		})
		return
	}

	if _, err := h.store.SaveAssessment(a); err != nil {
		slog.Error("failed to save assessment", "learner", learnerID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	assessmentsTotal.WithLabelValues(string(a.Result)).Inc()
	assessmentScore.Observe(float64(a.TotalScore))

	writeJSON(w, http.StatusCreated, submitResponse{
		Assessment: a,
		Verdict:    appI18n.Verdict(r.Context(), a),
		Advice:     h.advise(r.Context(), a, snap.Questions),
	})
}

// advise returns mitigation advice for caution and no-go results. Failures
// are logged and yield nil so the saved submission is still returned.
func (h *Handler) advise(ctx context.Context, a *model.Assessment, questions []model.Question) *llm.Advice {
	if h.advisor == nil || a.Result == model.ResultGo {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.config.AdviceTimeout)
	defer cancel()

	start := time.Now()
	advice, err := h.advisor.Advise(ctx, a, questions)
	if err != nil {
		adviceDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		slog.Warn("mitigation advice unavailable", "assessment", a.ID, "error", err)
		return nil
	}
	adviceDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	return advice
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}
	list, err := h.store.ListAssessments(filter)
	if err != nil {
		slog.Error("failed to list assessments", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []model.Assessment{}
	}
	writeJSON(w, http.StatusOK, list)
}

// parseFilter reads history query parameters. Students are always limited
// to their own assessments.
func (h *Handler) parseFilter(w http.ResponseWriter, r *http.Request) (model.AssessmentFilter, bool) {
	user := model.UserFromContext(r.Context())
	q := r.URL.Query()
	f := model.AssessmentFilter{
		LearnerID: q.Get("student_id"),
		Result:    model.Result(q.Get("result")),
		Limit:     defaultListLimit,
	}
	if f.Result != "" && !f.Result.Valid() {
		writeError(w, http.StatusBadRequest, "invalid result filter")
		return f, false
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return f, false
		}
		f.Limit = min(n, maxListLimit)
	}
	if !user.CanReview() {
		if f.LearnerID != "" && f.LearnerID != user.ID {
			writeError(w, http.StatusForbidden, "forbidden")
			return f, false
		}
		f.LearnerID = user.ID
	}
	return f, true
}

type statsResponse struct {
	Total    int                  `json:"total"`
	ByResult map[model.Result]int `json:"by_result"`
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.CountByResult()
	if err != nil {
		slog.Error("failed to count assessments", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, statsResponse{Total: total, ByResult: counts})
}

type detailResponse struct {
	Assessment      *model.Assessment `json:"assessment"`
	EffectiveResult model.Result      `json:"effective_result"`
	Verdict         string            `json:"verdict"`
	Overrides       []model.Override  `json:"overrides"`
}

// loadVisible fetches an assessment the caller may see, writing the error
// response itself when it returns nil.
func (h *Handler) loadVisible(w http.ResponseWriter, r *http.Request) *model.Assessment {
	id := chi.URLParam(r, "id")
	a, err := h.store.GetAssessment(id)
	if err != nil {
		slog.Error("failed to get assessment", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil
	}
	if a == nil || !canView(model.UserFromContext(r.Context()), a.LearnerID) {
		writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "AssessmentNotFound"))
		return nil
	}
	return a
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	a := h.loadVisible(w, r)
	if a == nil {
		return
	}
	overrides, err := h.store.ListOverrides(a.ID)
	if err != nil {
		slog.Error("failed to list overrides", "id", a.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if overrides == nil {
		overrides = []model.Override{}
	}
	writeJSON(w, http.StatusOK, detailResponse{
		Assessment:      a,
		EffectiveResult: a.EffectiveResult(),
		Verdict:         appI18n.Verdict(r.Context(), a),
		Overrides:       overrides,
	})
}

type overrideRequest struct {
	Result model.Result `json:"result" validate:"required,oneof=go caution no_go"`
	Reason string       `json:"reason" validate:"required,max=1000"`
}

func (h *Handler) handleOverride(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var req overrideRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	o := model.Override{
		AssessmentID: chi.URLParam(r, "id"),
		InstructorID: user.ID,
		Reason:       req.Reason,
		Result:       req.Result,
	}
	_, err := h.store.AddOverride(o)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "AssessmentNotFound"))
		return
	}
	if err != nil {
		slog.Error("failed to record override", "assessment", o.AssessmentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	overridesTotal.WithLabelValues(string(o.Result)).Inc()

	a, err := h.store.GetAssessment(o.AssessmentID)
	if err != nil || a == nil {
		slog.Error("failed to reload assessment", "id", o.AssessmentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) handleHistoryPage(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}
	list, err := h.store.ListAssessments(filter)
	if err != nil {
		slog.Error("failed to list assessments", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Language", appI18n.Match(r.Header.Get("Accept-Language")).String())
	if err := views.HistoryPage(list).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleAssessmentPage(w http.ResponseWriter, r *http.Request) {
	a := h.loadVisible(w, r)
	if a == nil {
		return
	}
	questions, err := h.store.ListQuestions(false)
	if err != nil {
		slog.Error("failed to list questions", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Language", appI18n.Match(r.Header.Get("Accept-Language")).String())
	if err := views.AssessmentPage(a, model.NewLabelLookup(questions)).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// decodeJSON decodes and validates a request body, writing a 400 response on
// failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msg := "invalid request:"
	for _, fe := range verrs {
		msg += " " + fe.Field() + " (" + fe.Tag() + ")"
	}
	return msg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
