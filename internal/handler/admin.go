package handler

import (
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/preflight/internal/bank"
	"github.com/pavelanni/preflight/internal/model"
	"github.com/pavelanni/preflight/internal/risk"
	"github.com/pavelanni/preflight/internal/store"
)

type questionRequest struct {
	CategoryID   string `json:"category_id" validate:"required"`
	DisplayOrder int    `json:"display_order" validate:"gte=0"`
	bank.QuestionFile
}

// question converts a validated request; the response is already written
// when it returns false.
func (req questionRequest) question(w http.ResponseWriter) (model.Question, bool) {
	q, err := bank.Question(req.QuestionFile, req.CategoryID, req.DisplayOrder)
	if err != nil {
		var ce *risk.ConfigurationError
		if errors.As(err, &ce) {
			writeJSON(w, http.StatusUnprocessableEntity, evaluationErrorResponse{
				Error: err.Error(), Kind: risk.Kind(err), QuestionIDs: risk.QuestionIDs(err),
			})
			return q, false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return q, false
	}
	return q, true
}

// knownCategory reports whether the category exists; the response is already
// written when it returns false.
func (h *Handler) knownCategory(w http.ResponseWriter, id string) bool {
	c, err := h.store.GetCategory(id)
	if err != nil {
		slog.Error("failed to get category", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	if c == nil {
		writeError(w, http.StatusUnprocessableEntity, "unknown category "+id)
		return false
	}
	return true
}

func (h *Handler) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	q, ok := req.question(w)
	if !ok || !h.knownCategory(w, q.CategoryID) {
		return
	}

	id, err := h.store.InsertQuestion(q)
	if errors.Is(err, store.ErrDuplicateID) {
		writeError(w, http.StatusConflict, "question "+q.ID+" already exists")
		return
	}
	if err != nil {
		slog.Error("failed to insert question", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to insert question")
		return
	}
	h.writeQuestion(w, id, http.StatusCreated)
}

func (h *Handler) handleReplaceQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")
	q, ok := req.question(w)
	if !ok || !h.knownCategory(w, q.CategoryID) {
		return
	}

	err := h.store.ReplaceQuestion(q)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "question not found")
		return
	}
	if err != nil {
		slog.Error("failed to replace question", "id", q.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to replace question")
		return
	}
	slog.Info("replaced risk question", "id", q.ID, "options", len(q.Options), "ranges", len(q.Ranges))
	h.writeQuestion(w, q.ID, http.StatusOK)
}

func (h *Handler) writeQuestion(w http.ResponseWriter, id string, status int) {
	q, err := h.store.GetQuestion(id)
	if err != nil {
		slog.Error("failed to reload question", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, status, q)
}

func (h *Handler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.store.ListCategories()
	if err != nil {
		slog.Error("failed to list categories", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if cats == nil {
		cats = []model.Category{}
	}
	writeJSON(w, http.StatusOK, cats)
}

type categoryRequest struct {
	ID           string `json:"id" validate:"omitempty,max=100"`
	Name         string `json:"name" validate:"required,max=200"`
	Description  string `json:"description" validate:"max=2000"`
	DisplayOrder int    `json:"display_order" validate:"gte=0"`
}

// handleSaveCategory creates a category, or updates it when the id exists.
func (h *Handler) handleSaveCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c := model.Category{ID: req.ID, Name: req.Name, Description: req.Description, DisplayOrder: req.DisplayOrder}
	id, err := h.store.UpsertCategory(c)
	if err != nil {
		slog.Error("failed to save category", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save category")
		return
	}
	c.ID = id
	slog.Info("saved risk question category", "id", id, "name", c.Name)
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.ListConfigs()
	if err != nil {
		slog.Error("failed to list configs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if configs == nil {
		configs = []model.Config{}
	}
	writeJSON(w, http.StatusOK, configs)
}

type configRequest struct {
	Name            string `json:"name" validate:"required,max=200"`
	Description     string `json:"description" validate:"max=2000"`
	MaxAllowedScore *int   `json:"max_allowed_score" validate:"required,gte=0"`
	Activate        bool   `json:"activate"`
}

func (h *Handler) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := h.store.CreateConfig(model.Config{
		Name:            req.Name,
		Description:     req.Description,
		MaxAllowedScore: *req.MaxAllowedScore,
	})
	if err != nil {
		slog.Error("failed to create config", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create config")
		return
	}
	if req.Activate {
		if err := h.store.ActivateConfig(id); err != nil {
			slog.Error("failed to activate config", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to activate config")
			return
		}
	}
	h.writeConfig(w, id, http.StatusCreated)
}

func (h *Handler) handleActivateConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.store.ActivateConfig(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "config not found")
		return
	}
	if err != nil {
		slog.Error("failed to activate config", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to activate config")
		return
	}
	h.writeConfig(w, id, http.StatusOK)
}

func (h *Handler) writeConfig(w http.ResponseWriter, id string, status int) {
	configs, err := h.store.ListConfigs()
	if err != nil {
		slog.Error("failed to list configs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	for _, c := range configs {
		if c.ID == id {
			writeJSON(w, status, c)
			return
		}
	}
	writeError(w, http.StatusNotFound, "config not found")
}

func (h *Handler) handleUploadBank(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize)
	if err := r.ParseMultipartForm(h.config.MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid upload")
		return
	}

	file, header, err := r.FormFile("bank_file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	// An upload is an explicit admin action, so changed files replace the
	// questions they carry.
	res, err := bank.Import(h.store, header.Filename, data, true)
	if err != nil {
		slog.Warn("rejected question bank upload", "filename", header.Filename, "error", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	slog.Info("uploaded question bank via admin", "filename", header.Filename, "status", res.Status, "questions", res.Questions)
	writeJSON(w, http.StatusOK, res)
}
