package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/categories"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// CategoryUseCases операции с категориями, нужные обработчику
type CategoryUseCases interface {
	SupplierTree(ctx context.Context, supplierID string) ([]*categories.TreeNode, error)
	InternalTree(ctx context.Context) ([]*categories.TreeNode, error)
	CreateInternalCategory(ctx context.Context, input services.CreateInternalCategoryInput) (*models.InternalCategory, error)
	SuggestMapping(ctx context.Context, supplierCategoryID string, alternatives int) (*services.Suggestion, error)
	SuggestForSupplier(ctx context.Context, supplierID string) ([]services.Suggestion, error)
	SetMapping(ctx context.Context, supplierCategoryID, internalCategoryID string) error
	MapSubtree(ctx context.Context, supplierCategoryID, internalCategoryID string) (int, error)
}

// CategoryHandler обработчик запросов категорий и их сопоставления
type CategoryHandler struct {
	categories   CategoryUseCases
	logger       interfaces.LoggerPort
	alternatives int
}

// NewCategoryHandler alternatives задает число альтернатив в подсказке по умолчанию
func NewCategoryHandler(categories CategoryUseCases, logger interfaces.LoggerPort, alternatives int) *CategoryHandler {
	return &CategoryHandler{
		categories:   categories,
		logger:       logger,
		alternatives: alternatives,
	}
}

type mappingRequest struct {
	InternalCategoryID string `json:"internal_category_id"`
}

type mapSubtreeResponse struct {
	Mapped int `json:"mapped"`
}

// treeView отдает дерево как есть или плоским списком при view=flat
func treeView(r *http.Request, roots []*categories.TreeNode) interface{} {
	if r.URL.Query().Get("view") == "flat" {
		return categories.Flatten(roots)
	}
	return roots
}

// SupplierTree дерево категорий поставщика с сопоставлениями
func (h *CategoryHandler) SupplierTree(w http.ResponseWriter, r *http.Request) {
	roots, err := h.categories.SupplierTree(r.Context(), supplierFrom(r.Context()))
	if err != nil {
		fail(w, r, h.logger, "Ошибка получения категорий поставщика", err)
		return
	}
	writeData(w, r, http.StatusOK, treeView(r, roots))
}

// InternalTree дерево внутреннего классификатора
func (h *CategoryHandler) InternalTree(w http.ResponseWriter, r *http.Request) {
	roots, err := h.categories.InternalTree(r.Context())
	if err != nil {
		fail(w, r, h.logger, "Ошибка получения внутренних категорий", err)
		return
	}
	writeData(w, r, http.StatusOK, treeView(r, roots))
}

// CreateInternal создает внутреннюю категорию
func (h *CategoryHandler) CreateInternal(w http.ResponseWriter, r *http.Request) {
	var input services.CreateInternalCategoryInput
	if err := render.DecodeJSON(r.Body, &input); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "Некорректный формат запроса")
		return
	}

	category, err := h.categories.CreateInternalCategory(r.Context(), input)
	if err != nil {
		fail(w, r, h.logger, "Ошибка создания категории", err)
		return
	}
	writeData(w, r, http.StatusCreated, category)
}

// Suggest подсказка сопоставления для одной категории поставщика
func (h *CategoryHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	alternatives := h.alternatives
	if raw := r.URL.Query().Get("alternatives"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "bad_request", "alternatives должно быть неотрицательным числом")
			return
		}
		alternatives = n
	}

	suggestion, err := h.categories.SuggestMapping(r.Context(), chi.URLParam(r, "id"), alternatives)
	if err != nil {
		fail(w, r, h.logger, "Ошибка подбора категории", err)
		return
	}
	writeData(w, r, http.StatusOK, suggestion)
}

// SuggestAll подсказки для всех несопоставленных категорий поставщика
func (h *CategoryHandler) SuggestAll(w http.ResponseWriter, r *http.Request) {
	suggestions, err := h.categories.SuggestForSupplier(r.Context(), supplierFrom(r.Context()))
	if err != nil {
		fail(w, r, h.logger, "Ошибка подбора категорий", err)
		return
	}
	writeData(w, r, http.StatusOK, suggestions)
}

// SetMapping сопоставляет категорию поставщика. Пустой internal_category_id снимает сопоставление.
func (h *CategoryHandler) SetMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "Некорректный формат запроса")
		return
	}

	if err := h.categories.SetMapping(r.Context(), chi.URLParam(r, "id"), req.InternalCategoryID); err != nil {
		fail(w, r, h.logger, "Ошибка сохранения сопоставления", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MapSubtree сопоставляет категорию и всех ее потомков
func (h *CategoryHandler) MapSubtree(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "Некорректный формат запроса")
		return
	}
	if req.InternalCategoryID == "" {
		fail(w, r, h.logger, "Ошибка сопоставления", fmt.Errorf("%w: не указана внутренняя категория", services.ErrInvalidRequest))
		return
	}

	mapped, err := h.categories.MapSubtree(r.Context(), chi.URLParam(r, "id"), req.InternalCategoryID)
	if err != nil {
		fail(w, r, h.logger, "Ошибка сопоставления поддерева", err)
		return
	}
	writeData(w, r, http.StatusOK, mapSubtreeResponse{Mapped: mapped})
}
