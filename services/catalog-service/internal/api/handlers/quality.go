package handlers

import (
	"context"
	"net/http"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/quality"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// QualityUseCases операции оценки качества, нужные обработчику
type QualityUseCases interface {
	Template(ctx context.Context, internalCategoryID string) (*models.QualityTemplate, error)
	SaveTemplate(ctx context.Context, template *models.QualityTemplate) error
	RecomputeByID(ctx context.Context, productID, triggeredBy string) (*quality.Outcome, error)
	RecomputeSupplier(ctx context.Context, supplierID, triggeredBy string, cancel models.CancelToken) (quality.Summary, error)
}

// QualityHandler обработчик шаблонов качества и пересчета готовности
type QualityHandler struct {
	quality QualityUseCases
	logger  interfaces.LoggerPort
}

func NewQualityHandler(quality QualityUseCases, logger interfaces.LoggerPort) *QualityHandler {
	return &QualityHandler{quality: quality, logger: logger}
}

type templateRequest struct {
	RequiredAttributes   []string `json:"required_attributes"`
	MinImages            int      `json:"min_images"`
	SellingPriceRequired bool     `json:"selling_price_required"`
}

type recomputeResponse struct {
	Result  models.QualityResult `json:"result"`
	Changed bool                 `json:"changed"`
}

func triggeredBy(ctx context.Context) string {
	if user := userFrom(ctx); user != "" {
		return "user:" + user
	}
	return "api"
}

// GetTemplate шаблон качества внутренней категории, при отсутствии шаблон по умолчанию
func (h *QualityHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	template, err := h.quality.Template(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, "Ошибка получения шаблона", err)
		return
	}
	writeData(w, r, http.StatusOK, template)
}

// PutTemplate сохраняет шаблон качества категории
func (h *QualityHandler) PutTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "Некорректный формат запроса")
		return
	}

	template := &models.QualityTemplate{
		InternalCategoryID:   chi.URLParam(r, "id"),
		RequiredAttributes:   req.RequiredAttributes,
		MinImages:            req.MinImages,
		SellingPriceRequired: req.SellingPriceRequired,
	}
	if err := h.quality.SaveTemplate(r.Context(), template); err != nil {
		fail(w, r, h.logger, "Ошибка сохранения шаблона", err)
		return
	}
	writeData(w, r, http.StatusOK, template)
}

// RecomputeProduct пересчитывает готовность одного товара
func (h *QualityHandler) RecomputeProduct(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.quality.RecomputeByID(r.Context(), chi.URLParam(r, "id"), triggeredBy(r.Context()))
	if err != nil {
		fail(w, r, h.logger, "Ошибка пересчета качества", err)
		return
	}
	writeData(w, r, http.StatusOK, recomputeResponse{Result: outcome.Result, Changed: outcome.Changed})
}

// RecomputeSupplier пересчитывает готовность всех товаров поставщика
func (h *QualityHandler) RecomputeSupplier(w http.ResponseWriter, r *http.Request) {
	summary, err := h.quality.RecomputeSupplier(r.Context(), supplierFrom(r.Context()), triggeredBy(r.Context()), nil)
	if err != nil {
		fail(w, r, h.logger, "Ошибка пересчета качества", err)
		return
	}
	writeData(w, r, http.StatusOK, summary)
}
