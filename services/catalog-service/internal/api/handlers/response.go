package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/ports"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/quality"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/services"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/feed"
	"github.com/go-chi/render"
)

// errorResponse представляет структуру ответа с ошибкой
type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// response представляет структуру успешного ответа
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	render.Status(r, status)
	render.JSON(w, r, response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: code, Code: status, Message: message})
}

// statusFor сопоставляет доменные ошибки с HTTP статусами
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidRequest),
		errors.Is(err, services.ErrInvalidCategory),
		errors.Is(err, quality.ErrInvalidTemplate),
		errors.Is(err, feed.ErrMalformedFeed),
		errors.Is(err, feed.ErrMissingProducts):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, feed.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "unsupported_format"
	case errors.Is(err, feed.ErrFeedTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, services.ErrImportNotFound),
		errors.Is(err, services.ErrSupplierCategoryNotFound),
		errors.Is(err, services.ErrInternalCategoryNotFound),
		errors.Is(err, quality.ErrProductNotFound),
		errors.Is(err, quality.ErrCategoryNotFound),
		errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ports.ErrImportInProgress),
		errors.Is(err, services.ErrImportFinished):
		return http.StatusConflict, "conflict"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal_error"
}

// fail пишет ответ по доменной ошибке. Внутренние ошибки логируются, текст наружу не отдается.
func fail(w http.ResponseWriter, r *http.Request, logger interfaces.LoggerPort, message string, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorWithContext(r.Context(), message, interfaces.LogField{Key: "error", Value: err.Error()})
		writeError(w, r, status, code, message)
		return
	}
	writeError(w, r, status, code, err.Error())
}

func supplierFrom(ctx context.Context) string {
	id, _ := ctx.Value(interfaces.SupplierIDKey).(string)
	return id
}

func userFrom(ctx context.Context) string {
	id, _ := ctx.Value(interfaces.UserIDKey).(string)
	return id
}

// pageParams читает page и page_size, границы проверяет utils.NewPagination
func pageParams(r *http.Request) (int, int) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil {
		page = 1
	}
	pageSize, err := strconv.Atoi(r.URL.Query().Get("page_size"))
	if err != nil {
		pageSize = 20
	}
	return page, pageSize
}
