package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/pkg/utils"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/services"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/feed"
	"github.com/go-chi/chi/v5"
)

// ImportUseCases операции импорта, нужные обработчику
type ImportUseCases interface {
	Start(ctx context.Context, req services.StartRequest) (string, error)
	Cancel(ctx context.Context, importID string) error
	Progress(ctx context.Context, importID string) (*services.ProgressEvent, error)
	Get(ctx context.Context, importID string) (*models.ImportRun, error)
	List(ctx context.Context, supplierID string, page, pageSize int) (*utils.PagedResult, error)
	Diffs(ctx context.Context, importID string, page, pageSize int) (*utils.PagedResult, error)
	Prescan(ctx context.Context, source feed.Source) (*services.PrescanResult, error)
}

// ImportHandler обработчик запросов импорта фидов
type ImportHandler struct {
	imports     ImportUseCases
	logger      interfaces.LoggerPort
	maxFeedSize int64
}

// NewImportHandler создает обработчик. maxFeedSize <= 0 снимает ограничение на размер фида.
func NewImportHandler(imports ImportUseCases, logger interfaces.LoggerPort, maxFeedSize int64) *ImportHandler {
	return &ImportHandler{
		imports:     imports,
		logger:      logger,
		maxFeedSize: maxFeedSize,
	}
}

type startImportResponse struct {
	ImportID string `json:"import_id"`
}

// readFeed читает фид из multipart-поля file или из тела запроса.
// Для тела имя файла берется из параметра filename, по умолчанию feed.json.
func (h *ImportHandler) readFeed(w http.ResponseWriter, r *http.Request) (feed.BytesSource, error) {
	if h.maxFeedSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxFeedSize+1<<20)
	}

	var (
		filename string
		body     io.Reader
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			if isTooLarge(err) {
				return feed.BytesSource{}, feed.ErrFeedTooLarge
			}
			return feed.BytesSource{}, fmt.Errorf("%w: нет файла фида", services.ErrInvalidRequest)
		}
		defer file.Close()
		filename, body = header.Filename, file
	} else {
		filename = r.URL.Query().Get("filename")
		if filename == "" {
			filename = "feed.json"
		}
		body = r.Body
	}

	data, err := io.ReadAll(body)
	if err != nil {
		if isTooLarge(err) {
			return feed.BytesSource{}, feed.ErrFeedTooLarge
		}
		return feed.BytesSource{}, fmt.Errorf("ошибка чтения фида: %w", err)
	}
	if h.maxFeedSize > 0 && int64(len(data)) > h.maxFeedSize {
		return feed.BytesSource{}, fmt.Errorf("%w: больше %d байт", feed.ErrFeedTooLarge, h.maxFeedSize)
	}
	if len(data) == 0 {
		return feed.BytesSource{}, fmt.Errorf("%w: пустой фид", services.ErrInvalidRequest)
	}
	return feed.BytesSource{Filename: filename, Data: data}, nil
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// selectedCategories принимает повторяющийся параметр и список через запятую
func selectedCategories(values []string) []string {
	var out []string
	for _, v := range values {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

// StartImport принимает фид и запускает импорт в фоне
func (h *ImportHandler) StartImport(w http.ResponseWriter, r *http.Request) {
	source, err := h.readFeed(w, r)
	if err != nil {
		fail(w, r, h.logger, "Ошибка чтения фида", err)
		return
	}

	// после readFeed multipart-форма уже разобрана, r.FormValue видит и ее поля
	req := services.StartRequest{
		SupplierID:         supplierFrom(r.Context()),
		UserID:             userFrom(r.Context()),
		Source:             source,
		Mode:               models.ImportMode(r.FormValue("mode")),
		SelectedCategories: selectedCategories(formValues(r, "selected_categories")),
	}

	importID, err := h.imports.Start(r.Context(), req)
	if err != nil {
		fail(w, r, h.logger, "Ошибка запуска импорта", err)
		return
	}

	h.logger.InfoWithContext(r.Context(), "Импорт запущен",
		interfaces.LogField{Key: "import_id", Value: importID},
		interfaces.LogField{Key: "supplier_id", Value: req.SupplierID},
		interfaces.LogField{Key: "filename", Value: source.Filename},
	)
	writeData(w, r, http.StatusAccepted, startImportResponse{ImportID: importID})
}

func formValues(r *http.Request, key string) []string {
	values := r.URL.Query()[key]
	if r.MultipartForm != nil {
		values = append(values, r.MultipartForm.Value[key]...)
	}
	return values
}

// Prescan разбирает фид и возвращает дерево категорий без записи в каталог
func (h *ImportHandler) Prescan(w http.ResponseWriter, r *http.Request) {
	source, err := h.readFeed(w, r)
	if err != nil {
		fail(w, r, h.logger, "Ошибка чтения фида", err)
		return
	}

	result, err := h.imports.Prescan(r.Context(), source)
	if err != nil {
		fail(w, r, h.logger, "Ошибка разбора фида", err)
		return
	}
	writeData(w, r, http.StatusOK, result)
}

// ListImports импорты поставщика, новые первыми
func (h *ImportHandler) ListImports(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	result, err := h.imports.List(r.Context(), supplierFrom(r.Context()), page, pageSize)
	if err != nil {
		fail(w, r, h.logger, "Ошибка получения списка импортов", err)
		return
	}
	writeData(w, r, http.StatusOK, result)
}

// ownRun читает импорт и проверяет, что он принадлежит поставщику из запроса
func (h *ImportHandler) ownRun(r *http.Request) (*models.ImportRun, error) {
	run, err := h.imports.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if run.SupplierID != supplierFrom(r.Context()) {
		return nil, services.ErrImportNotFound
	}
	return run, nil
}

// GetImport запись импорта
func (h *ImportHandler) GetImport(w http.ResponseWriter, r *http.Request) {
	run, err := h.ownRun(r)
	if err != nil {
		fail(w, r, h.logger, "Ошибка получения импорта", err)
		return
	}
	writeData(w, r, http.StatusOK, run)
}

// allowRun пропускает импорт своего поставщика и импорт, записи которого еще нет.
// Запись появляется не сразу после запуска, прогресс в кэше может ее опережать.
func (h *ImportHandler) allowRun(r *http.Request) error {
	run, err := h.imports.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, services.ErrImportNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if run.SupplierID != supplierFrom(r.Context()) {
		return services.ErrImportNotFound
	}
	return nil
}

// Progress последнее событие прогресса импорта
func (h *ImportHandler) Progress(w http.ResponseWriter, r *http.Request) {
	if err := h.allowRun(r); err != nil {
		fail(w, r, h.logger, "Ошибка получения импорта", err)
		return
	}

	event, err := h.imports.Progress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, "Ошибка получения прогресса", err)
		return
	}
	writeData(w, r, http.StatusOK, event)
}

// CancelImport запрашивает отмену импорта
func (h *ImportHandler) CancelImport(w http.ResponseWriter, r *http.Request) {
	if err := h.allowRun(r); err != nil {
		fail(w, r, h.logger, "Ошибка получения импорта", err)
		return
	}

	importID := chi.URLParam(r, "id")
	if err := h.imports.Cancel(r.Context(), importID); err != nil {
		fail(w, r, h.logger, "Ошибка отмены импорта", err)
		return
	}
	writeData(w, r, http.StatusAccepted, startImportResponse{ImportID: importID})
}

// Diffs изменения товаров, записанные импортом
func (h *ImportHandler) Diffs(w http.ResponseWriter, r *http.Request) {
	run, err := h.ownRun(r)
	if err != nil {
		fail(w, r, h.logger, "Ошибка получения импорта", err)
		return
	}

	page, pageSize := pageParams(r)
	result, err := h.imports.Diffs(r.Context(), run.ID, page, pageSize)
	if err != nil {
		fail(w, r, h.logger, "Ошибка получения изменений", err)
		return
	}
	writeData(w, r, http.StatusOK, result)
}
