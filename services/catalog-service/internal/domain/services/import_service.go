package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/pkg/utils"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/ports"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/feed"
	"github.com/google/uuid"
)

var (
	ErrImportNotFound = errors.New("import not found")
	ErrImportFinished = errors.New("import already finished")
)

// Ключи кэша импорта
const (
	lockKeyPrefix     = "import:supplier:"
	cancelKeyPrefix   = "import:cancel:"
	progressKeyPrefix = "import:progress:"
)

// ImportServiceConfig настройки запуска импортов
type ImportServiceConfig struct {
	// LockTTL время жизни блокировки поставщика, должно перекрывать самый долгий импорт
	LockTTL time.Duration
	// CancelPollInterval период проверки флага отмены, выставленного другим процессом
	CancelPollInterval time.Duration
	// ProgressTTL время хранения последнего события прогресса
	ProgressTTL time.Duration
}

// DefaultImportServiceConfig настройки по умолчанию
func DefaultImportServiceConfig() ImportServiceConfig {
	return ImportServiceConfig{
		LockTTL:            2 * time.Hour,
		CancelPollInterval: 2 * time.Second,
		ProgressTTL:        24 * time.Hour,
	}
}

// StartRequest параметры запуска импорта
type StartRequest struct {
	SupplierID         string
	UserID             string
	Source             feed.Source
	Mode               models.ImportMode
	SelectedCategories []string
}

// ImportService запускает импорты, не больше одного на поставщика,
// и дает доступ к их состоянию
type ImportService struct {
	pipeline *ImportPipeline
	store    ports.ImportStore
	cache    interfaces.CachePort
	logger   interfaces.LoggerPort
	cfg      ImportServiceConfig

	mu      sync.Mutex
	running map[string]*models.CancelFlag
	wg      sync.WaitGroup
}

func NewImportService(pipeline *ImportPipeline, store ports.ImportStore, cache interfaces.CachePort, logger interfaces.LoggerPort, cfg ImportServiceConfig) *ImportService {
	defaults := DefaultImportServiceConfig()
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaults.LockTTL
	}
	if cfg.CancelPollInterval <= 0 {
		cfg.CancelPollInterval = defaults.CancelPollInterval
	}
	if cfg.ProgressTTL <= 0 {
		cfg.ProgressTTL = defaults.ProgressTTL
	}
	return &ImportService{
		pipeline: pipeline,
		store:    store,
		cache:    cache,
		logger:   logger,
		cfg:      cfg,
		running:  make(map[string]*models.CancelFlag),
	}
}

// Start проверяет запрос, берет блокировку поставщика и запускает импорт в фоне.
// Возвращает id импорта. Отменить импорт можно сразу после возврата.
func (s *ImportService) Start(ctx context.Context, req StartRequest) (string, error) {
	run, err := s.prepare(ctx, req)
	if err != nil {
		return "", err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Импорт переживает HTTP-запрос, который его запустил
		if _, err := s.execute(context.WithoutCancel(ctx), run); err != nil {
			s.logger.ErrorWithContext(ctx, "Импорт завершился с ошибкой",
				interfaces.LogField{Key: "import_id", Value: run.job.ImportID},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
		}
	}()

	return run.job.ImportID, nil
}

// RunSync выполняет импорт в текущей горутине
func (s *ImportService) RunSync(ctx context.Context, req StartRequest) (*ImportResult, error) {
	run, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, run)
}

// preparedRun импорт, для которого взята блокировка поставщика и зарегистрирован флаг отмены
type preparedRun struct {
	job       RunRequest
	flag      *models.CancelFlag
	lockToken string
}

func (s *ImportService) prepare(ctx context.Context, req StartRequest) (*preparedRun, error) {
	if req.SupplierID == "" {
		return nil, fmt.Errorf("%w: не указан поставщик", ErrInvalidRequest)
	}
	if req.Mode == "" {
		req.Mode = models.ImportModeFull
	}
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: неизвестный режим %q", ErrInvalidRequest, req.Mode)
	}
	if req.Source == nil {
		return nil, fmt.Errorf("%w: нет фида", ErrInvalidRequest)
	}

	raw, err := req.Source.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	token, locked, err := s.cache.Lock(ctx, lockKeyPrefix+req.SupplierID, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения блокировки поставщика: %w", err)
	}
	if !locked {
		return nil, ports.ErrImportInProgress
	}

	importID := uuid.New().String()
	flag := models.NewCancelFlag()
	s.mu.Lock()
	s.running[importID] = flag
	s.mu.Unlock()

	return &preparedRun{
		job: RunRequest{
			ImportID:           importID,
			SupplierID:         req.SupplierID,
			UserID:             req.UserID,
			Feed:               raw,
			SelectedCategories: req.SelectedCategories,
			Mode:               req.Mode,
			Cancel:             flag,
		},
		flag:      flag,
		lockToken: token,
	}, nil
}

// execute запускает конвейер с публикацией прогресса в кэш.
// Флаг отмены снимается с учета, блокировка поставщика снимается по завершении.
func (s *ImportService) execute(ctx context.Context, run *preparedRun) (*ImportResult, error) {
	job := run.job

	progress := make(chan ProgressEvent, 16)
	done := make(chan struct{})
	var consumers sync.WaitGroup

	consumers.Add(2)
	go func() {
		defer consumers.Done()
		for event := range progress {
			s.storeProgress(ctx, event)
		}
	}()
	go func() {
		defer consumers.Done()
		s.watchCancel(ctx, job.ImportID, run.flag, done)
	}()

	job.Progress = progress
	result, err := s.pipeline.Run(ctx, job)

	close(progress)
	close(done)
	consumers.Wait()

	s.mu.Lock()
	delete(s.running, job.ImportID)
	s.mu.Unlock()

	cleanupCtx := context.WithoutCancel(ctx)
	if unlockErr := s.cache.Unlock(cleanupCtx, lockKeyPrefix+job.SupplierID, run.lockToken); unlockErr != nil {
		s.logger.WarnWithContext(ctx, "Не удалось снять блокировку поставщика",
			interfaces.LogField{Key: "supplier_id", Value: job.SupplierID},
			interfaces.LogField{Key: "error", Value: unlockErr.Error()},
		)
	}
	_ = s.cache.Delete(cleanupCtx, cancelKeyPrefix+job.ImportID)

	return result, err
}

// watchCancel переносит флаг отмены из кэша (выставленный другим инстансом) в локальный флаг
func (s *ImportService) watchCancel(ctx context.Context, importID string, flag *models.CancelFlag, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.CancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancelled, err := s.cache.Exists(ctx, cancelKeyPrefix+importID)
			if err != nil {
				s.logger.WarnWithContext(ctx, "Ошибка проверки флага отмены", interfaces.LogField{Key: "error", Value: err.Error()})
				continue
			}
			if cancelled {
				flag.Cancel()
				return
			}
		}
	}
}

func (s *ImportService) storeProgress(ctx context.Context, event ProgressEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, progressKeyPrefix+event.ImportID, data, s.cfg.ProgressTTL); err != nil {
		s.logger.DebugWithContext(ctx, "Не удалось сохранить прогресс импорта", interfaces.LogField{Key: "error", Value: err.Error()})
	}
}

// Cancel запрашивает отмену импорта. Импорт, идущий в этом процессе, отменяется сразу,
// остальные через флаг в кэше.
func (s *ImportService) Cancel(ctx context.Context, importID string) error {
	run, err := s.store.GetImportRun(ctx, importID)
	if err != nil {
		return fmt.Errorf("ошибка чтения импорта: %w", err)
	}
	if run == nil {
		s.mu.Lock()
		_, local := s.running[importID]
		s.mu.Unlock()
		if !local {
			return ErrImportNotFound
		}
	} else if run.Status.IsTerminal() {
		return ErrImportFinished
	}

	s.mu.Lock()
	flag, ok := s.running[importID]
	s.mu.Unlock()
	if ok {
		flag.Cancel()
	}

	if err := s.cache.Set(ctx, cancelKeyPrefix+importID, []byte("1"), s.cfg.LockTTL); err != nil {
		if ok {
			return nil
		}
		return fmt.Errorf("ошибка установки флага отмены: %w", err)
	}

	s.logger.InfoWithContext(ctx, "Запрошена отмена импорта", interfaces.LogField{Key: "import_id", Value: importID})
	return nil
}

// Progress последнее событие прогресса. Если его нет в кэше, строится по записи импорта.
func (s *ImportService) Progress(ctx context.Context, importID string) (*ProgressEvent, error) {
	data, err := s.cache.Get(ctx, progressKeyPrefix+importID)
	if err == nil {
		var event ProgressEvent
		if err := json.Unmarshal(data, &event); err == nil {
			return &event, nil
		}
	} else if !errors.Is(err, interfaces.ErrCacheMiss) {
		s.logger.WarnWithContext(ctx, "Ошибка чтения прогресса из кэша", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	run, err := s.store.GetImportRun(ctx, importID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения импорта: %w", err)
	}
	if run == nil {
		return nil, ErrImportNotFound
	}
	return &ProgressEvent{ImportID: run.ID, Stage: stageForStatus(run.Status), Stats: run.Stats, Message: run.ErrorMessage}, nil
}

func stageForStatus(status models.ImportStatus) string {
	switch status {
	case models.ImportStatusCompleted:
		return StageCompleted
	case models.ImportStatusCancelled:
		return StageCancelled
	case models.ImportStatusFailed:
		return StageFailed
	default:
		return StageParsing
	}
}

// Get запись импорта
func (s *ImportService) Get(ctx context.Context, importID string) (*models.ImportRun, error) {
	run, err := s.store.GetImportRun(ctx, importID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения импорта: %w", err)
	}
	if run == nil {
		return nil, ErrImportNotFound
	}
	return run, nil
}

// List импорты поставщика, новые первыми
func (s *ImportService) List(ctx context.Context, supplierID string, page, pageSize int) (*utils.PagedResult, error) {
	pagination := utils.NewPagination(page, pageSize)
	runs, total, err := s.store.ListImportRuns(ctx, supplierID, pagination.GetLimit(), pagination.GetOffset())
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения импортов: %w", err)
	}
	pagination.SetTotal(total)
	return utils.NewPagedResult(runs, pagination), nil
}

// Diffs изменения полей товаров, записанные импортом
func (s *ImportService) Diffs(ctx context.Context, importID string, page, pageSize int) (*utils.PagedResult, error) {
	if _, err := s.Get(ctx, importID); err != nil {
		return nil, err
	}
	pagination := utils.NewPagination(page, pageSize)
	diffs, total, err := s.store.ListDiffs(ctx, importID, pagination.GetLimit(), pagination.GetOffset())
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения изменений: %w", err)
	}
	pagination.SetTotal(total)
	return utils.NewPagedResult(diffs, pagination), nil
}

// Prescan разбирает фид без записи в хранилище
func (s *ImportService) Prescan(ctx context.Context, source feed.Source) (*PrescanResult, error) {
	raw, err := source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return s.pipeline.Prescan(raw)
}

// Wait ждет завершения фоновых импортов
func (s *ImportService) Wait() {
	s.wg.Wait()
}

// CancelAll отменяет импорты, идущие в этом процессе. Возвращает их количество.
func (s *ImportService) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, flag := range s.running {
		flag.Cancel()
	}
	return len(s.running)
}
