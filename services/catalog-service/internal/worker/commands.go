// Package worker обрабатывает команды каталога из брокера сообщений.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/messaging"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/quality"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/services"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/feed"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/metrics"
)

// ErrInvalidCommand команда без обязательных полей
var ErrInvalidCommand = errors.New("invalid command")

// Importer импорт фидов
type Importer interface {
	RunSync(ctx context.Context, req services.StartRequest) (*services.ImportResult, error)
	Cancel(ctx context.Context, importID string) error
}

// Recomputer пересчет готовности товаров
type Recomputer interface {
	RecomputeByID(ctx context.Context, productID, triggeredBy string) (*quality.Outcome, error)
	RecomputeSupplier(ctx context.Context, supplierID, triggeredBy string, cancel models.CancelToken) (quality.Summary, error)
}

// CommandHandler выполняет команды start_import, cancel_import и recompute_quality
type CommandHandler struct {
	imports     Importer
	quality     Recomputer
	logger      interfaces.LoggerPort
	maxFeedSize int64
}

// NewCommandHandler maxFeedSize ограничивает размер фида, читаемого с диска
func NewCommandHandler(imports Importer, quality Recomputer, logger interfaces.LoggerPort, maxFeedSize int64) *CommandHandler {
	return &CommandHandler{
		imports:     imports,
		quality:     quality,
		logger:      logger,
		maxFeedSize: maxFeedSize,
	}
}

// Handle обработчик сообщений для MessagingPort.Subscribe. Ошибка отправляет сообщение в dead-letter.
func (h *CommandHandler) Handle(ctx context.Context, msg *interfaces.Message) error {
	startTime := time.Now()
	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	cmd, err := messaging.DecodeCommand(msg.Value)
	if err != nil {
		h.logger.ErrorWithContext(ctx, "Ошибка декодирования команды",
			interfaces.LogField{Key: "message_id", Value: msg.ID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		metrics.CommandsProcessed.WithLabelValues("unknown", "invalid").Inc()
		return err
	}

	cmdCtx := ctx
	if cmd.UserID != "" {
		cmdCtx = context.WithValue(cmdCtx, interfaces.UserIDKey, cmd.UserID)
	}
	if cmd.SupplierID != "" {
		cmdCtx = context.WithValue(cmdCtx, interfaces.SupplierIDKey, cmd.SupplierID)
	}

	h.logger.InfoWithContext(cmdCtx, "Получена команда",
		interfaces.LogField{Key: "command_type", Value: cmd.Type},
		interfaces.LogField{Key: "message_id", Value: msg.ID},
	)

	switch cmd.Type {
	case messaging.StartImportCommand:
		err = h.startImport(cmdCtx, cmd)
	case messaging.CancelImportCommand:
		err = h.cancelImport(cmdCtx, cmd)
	case messaging.RecomputeQualityCommand:
		err = h.recompute(cmdCtx, cmd)
	default:
		h.logger.WarnWithContext(cmdCtx, "Неизвестный тип команды",
			interfaces.LogField{Key: "command_type", Value: cmd.Type})
		metrics.CommandsProcessed.WithLabelValues(cmd.Type, "unknown").Inc()
		return nil
	}

	duration := time.Since(startTime)
	metrics.CommandDuration.WithLabelValues(cmd.Type).Observe(duration.Seconds())
	if err != nil {
		h.logger.ErrorWithContext(cmdCtx, "Ошибка обработки команды",
			interfaces.LogField{Key: "command_type", Value: cmd.Type},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		metrics.CommandsProcessed.WithLabelValues(cmd.Type, "error").Inc()
		return err
	}

	metrics.CommandsProcessed.WithLabelValues(cmd.Type, "success").Inc()
	h.logger.InfoWithContext(cmdCtx, "Команда успешно обработана",
		interfaces.LogField{Key: "command_type", Value: cmd.Type},
		interfaces.LogField{Key: "duration", Value: duration.String()},
	)
	return nil
}

func (h *CommandHandler) startImport(ctx context.Context, cmd *messaging.Command) error {
	if cmd.SupplierID == "" || cmd.FeedPath == "" {
		return fmt.Errorf("%w: start_import требует supplier_id и feed_path", ErrInvalidCommand)
	}

	result, err := h.imports.RunSync(ctx, services.StartRequest{
		SupplierID:         cmd.SupplierID,
		UserID:             cmd.UserID,
		Source:             feed.FileSource{Path: cmd.FeedPath, MaxSize: h.maxFeedSize},
		Mode:               models.ImportMode(cmd.Mode),
		SelectedCategories: cmd.SelectedCategories,
	})
	if err != nil {
		return err
	}

	h.logger.InfoWithContext(ctx, "Импорт из команды завершен",
		interfaces.LogField{Key: "import_id", Value: result.ImportID},
		interfaces.LogField{Key: "status", Value: string(result.Status)},
	)
	return nil
}

func (h *CommandHandler) cancelImport(ctx context.Context, cmd *messaging.Command) error {
	if cmd.ImportID == "" {
		return fmt.Errorf("%w: cancel_import требует import_id", ErrInvalidCommand)
	}

	err := h.imports.Cancel(ctx, cmd.ImportID)
	if errors.Is(err, services.ErrImportFinished) {
		// повторная доставка после завершения импорта
		h.logger.InfoWithContext(ctx, "Импорт уже завершен", interfaces.LogField{Key: "import_id", Value: cmd.ImportID})
		return nil
	}
	return err
}

func (h *CommandHandler) recompute(ctx context.Context, cmd *messaging.Command) error {
	triggeredBy := "command"
	if cmd.UserID != "" {
		triggeredBy = "user:" + cmd.UserID
	}

	switch {
	case cmd.ProductID != "":
		outcome, err := h.quality.RecomputeByID(ctx, cmd.ProductID, triggeredBy)
		if err != nil {
			return err
		}
		h.logger.InfoWithContext(ctx, "Качество товара пересчитано",
			interfaces.LogField{Key: "product_id", Value: cmd.ProductID},
			interfaces.LogField{Key: "changed", Value: outcome.Changed},
		)
		return nil

	case cmd.SupplierID != "":
		summary, err := h.quality.RecomputeSupplier(ctx, cmd.SupplierID, triggeredBy, nil)
		if err != nil {
			return err
		}
		h.logger.InfoWithContext(ctx, "Качество товаров поставщика пересчитано",
			interfaces.LogField{Key: "processed", Value: summary.Processed},
			interfaces.LogField{Key: "changed", Value: summary.Changed},
			interfaces.LogField{Key: "errors", Value: summary.Errors},
		)
		if summary.Cancelled {
			return ctx.Err()
		}
		return nil
	}

	return fmt.Errorf("%w: recompute_quality требует product_id или supplier_id", ErrInvalidCommand)
}
