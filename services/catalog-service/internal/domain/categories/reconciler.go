// Package categories сводит категории фида с хранилищем и строит деревья категорий.
package categories

import (
	"context"
	"strings"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/ports"
)

// ReconcileResult итог сведения категорий
type ReconcileResult struct {
	Created   int
	Updated   int
	Skipped   int
	Errors    int
	Cancelled bool
	// IDMap внешний id категории -> внутренний id
	IDMap map[string]string
}

// Reconciler сводит плоский список категорий фида с хранилищем в два прохода:
// сначала сохраняет категории (родитель раньше потомка, где это возможно),
// затем проставляет родителей по карте id, построенной на первом проходе.
type Reconciler struct {
	store      ports.CategoryStore
	logger     interfaces.LoggerPort
	onProgress func(done, total int)
}

func NewReconciler(store ports.CategoryStore, logger interfaces.LoggerPort) *Reconciler {
	return &Reconciler{store: store, logger: logger}
}

// WithProgress возвращает копию, которая сообщает о каждой обработанной категории
func (r *Reconciler) WithProgress(fn func(done, total int)) *Reconciler {
	cp := *r
	cp.onProgress = fn
	return &cp
}

// Reconcile ошибки сохранения отдельных категорий считаются и логируются, но не прерывают работу.
// При отмене возвращается частичный результат с Cancelled = true.
func (r *Reconciler) Reconcile(ctx context.Context, supplierID string, inputs []models.CategoryInput, cancel models.CancelToken) (*ReconcileResult, error) {
	result := &ReconcileResult{IDMap: make(map[string]string, len(inputs))}

	unique, skipped := dedupe(inputs)
	result.Skipped = skipped

	ordered := OrderParentsFirst(unique)
	total := len(ordered)
	saved := make([]*models.SupplierCategory, 0, total)

	for i, in := range ordered {
		if models.IsCancelled(cancel) || ctx.Err() != nil {
			result.Cancelled = true
			return result, nil
		}

		category := &models.SupplierCategory{
			SupplierID: supplierID,
			ExternalID: in.ExternalID,
			Name:       in.Name,
		}
		created, err := r.store.UpsertSupplierCategory(ctx, category)
		if err != nil {
			result.Errors++
			r.logger.WarnWithContext(ctx, "Не удалось сохранить категорию",
				interfaces.LogField{Key: "external_id", Value: in.ExternalID},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
		} else {
			if created {
				result.Created++
			} else {
				result.Updated++
			}
			result.IDMap[in.ExternalID] = category.ID
			saved = append(saved, category)
		}

		if r.onProgress != nil {
			r.onProgress(i+1, total)
		}
	}

	parentRefs := make(map[string]string, len(ordered))
	for _, in := range ordered {
		parentRefs[in.ExternalID] = in.ParentExternalID
	}

	// второй проход: id -> назначенный родитель, для обнаружения циклов
	assigned := make(map[string]string, len(saved))
	for _, category := range saved {
		if models.IsCancelled(cancel) || ctx.Err() != nil {
			result.Cancelled = true
			return result, nil
		}

		var parentID *string
		if pid, ok := result.IDMap[parentRefs[category.ExternalID]]; ok && pid != category.ID && !closesCycle(assigned, category.ID, pid) {
			parentID = models.StringPtr(pid)
			assigned[category.ID] = pid
		}

		if sameParent(category.ParentID, parentID) {
			continue
		}
		if err := r.store.SetSupplierCategoryParent(ctx, category.ID, parentID); err != nil {
			result.Errors++
			r.logger.WarnWithContext(ctx, "Не удалось установить родителя категории",
				interfaces.LogField{Key: "external_id", Value: category.ExternalID},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
			continue
		}
		category.ParentID = parentID
	}

	return result, nil
}

// dedupe убирает записи без внешнего id и повторы (остается первая)
func dedupe(inputs []models.CategoryInput) ([]models.CategoryInput, int) {
	seen := make(map[string]struct{}, len(inputs))
	out := make([]models.CategoryInput, 0, len(inputs))
	skipped := 0

	for _, in := range inputs {
		in.ExternalID = strings.TrimSpace(in.ExternalID)
		in.ParentExternalID = strings.TrimSpace(in.ParentExternalID)
		if in.ExternalID == "" {
			skipped++
			continue
		}
		if _, ok := seen[in.ExternalID]; ok {
			skipped++
			continue
		}
		seen[in.ExternalID] = struct{}{}
		if in.Name.IsEmpty() {
			in.Name = models.LocalizedText{RU: in.ExternalID, UK: in.ExternalID}
		}
		out = append(out, in)
	}

	return out, skipped
}

// OrderParentsFirst упорядочивает категории так, чтобы родитель шел раньше потомка.
// Если полный проход не продвинулся (цикл или ссылка на отсутствующего родителя),
// оставшиеся категории добавляются как корневые, поэтому функция всегда завершается.
func OrderParentsFirst(inputs []models.CategoryInput) []models.CategoryInput {
	ordered := make([]models.CategoryInput, 0, len(inputs))
	processed := make(map[string]struct{}, len(inputs))
	pending := inputs

	for len(pending) > 0 {
		next := pending[:0:0]
		progress := false

		for _, in := range pending {
			_, parentDone := processed[in.ParentExternalID]
			if in.ParentExternalID == "" || parentDone {
				ordered = append(ordered, in)
				processed[in.ExternalID] = struct{}{}
				progress = true
				continue
			}
			next = append(next, in)
		}

		if !progress {
			ordered = append(ordered, next...)
			break
		}
		pending = next
	}

	return ordered
}

// closesCycle проверяет, приведет ли связь child -> parent к циклу
func closesCycle(assigned map[string]string, child, parent string) bool {
	seen := make(map[string]struct{})
	for cur := parent; cur != ""; cur = assigned[cur] {
		if cur == child {
			return true
		}
		if _, ok := seen[cur]; ok {
			return true
		}
		seen[cur] = struct{}{}
	}
	return false
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
