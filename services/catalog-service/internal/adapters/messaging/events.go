package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/ports"
	"github.com/google/uuid"
)

type KafkaEvent = string

const (
	ImportStartedEvent           KafkaEvent = ports.EventImportStarted
	ImportFinishedEvent          KafkaEvent = ports.EventImportFinished
	ProductReadinessChangedEvent KafkaEvent = ports.EventProductReadinessChanged
)

// Команды, которые принимает воркер
const (
	StartImportCommand      = "start_import"
	CancelImportCommand     = "cancel_import"
	RecomputeQualityCommand = "recompute_quality"
)

// Event конверт доменного события
type Event struct {
	ID         string          `json:"id"`
	Type       KafkaEvent      `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Command сообщение из топика команд каталога
type Command struct {
	Type               string   `json:"type"`
	SupplierID         string   `json:"supplier_id,omitempty"`
	UserID             string   `json:"user_id,omitempty"`
	ImportID           string   `json:"import_id,omitempty"`
	ProductID          string   `json:"product_id,omitempty"`
	FeedPath           string   `json:"feed_path,omitempty"`
	Mode               string   `json:"mode,omitempty"`
	SelectedCategories []string `json:"selected_categories,omitempty"`
}

// DecodeCommand разбирает и проверяет команду
func DecodeCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("некорректная команда: %w", err)
	}
	if cmd.Type == "" {
		return nil, fmt.Errorf("некорректная команда: не указан type")
	}
	return &cmd, nil
}

var _ ports.EventPublisher = (*EventPublisher)(nil)

// EventPublisher публикует доменные события в один топик
type EventPublisher struct {
	bus   interfaces.MessagingPort
	topic string
}

func NewEventPublisher(bus interfaces.MessagingPort, topic string) *EventPublisher {
	return &EventPublisher{bus: bus, topic: topic}
}

// PublishEvent упаковывает payload в Event, ключ задает партицию (обычно id поставщика)
func (p *EventPublisher) PublishEvent(ctx context.Context, eventType string, key string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события %s: %w", eventType, err)
	}

	data, err := json.Marshal(Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    body,
	})
	if err != nil {
		return fmt.Errorf("ошибка сериализации события %s: %w", eventType, err)
	}

	return p.bus.PublishWithKey(ctx, p.topic, key, data)
}
