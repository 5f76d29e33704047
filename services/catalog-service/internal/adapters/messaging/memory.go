package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/google/uuid"
)

// MemoryBus синхронная шина в памяти. Обработчики вызываются в горутине публикующего.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string]map[string]interfaces.MessageHandler
	history  []interfaces.Message
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string]map[string]interfaces.MessageHandler)}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, message []byte) error {
	return b.PublishWithKey(ctx, topic, "", message)
}

func (b *MemoryBus) PublishWithKey(ctx context.Context, topic string, key string, message []byte) error {
	msg := interfaces.Message{
		ID:          uuid.New().String(),
		Topic:       topic,
		Key:         key,
		Value:       append([]byte(nil), message...),
		Headers:     map[string]string{},
		PublishedAt: time.Now(),
	}

	b.mu.Lock()
	b.history = append(b.history, msg)
	handlers := make([]interfaces.MessageHandler, 0, len(b.handlers[topic]))
	for _, h := range b.handlers[topic] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		m := msg
		if err := h(ctx, &m); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, topic string, handler interfaces.MessageHandler) (func() error, error) {
	id := uuid.New().String()

	b.mu.Lock()
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[string]interfaces.MessageHandler)
	}
	b.handlers[topic][id] = handler
	b.mu.Unlock()

	return func() error {
		b.mu.Lock()
		delete(b.handlers[topic], id)
		b.mu.Unlock()
		return nil
	}, nil
}

// Messages возвращает копию опубликованных сообщений темы
func (b *MemoryBus) Messages(topic string) []interfaces.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []interfaces.Message
	for _, m := range b.history {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.handlers = make(map[string]map[string]interfaces.MessageHandler)
	b.mu.Unlock()
	return nil
}
