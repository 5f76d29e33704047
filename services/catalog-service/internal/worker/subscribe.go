package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
)

// Subscribe подписывает n потребителей на топик. В Kafka они делят партиции одной группы,
// так что команды выполняются параллельно не больше чем по n.
// Возвращает функцию, снимающую все подписки.
func Subscribe(ctx context.Context, bus interfaces.MessagingPort, topic string, handler interfaces.MessageHandler, n int) (func() error, error) {
	if n < 1 {
		n = 1
	}

	unsubscribers := make([]func() error, 0, n)
	unsubscribeAll := func() error {
		var errs []error
		for _, unsubscribe := range unsubscribers {
			if err := unsubscribe(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	for i := 0; i < n; i++ {
		unsubscribe, err := bus.Subscribe(ctx, topic, handler)
		if err != nil {
			_ = unsubscribeAll()
			return nil, fmt.Errorf("ошибка подписки на %s: %w", topic, err)
		}
		unsubscribers = append(unsubscribers, unsubscribe)
	}
	return unsubscribeAll, nil
}
