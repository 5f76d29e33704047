package messaging

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"
)

// KafkaMessaging реализация MessagingPort с использованием Kafka
type KafkaMessaging struct {
	producer       *kafka.Producer
	consumers      map[string]*kafka.Consumer
	consumersMutex sync.Mutex
	brokers        string
	groupID        string
	clientID       string
	deadLetter     string
	offsetReset    string
	sessionTimeout time.Duration
	logger         interfaces.LoggerPort
}

// KafkaOptions параметры подключения
type KafkaOptions struct {
	Brokers         []string
	GroupID         string
	ClientID        string
	DeadLetterTopic string
	// AutoOffsetReset earliest или latest, по умолчанию earliest
	AutoOffsetReset string
	SessionTimeout  time.Duration
}

// NewKafkaMessaging создает новый экземпляр KafkaMessaging
func NewKafkaMessaging(opts KafkaOptions, logger interfaces.LoggerPort) (interfaces.MessagingPort, error) {
	brokers := strings.Join(opts.Brokers, ",")
	clientID := opts.ClientID
	if clientID == "" {
		clientID = "catalog-service"
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":            brokers,
		"client.id":                    clientID + "-producer",
		"acks":                         "all",
		"retries":                      5,
		"retry.backoff.ms":             500,
		"compression.type":             "snappy",
		"linger.ms":                    10,
		"batch.size":                   16384,
		"message.max.bytes":            1000000,
		"queue.buffering.max.messages": 100000,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Kafka producer: %w", err)
	}

	k := &KafkaMessaging{
		producer:       producer,
		consumers:      make(map[string]*kafka.Consumer),
		brokers:        brokers,
		groupID:        opts.GroupID,
		clientID:       clientID,
		deadLetter:     opts.DeadLetterTopic,
		offsetReset:    opts.AutoOffsetReset,
		sessionTimeout: opts.SessionTimeout,
		logger:         logger,
	}
	if k.offsetReset == "" {
		k.offsetReset = "earliest"
	}
	if k.sessionTimeout <= 0 {
		k.sessionTimeout = 30 * time.Second
	}

	go k.watchDeliveries()

	return k, nil
}

// watchDeliveries читает отчеты о доставке, иначе канал событий producer переполняется
func (k *KafkaMessaging) watchDeliveries() {
	for ev := range k.producer.Events() {
		if m, ok := ev.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			k.logger.Error("Сообщение не доставлено",
				interfaces.LogField{Key: "topic", Value: topicName(m)},
				interfaces.LogField{Key: "error", Value: m.TopicPartition.Error.Error()},
			)
		}
	}
}

func topicName(msg *kafka.Message) string {
	if msg.TopicPartition.Topic == nil {
		return ""
	}
	return *msg.TopicPartition.Topic
}

// toKafkaMessage добавляет служебные заголовки message_id и timestamp
func toKafkaMessage(topic string, message []byte, key string, headers map[string]string) *kafka.Message {
	kafkaHeaders := make([]kafka.Header, 0, len(headers)+2)
	for k, v := range headers {
		kafkaHeaders = append(kafkaHeaders, kafka.Header{Key: k, Value: []byte(v)})
	}
	kafkaHeaders = append(kafkaHeaders,
		kafka.Header{Key: "message_id", Value: []byte(uuid.New().String())},
		kafka.Header{Key: "timestamp", Value: []byte(strconv.FormatInt(time.Now().UnixNano(), 10))},
	)

	var keyBytes []byte
	if key != "" {
		keyBytes = []byte(key)
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          message,
		Key:            keyBytes,
		Headers:        kafkaHeaders,
	}
}

func fromKafkaMessage(msg *kafka.Message) *interfaces.Message {
	headers := make(map[string]string, len(msg.Headers))
	for _, header := range msg.Headers {
		headers[header.Key] = string(header.Value)
	}

	publishedAt := msg.Timestamp
	if ts, ok := headers["timestamp"]; ok {
		if nanos, err := strconv.ParseInt(ts, 10, 64); err == nil {
			publishedAt = time.Unix(0, nanos)
		}
	}

	return &interfaces.Message{
		ID:          headers["message_id"],
		Topic:       topicName(msg),
		Key:         string(msg.Key),
		Value:       msg.Value,
		Headers:     headers,
		PublishedAt: publishedAt,
	}
}

// Publish публикует сообщение в указанную тему
func (k *KafkaMessaging) Publish(ctx context.Context, topic string, message []byte) error {
	return k.PublishWithKey(ctx, topic, "", message)
}

// PublishWithKey публикует сообщение с указанным ключом
func (k *KafkaMessaging) PublishWithKey(ctx context.Context, topic string, key string, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := k.producer.Produce(toKafkaMessage(topic, message, key, nil), nil); err != nil {
		return fmt.Errorf("ошибка публикации в %s: %w", topic, err)
	}
	return nil
}

// Subscribe подписывается на тему. Offset фиксируется вручную после успешной обработки,
// сообщения с ошибкой уходят в dead-letter тему, если она настроена.
func (k *KafkaMessaging) Subscribe(ctx context.Context, topic string, handler interfaces.MessageHandler) (func() error, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":     k.brokers,
		"group.id":              k.groupID,
		"client.id":             k.clientID + "-consumer",
		"auto.offset.reset":     k.offsetReset,
		"enable.auto.commit":    false,
		"session.timeout.ms":    int(k.sessionTimeout.Milliseconds()),
		"max.poll.interval.ms":  900000,
		"heartbeat.interval.ms": 3000,
		"fetch.wait.max.ms":     500,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Kafka consumer: %w", err)
	}

	if err := consumer.Subscribe(topic, nil); err != nil {
		consumer.Close()
		return nil, fmt.Errorf("ошибка подписки на топик %s: %w", topic, err)
	}

	id := uuid.New().String()
	k.consumersMutex.Lock()
	k.consumers[id] = consumer
	k.consumersMutex.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		k.consume(ctx, consumer, handler)
	}()

	var once sync.Once
	unsubscribe := func() error {
		var closeErr error
		once.Do(func() {
			k.consumersMutex.Lock()
			delete(k.consumers, id)
			k.consumersMutex.Unlock()
			closeErr = consumer.Close()
			<-done
		})
		return closeErr
	}

	return unsubscribe, nil
}

func (k *KafkaMessaging) consume(ctx context.Context, consumer *kafka.Consumer, handler interfaces.MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := consumer.Poll(100)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			msg := fromKafkaMessage(e)
			if err := handler(ctx, msg); err != nil {
				k.logger.Error("Ошибка обработки сообщения",
					interfaces.LogField{Key: "topic", Value: msg.Topic},
					interfaces.LogField{Key: "message_id", Value: msg.ID},
					interfaces.LogField{Key: "error", Value: err.Error()},
				)
				k.toDeadLetter(ctx, e, err)
			}
			if _, err := consumer.CommitMessage(e); err != nil {
				k.logger.Warn("Не удалось зафиксировать offset",
					interfaces.LogField{Key: "topic", Value: msg.Topic},
					interfaces.LogField{Key: "error", Value: err.Error()},
				)
			}

		case kafka.Error:
			k.logger.Error("Ошибка Kafka", interfaces.LogField{Key: "error", Value: e.Error()})
			if e.Code() == kafka.ErrAllBrokersDown {
				return
			}

		case kafka.PartitionEOF:
		default:
		}
	}
}

func (k *KafkaMessaging) toDeadLetter(ctx context.Context, original *kafka.Message, cause error) {
	if k.deadLetter == "" {
		return
	}
	headers := map[string]string{
		"original_topic": topicName(original),
		"error":          cause.Error(),
	}
	msg := toKafkaMessage(k.deadLetter, original.Value, string(original.Key), headers)
	if err := k.producer.Produce(msg, nil); err != nil {
		k.logger.Error("Не удалось отправить сообщение в dead-letter",
			interfaces.LogField{Key: "topic", Value: k.deadLetter},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}

// Close закрывает потребителей и дожидается отправки сообщений producer
func (k *KafkaMessaging) Close() error {
	k.consumersMutex.Lock()
	for id, consumer := range k.consumers {
		consumer.Close()
		delete(k.consumers, id)
	}
	k.consumersMutex.Unlock()

	k.producer.Flush(15 * 1000)
	k.producer.Close()

	return nil
}
