package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"matchchat/pkg/logger"
)

// KafkaRelay публикует конверты в топик и читает их отдельной consumer
// group на каждый инстанс, так что каждый инстанс видит все события.
type KafkaRelay struct {
	producer sarama.SyncProducer
	group    sarama.ConsumerGroup
	topic    string
	groupID  string
	log      logger.Logger
}

func NewKafkaRelay(brokers []string, topic, groupPrefix string, log logger.Logger) (*KafkaRelay, error) {
	producerCfg := sarama.NewConfig()
	producerCfg.Version = sarama.V2_5_0_0
	producerCfg.Producer.RequiredAcks = sarama.WaitForAll
	producerCfg.Producer.Idempotent = true
	producerCfg.Producer.Return.Successes = true
	producerCfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, producerCfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	consumerCfg := sarama.NewConfig()
	consumerCfg.Version = sarama.V2_5_0_0
	// Новому инстансу история не нужна: пропущенное он сверит запросом.
	consumerCfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	groupID := fmt.Sprintf("%s-%s", groupPrefix, uuid.NewString())
	group, err := sarama.NewConsumerGroup(brokers, groupID, consumerCfg)
	if err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("kafka consumer group: %w", err)
	}

	return &KafkaRelay{
		producer: producer,
		group:    group,
		topic:    topic,
		groupID:  groupID,
		log:      log.With("component", "kafka_relay", "group_id", groupID),
	}, nil
}

func (k *KafkaRelay) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	// Ключ по первому каналу держит события одного матча в одной партиции.
	msg := &sarama.ProducerMessage{
		Topic:   k.topic,
		Key:     sarama.StringEncoder(env.Channels[0]),
		Value:   sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{{Key: []byte("event_kind"), Value: []byte(env.Event.Kind)}},
	}
	_, _, err = k.producer.SendMessage(msg)
	return err
}

// Run возвращается на первой ошибке Consume; перезапуск - забота Broker.Run.
func (k *KafkaRelay) Run(ctx context.Context, ready func(), deliver func(Envelope)) error {
	// Ребалансировка не теряет сообщений: новая сессия продолжает с
	// закоммиченного смещения, поэтому ready сообщаем один раз.
	var once sync.Once
	handler := relayGroupHandler{
		ready:   func() { once.Do(ready) },
		started: new(atomic.Int32),
		deliver: deliver,
		log:     k.log,
	}
	for {
		if err := k.group.Consume(ctx, []string{k.topic}, handler); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (k *KafkaRelay) Close() error {
	groupErr := k.group.Close()
	if err := k.producer.Close(); err != nil {
		return err
	}
	return groupErr
}

type relayGroupHandler struct {
	ready   func()
	started *atomic.Int32
	deliver func(Envelope)
	log     logger.Logger
}

func (h relayGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.started.Store(0)
	return nil
}

func (h relayGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h relayGroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	// Смещения OffsetNewest фиксируются при старте claim, так что готовы мы,
	// только когда запущены все партиции топика.
	if int(h.started.Add(1)) == len(sess.Claims()[claim.Topic()]) {
		h.ready()
	}
	for message := range claim.Messages() {
		var env Envelope
		if err := json.Unmarshal(message.Value, &env); err != nil {
			h.log.Warn("Skipping malformed envelope", "error", err, "offset", message.Offset)
		} else {
			h.deliver(env)
		}
		sess.MarkMessage(message, "")
	}
	return nil
}
