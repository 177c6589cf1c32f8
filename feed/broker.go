package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	uuid "github.com/hashicorp/go-uuid"

	"github.com/ouziel-slama/kontor/kerrors"
)

// Broker is an optional sarama-backed fan-out of the Processed/Rolledback
// stream to an external topic, for deployments that want other processes
// to observe reactor progress. It runs a single producer and a single
// consumer-group reader loop over one topic.
type Broker struct {
	producer sarama.AsyncProducer
	admin    sarama.ClusterAdmin
	consumer sarama.ConsumerGroup
	topic    string
	replicas int16

	mu      sync.Mutex
	handler func(Event) error
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBroker dials brokerList and prepares a producer/admin client for
// topic.
func NewBroker(brokerList []string, topic string, replicas int16) (*Broker, error) {
	pconf := sarama.NewConfig()
	pconf.Producer.RequiredAcks = sarama.WaitForLocal
	pconf.Producer.Compression = sarama.CompressionSnappy
	pconf.Producer.Flush.Frequency = 500 * time.Millisecond
	pconf.Producer.Return.Successes = false

	producer, err := sarama.NewAsyncProducer(brokerList, pconf)
	if err != nil {
		return nil, kerrors.Chain("start sarama producer", err)
	}

	aconf := sarama.NewConfig()
	aconf.Version = sarama.MaxVersion
	admin, err := sarama.NewClusterAdmin(brokerList, aconf)
	if err != nil {
		producer.Close()
		return nil, kerrors.Chain("start sarama cluster admin", err)
	}

	b := &Broker{producer: producer, admin: admin, topic: topic, replicas: replicas}
	if err := b.ensureTopic(); err != nil {
		producer.Close()
		admin.Close()
		return nil, err
	}

	groupID := "kontor-feed"
	cconf := sarama.NewConfig()
	cconf.Version = sarama.MaxVersion
	cconf.Consumer.Group.Session.Timeout = 6 * time.Second
	cconf.Consumer.Group.Heartbeat.Interval = 2 * time.Second
	id, err := uuid.GenerateUUID()
	if err != nil {
		id = "no-uuid"
	}
	cconf.ClientID = fmt.Sprintf("%s-%s", groupID, id)

	consumer, err := sarama.NewConsumerGroup(brokerList, groupID, cconf)
	if err != nil {
		producer.Close()
		admin.Close()
		return nil, kerrors.Chain("start sarama consumer group", err)
	}
	b.consumer = consumer

	return b, nil
}

func (b *Broker) ensureTopic() error {
	err := b.admin.CreateTopic(b.topic, &sarama.TopicDetail{
		NumPartitions:     10,
		ReplicationFactor: b.replicas,
	}, false)
	if err != nil {
		if topicErr, ok := err.(*sarama.TopicError); ok && topicErr.Err == sarama.ErrTopicAlreadyExists {
			return nil
		}
		return kerrors.Chain("create kafka topic", err)
	}
	return nil
}

// Publish marshals ev as JSON and hands it to the async producer.
func (b *Broker) Publish(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return kerrors.Chain("marshal feed event", err)
	}
	b.producer.Input() <- &sarama.ProducerMessage{
		Topic: b.topic,
		Value: sarama.ByteEncoder(data),
	}
	return nil
}

// ConsumeClaim satisfies sarama.ConsumerGroupHandler, dispatching each
// claimed message to the registered handler.
func (b *Broker) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var ev Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			logger.Error("malformed feed event on kafka", "err", err)
			session.MarkMessage(msg, "")
			continue
		}
		b.mu.Lock()
		h := b.handler
		b.mu.Unlock()
		if h != nil {
			if err := h(ev); err != nil {
				logger.Error("feed handler failed", "err", err)
			}
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

func (b *Broker) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (b *Broker) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// Subscribe starts consuming b.topic and invokes handler for every
// decoded event until ctx is cancelled.
func (b *Broker) Subscribe(ctx context.Context, handler func(Event) error) {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		for {
			if err := b.consumer.Consume(ctx, []string{b.topic}, b); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error("kafka consume error", "err", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
}

// Close shuts down the producer, consumer group, and admin client.
func (b *Broker) Close() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	var firstErr error
	if err := b.producer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := b.consumer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := b.admin.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
