package sink

import (
	"context"

	"github.com/84hero/chain-scanner/pkg/record"
	"github.com/IBM/sarama"
	"github.com/pkg/errors"
)

// KafkaOutput produces one message per record, keyed by the record key.
type KafkaOutput struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaOutput(brokers []string, topic, user, password string) (*KafkaOutput, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	if user != "" {
		config.Net.SASL.Enable = true
		config.Net.SASL.User = user
		config.Net.SASL.Password = password
	}
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, errors.Wrap(err, "kafka producer")
	}
	return newKafkaOutput(producer, topic), nil
}

func newKafkaOutput(producer sarama.SyncProducer, topic string) *KafkaOutput {
	return &KafkaOutput{producer: producer, topic: topic}
}

func (k *KafkaOutput) Name() string { return "kafka" }

func (k *KafkaOutput) Send(ctx context.Context, events []record.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]*sarama.ProducerMessage, 0, len(events))
	for _, e := range events {
		data, err := encode(e)
		if err != nil {
			return err
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: k.topic,
			Key:   sarama.StringEncoder(e.Key),
			Value: sarama.ByteEncoder(data),
			Headers: []sarama.RecordHeader{
				{Key: []byte("granularity"), Value: []byte(e.Granularity)},
			},
		})
	}
	return k.producer.SendMessages(msgs)
}

func (k *KafkaOutput) Close() error {
	if k.producer == nil {
		return nil
	}
	return k.producer.Close()
}
