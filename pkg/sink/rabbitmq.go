package sink

import (
	"context"

	"github.com/84hero/chain-scanner/pkg/record"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQOutput publishes persistent JSON messages to an exchange.
type RabbitMQOutput struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

func NewRabbitMQOutput(url, exchange, routingKey, queueName string, durable bool) (*RabbitMQOutput, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "amqp dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "amqp channel")
	}
	fail := func(err error, what string) (*RabbitMQOutput, error) {
		ch.Close()
		conn.Close()
		return nil, errors.Wrap(err, what)
	}
	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, "topic", durable, false, false, false, nil); err != nil {
			return fail(err, "declare exchange")
		}
	}
	if queueName != "" {
		q, err := ch.QueueDeclare(queueName, durable, false, false, false, nil)
		if err != nil {
			return fail(err, "declare queue")
		}
		if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return fail(err, "bind queue")
		}
	}
	return &RabbitMQOutput{conn: conn, ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

func (r *RabbitMQOutput) Name() string { return "rabbitmq" }

func (r *RabbitMQOutput) Send(ctx context.Context, events []record.Event) error {
	for _, e := range events {
		data, err := encode(e)
		if err != nil {
			return err
		}
		err = r.ch.PublishWithContext(ctx, r.exchange, r.routingKey, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Type:         e.Granularity,
			MessageId:    e.Key,
			Body:         data,
		})
		if err != nil {
			return errors.Wrap(err, "amqp publish")
		}
	}
	return nil
}

func (r *RabbitMQOutput) Close() error {
	if r.conn == nil {
		return nil
	}
	r.ch.Close()
	return r.conn.Close()
}
