// README: RabbitMQ connection and publisher channel for push dispatch.
package infra

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const PushExchange = "unipool.push"

// NewAMQPChannel dials the broker, declares the push topic exchange, and
// returns a channel dedicated to publishing.
func NewAMQPChannel(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(PushExchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	return conn, ch, nil
}
