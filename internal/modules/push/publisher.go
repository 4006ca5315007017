// README: Push notification dispatch over RabbitMQ; the FCM worker consuming
// the queue lives outside this service.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"unipool/internal/types"
)

type Publisher struct {
	ch       *amqp.Channel
	exchange string
}

func NewPublisher(ch *amqp.Channel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange}
}

type pushMessage struct {
	RecipientID int64  `json:"recipient_id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Type        string `json:"type"`
	SentAt      string `json:"sent_at"`
}

// Dispatch publishes a push payload routed by event type. Satisfies
// party.Notifier.
func (p *Publisher) Dispatch(ctx context.Context, recipient types.ID, title, body, eventType string) error {
	msg := pushMessage{
		RecipientID: int64(recipient),
		Title:       title,
		Body:        body,
		Type:        eventType,
		SentAt:      time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal push message: %w", err)
	}

	routingKey := fmt.Sprintf("push.%s", eventType)
	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	}); err != nil {
		return fmt.Errorf("publish push message: %w", err)
	}
	return nil
}
