package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// Event is the payload published to the notifications topic by the discount
// and user handlers.
type Event struct {
	Type      string  `json:"type"`
	Email     string  `json:"email,omitempty"`
	Title     string  `json:"title,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
	StartDate string  `json:"start_date,omitempty"`
	EndDate   string  `json:"end_date,omitempty"`
}

// Consumer drains the notifications topic in a background goroutine owned by
// main. Delivery here is the side-channel's terminus: events are recorded in
// the structured log, nothing is surfaced back to request handlers.
type Consumer struct {
	reader *kafka.Reader
	log    *slog.Logger
}

func NewConsumer(brokers []string, topic, groupID string, l *slog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
		log: l,
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.log.Warn("notification_malformed", "error", err, "offset", msg.Offset)
			continue
		}

		c.log.Info("notification_received",
			"type", event.Type,
			"email", event.Email,
			"title", event.Title,
		)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
