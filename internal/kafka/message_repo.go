package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	kafkaLib "github.com/segmentio/kafka-go"

	auth "github.com/castellan/castellan"
)

// MessageRepository reads and writes the notification topic consumed
// by the external delivery daemon.
type MessageRepository struct {
	reader Reader
	writer Writer
}

// NewMessageRepository returns a new implementation of auth.MessageRepository.
func NewMessageRepository(client *Client) auth.MessageRepository {
	return &MessageRepository{
		reader: client.NotificationReader,
		writer: client.NotificationWriter,
	}
}

// Publish writes a message to the notification topic, keyed by
// principal so a principal's notifications stay ordered.
func (r *MessageRepository) Publish(ctx context.Context, msg *auth.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return r.writer.WriteMessages(ctx, kafkaLib.Message{
		Key:   []byte(msg.PrincipalID),
		Value: b,
	})
}

// Recent retrieves messages recently written to the notification topic.
func (r *MessageRepository) Recent(ctx context.Context) (<-chan *auth.Message, <-chan error) {
	errc := make(chan error, 1)
	msgc := make(chan *auth.Message)

	go func() {
		defer close(errc)
		defer close(msgc)

		for {
			kafkaMsg, err := r.reader.ReadMessage(ctx)
			if err != nil {
				errc <- fmt.Errorf("failed to read notification: %w", err)
				return
			}

			var msg auth.Message
			if err = json.Unmarshal(kafkaMsg.Value, &msg); err != nil {
				errc <- fmt.Errorf("failed to unmarshal message: %w", err)
				return
			}

			select {
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			case msgc <- &msg:
				continue
			}
		}
	}()

	return msgc, errc
}
