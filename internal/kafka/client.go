// Package kafka contains the notification repository backed by Kafka.
package kafka

import (
	"context"

	kafkaLib "github.com/segmentio/kafka-go"
)

// Topics
const (
	topicNotifications = "castellan.messages.notifications"
)

// Reader consumes messages from a topic.
type Reader interface {
	ReadMessage(ctx context.Context) (kafkaLib.Message, error)
}

// Writer produces messages to a topic.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkaLib.Message) error
}

// Client contains a reader and writer pair for every topic we are
// interested in.
type Client struct {
	NotificationReader Reader
	NotificationWriter Writer
}

// NewClient returns a new Client.
func NewClient(brokers []string) *Client {
	return &Client{
		NotificationReader: newReader(brokers, topicNotifications),
		NotificationWriter: newWriter(brokers, topicNotifications),
	}
}

func newReader(brokers []string, topic string) *kafkaLib.Reader {
	return kafkaLib.NewReader(kafkaLib.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  10e3,
		MaxBytes:  10e6,
	})
}

func newWriter(brokers []string, topic string) *kafkaLib.Writer {
	return kafkaLib.NewWriter(kafkaLib.WriterConfig{
		Brokers: brokers,
		Topic:   topic,
		// Compatibility with Kafka sarama client.
		Balancer: &kafkaLib.Hash{},
		// kafka-go defaults the capacity to 100.
		QueueCapacity: 200,
	})
}
