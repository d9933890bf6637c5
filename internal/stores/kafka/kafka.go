package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"checkout-service/pkg/logkey"

	"github.com/twmb/franz-go/pkg/kgo"
)

type Conf struct {
	client *kgo.Client
}

func NewConf(brokers []string, clientID string) (*Conf, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &Conf{client: client}, nil
}

// ProduceMessage hands the record to the client's buffer and returns without
// waiting for the broker. Delivery failures are logged from the callback.
func (c *Conf) ProduceMessage(topic string, key, value []byte) error {
	if c == nil || c.client == nil {
		return errors.New("kafka client is not initialized")
	}
	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	c.client.Produce(context.Background(), record, func(r *kgo.Record, err error) {
		if err != nil {
			slog.Error("failed to produce message", slog.String("topic", r.Topic), slog.String(logkey.ERROR, err.Error()))
			return
		}
		slog.Debug("message produced", slog.String("topic", r.Topic), slog.Int64("offset", r.Offset))
	})
	return nil
}

// Close flushes buffered records, bounded by ctx, and closes the client.
func (c *Conf) Close(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	err := c.client.Flush(ctx)
	c.client.Close()
	return err
}
