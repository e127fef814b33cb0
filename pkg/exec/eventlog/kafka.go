package eventlog

import (
	"context"
	"fmt"

	"github.com/joripage/execution-dev/pkg/exec/model"
	kafkawrapper "github.com/joripage/execution-dev/pkg/kafka_wrapper"
)

// KafkaSink publishes every event to the archive topic. Keys are the
// venue/index pair so one order's events land on one partition in
// order.
type KafkaSink struct {
	producer *kafkawrapper.Producer
	topic    string
}

func NewKafkaSink(producer *kafkawrapper.Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (k *KafkaSink) Append(ctx context.Context, ev model.OrderEvent) error {
	key := fmt.Sprintf("%s/%d", ev.Venue, ev.ClientOrderIndex)
	return k.producer.PublishJSON(ctx, k.topic, key, ev, nil)
}
