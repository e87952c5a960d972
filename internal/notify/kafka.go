package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "fulfillment-core/internal/kafka"
)

const (
	TopicNotifyRequests        = "notify.requests"
	EventNotificationRequested = "NotificationRequested"
)

// Envelope is the versioned wrapper every published event rides in.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually the order id
	Payload       json.RawMessage `json:"payload"`
}

// KafkaTrigger publishes notification requests through the buffered producer.
type KafkaTrigger struct {
	Producer *kafkax.Producer
	Service  string
	Log      *zap.Logger
}

func (t *KafkaTrigger) Notify(ctx context.Context, n Notification) {
	if n.UserID == "" {
		return
	}
	body, err := json.Marshal(n)
	if err != nil {
		t.Log.Error("notify: marshal", zap.Error(err))
		return
	}
	correlation := ""
	if v, ok := n.Payload["order_id"].(string); ok {
		correlation = v
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventNotificationRequested,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      t.Service,
		CorrelationID: correlation,
		Payload:       body,
	}
	t.Producer.Publish([]byte(n.UserID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(EventNotificationRequested)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
