package bus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/okian/assignml/internal/domain/model"
)

// Metadata keys set on every produced message.
const (
	metaEventType = "event_type"
	metaEventID   = "event_id"
)

// encode marshals v into a new message carrying ctx.
func encode(ctx context.Context, v any) (*message.Message, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	return msg, nil
}

// decodeRecord parses a consumed payload. A record with no event type takes
// the type implied by its dedicated topic.
func decodeRecord(msg *message.Message, implied model.EventType) (model.EventRecord, error) {
	var rec model.EventRecord
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", model.ErrInvalidEvent, err)
	}
	if rec.EventType == model.EventTypeUnknown {
		rec.EventType = implied
	}
	return rec, nil
}
