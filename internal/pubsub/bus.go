package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Bus struct {
	rdb     *redis.Client
	log     *zap.Logger
	wsHub   WSHub
	streams *Streams
}

type WSHub interface {
	Publish(channel string, message map[string]interface{})
}

// New creates a bus. rdb may be nil, in which case events only reach the
// WebSocket hub and are not kept for replay.
func New(rdb *redis.Client, log *zap.Logger) *Bus {
	b := &Bus{rdb: rdb, log: log}
	if rdb != nil {
		b.streams = NewStreams(rdb, log, 200, 24*time.Hour)
	}
	return b
}

// SetWSHub sets the WebSocket hub for event broadcasting
func (b *Bus) SetWSHub(hub WSHub) {
	b.wsHub = hub
}

// GetStreams returns the replay log, nil without Redis
func (b *Bus) GetStreams() *Streams {
	return b.streams
}

// WorkflowChannel names the channel of a workflow
func WorkflowChannel(workflowID string) string {
	return "workflow:" + workflowID
}

// PublishWorkflow publishes an event to a workflow's channel
func (b *Bus) PublishWorkflow(workflowID string, event map[string]interface{}) error {
	return b.Publish(WorkflowChannel(workflowID), event)
}

// Publish publishes an event to a channel
func (b *Bus) Publish(channel string, event map[string]interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	out := make(map[string]interface{}, len(event)+1)
	for k, v := range event {
		out[k] = v
	}

	if b.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
			b.log.Error("Failed to publish event", zap.String("channel", channel), zap.Error(err))
			return err
		}

		id, err := b.streams.Append(ctx, channel, data)
		if err != nil {
			b.log.Warn("Failed to append event to stream", zap.String("channel", channel), zap.Error(err))
		} else {
			out["eventId"] = id
		}
	}

	if b.wsHub != nil {
		b.wsHub.Publish(channel, out)
	}

	b.log.Debug("Published event", zap.String("channel", channel), zap.ByteString("event", data))
	return nil
}
