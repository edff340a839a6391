package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamEvent is an event kept for replay. ID is the Redis stream entry id.
type StreamEvent struct {
	ID    string                 `json:"eventId"`
	Event map[string]interface{} `json:"event"`
}

// Streams keeps a capped per-channel event log in Redis Streams so a
// reconnecting client can catch up on what it missed.
type Streams struct {
	rdb    *redis.Client
	log    *zap.Logger
	maxLen int64
	ttl    time.Duration
}

// NewStreams creates a log keeping at most maxLen events per channel, each
// stream expiring ttl after its last write
func NewStreams(rdb *redis.Client, log *zap.Logger, maxLen int64, ttl time.Duration) *Streams {
	return &Streams{rdb: rdb, log: log, maxLen: maxLen, ttl: ttl}
}

func streamKey(channel string) string {
	return "stream:" + channel
}

// Append adds an encoded event to the channel's stream
func (s *Streams) Append(ctx context.Context, channel string, data []byte) (string, error) {
	key := streamKey(channel)
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: s.maxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add to stream: %w", err)
	}
	if s.ttl > 0 {
		if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
			s.log.Warn("Failed to set stream expiry", zap.String("stream", key), zap.Error(err))
		}
	}
	return id, nil
}

// Replay returns up to limit events recorded after the entry afterID. An empty
// afterID replays from the start of the log.
func (s *Streams) Replay(ctx context.Context, channel, afterID string, limit int64) ([]StreamEvent, error) {
	start := "-"
	if afterID != "" {
		start = "(" + afterID
	}
	msgs, err := s.rdb.XRangeN(ctx, streamKey(channel), start, "+", limit).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	events := make([]StreamEvent, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var event map[string]interface{}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			s.log.Warn("Failed to unmarshal event", zap.String("stream_id", msg.ID), zap.Error(err))
			continue
		}
		event["eventId"] = msg.ID
		events = append(events, StreamEvent{ID: msg.ID, Event: event})
	}
	return events, nil
}
