package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/whatsapp-leads/internal/messaging"
)

const (
	recentListKey       = "whatsapp:recent"
	recentMessagePrefix = "whatsapp:recent:msg:"
	recentMessageTTL    = 24 * time.Hour
)

// RedisRecentBuffer keeps the newest messages in Redis so every API replica
// shares one fallback view. The ID list is trimmed to capacity; message bodies
// expire after a day.
type RedisRecentBuffer struct {
	redis    *redis.Client
	tracer   trace.Tracer
	capacity int64
}

func NewRedisRecentBuffer(client *redis.Client, capacity int) *RedisRecentBuffer {
	if client == nil {
		return nil
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &RedisRecentBuffer{
		redis:    client,
		tracer:   otel.Tracer("whatsapp-leads.internal.store.recent"),
		capacity: int64(capacity),
	}
}

func (b *RedisRecentBuffer) Add(ctx context.Context, msg messaging.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("store: marshal recent message: %w", err)
	}

	ctx, span := b.tracer.Start(ctx, "store.recent.add")
	defer span.End()

	added, err := b.redis.SetNX(ctx, recentMessageKey(msg.ID), data, recentMessageTTL).Result()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: add recent message: %w", err)
	}
	if !added {
		return nil
	}

	pipe := b.redis.TxPipeline()
	pipe.LPush(ctx, recentListKey, msg.ID)
	pipe.LTrim(ctx, recentListKey, 0, b.capacity-1)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: index recent message: %w", err)
	}
	return nil
}

func (b *RedisRecentBuffer) UpdateStatus(ctx context.Context, change StatusChange) error {
	ctx, span := b.tracer.Start(ctx, "store.recent.update_status")
	defer span.End()

	msg, err := b.Message(ctx, change.MessageID)
	if err != nil {
		return err
	}
	if !applyStatusChange(&msg, change) {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("store: marshal recent message: %w", err)
	}
	if err := b.redis.SetArgs(ctx, recentMessageKey(msg.ID), data, redis.SetArgs{KeepTTL: true, Mode: "XX"}).Err(); err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		return fmt.Errorf("store: update recent message: %w", err)
	}
	return nil
}

func (b *RedisRecentBuffer) Message(ctx context.Context, id string) (messaging.Message, error) {
	raw, err := b.redis.Get(ctx, recentMessageKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return messaging.Message{}, messaging.ErrMessageNotFound
	}
	if err != nil {
		return messaging.Message{}, fmt.Errorf("store: get recent message: %w", err)
	}
	var msg messaging.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return messaging.Message{}, fmt.Errorf("store: decode recent message: %w", err)
	}
	return msg, nil
}

func (b *RedisRecentBuffer) RecentMessages(ctx context.Context, phoneKey string, limit int) ([]messaging.Message, error) {
	ctx, span := b.tracer.Start(ctx, "store.recent.list")
	defer span.End()

	ids, err := b.redis.LRange(ctx, recentListKey, 0, b.capacity-1).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store: list recent messages: %w", err)
	}
	out := []messaging.Message{}
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recentMessageKey(id)
	}
	values, err := b.redis.MGet(ctx, keys...).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store: load recent messages: %w", err)
	}
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var msg messaging.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			span.RecordError(err)
			continue
		}
		if phoneKey != "" && msg.PhoneKey != phoneKey {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func recentMessageKey(id string) string {
	return recentMessagePrefix + id
}
