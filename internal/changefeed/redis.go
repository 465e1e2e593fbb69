package changefeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"timetracker-backend/internal/models"
)

// RedisFeed fans changes out across server instances over Redis pub/sub,
// one channel per user.
type RedisFeed struct {
	publisher *redis.Client
	pubsub    *redis.Client
	log       zerolog.Logger
}

func NewRedisFeed(publisher, pubsub *redis.Client, log zerolog.Logger) *RedisFeed {
	return &RedisFeed{
		publisher: publisher,
		pubsub:    pubsub,
		log:       log.With().Str("component", "changefeed").Logger(),
	}
}

func channelName(userID uuid.UUID) string {
	return models.TableTimerSessions + ":" + userID.String()
}

func (f *RedisFeed) Publish(ctx context.Context, userID uuid.UUID, change models.Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := f.publisher.Publish(ctx, channelName(userID), data).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	ps := f.pubsub.Subscribe(ctx, channelName(userID))
	// Wait for the subscription confirmation so no change published after
	// Subscribe returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channelName(userID), err)
	}

	sub := newSubscription(defaultBuffer)
	go f.pump(ctx, ps, sub)
	return sub, nil
}

func (f *RedisFeed) pump(ctx context.Context, ps *redis.PubSub, sub *Subscription) {
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			sub.finish(nil)
			return
		case msg, ok := <-ch:
			if !ok {
				sub.finish(fmt.Errorf("redis subscription closed"))
				return
			}
			change, err := decodeChange(msg.Payload)
			if err != nil {
				f.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping undecodable change")
				continue
			}
			select {
			case sub.changes <- change:
			case <-ctx.Done():
				sub.finish(nil)
				return
			}
		}
	}
}

func decodeChange(payload string) (models.Change, error) {
	var change models.Change
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return change, fmt.Errorf("decode change: %w", err)
	}
	if change.EventType == "" {
		return change, fmt.Errorf("decode change: missing eventType")
	}
	return change, nil
}
