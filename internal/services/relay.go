package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const DefaultRelayChannel = "yomu:stream"

type relayEnvelope struct {
	Origin string `json:"origin"`
	UserID uint   `json:"user_id"`
	Event  struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	} `json:"event"`
}

// RedisRelay fans stream events out to every instance subscribed to the
// channel. Each instance delivers to its own hub; messages it published
// itself are skipped since they were already delivered locally.
type RedisRelay struct {
	client  *redis.Client
	hub     *StreamHub
	channel string
	origin  string
	ready   chan struct{}
}

func NewRedisRelay(client *redis.Client, hub *StreamHub, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{
		client:  client,
		hub:     hub,
		channel: channel,
		origin:  uuid.NewString(),
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Publish delivers locally, then announces the event to other instances.
func (r *RedisRelay) Publish(userID uint, event StreamEvent) int {
	delivered := r.hub.Publish(userID, event)

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		log.WithError(err).Warn("relay: encode payload")
		return delivered
	}
	env := relayEnvelope{Origin: r.origin, UserID: userID}
	env.Event.Type = event.Type
	env.Event.Payload = payload
	body, err := json.Marshal(env)
	if err != nil {
		log.WithError(err).Warn("relay: encode envelope")
		return delivered
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("relay: publish failed")
	}
	return delivered
}

// Run consumes the channel until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	close(r.ready)
	log.WithField("channel", r.channel).Info("stream relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(msg.Payload)
		}
	}
}

func (r *RedisRelay) deliver(body string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		log.WithError(err).Warn("relay: malformed message")
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.hub.Publish(env.UserID, StreamEvent{Type: env.Event.Type, Payload: env.Event.Payload})
}
