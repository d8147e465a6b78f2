package main

import (
	"context"
	"strings"

	"github.com/lyzr/agentflow/common/logger"
	redisw "github.com/lyzr/agentflow/common/redis"
)

// RedisSubscriber listens to the event-publish channels Server.pumpEvents
// writes to and forwards each message to the Hub. PSubscribe isn't one
// of common/redis.Client's wrapped operations, so this reaches through
// GetUnderlying for it, same as RedisStore does for its atomic pipelines.
type RedisSubscriber struct {
	redis *redisw.Client
	hub   *Hub
	log   *logger.Logger
}

// NewRedisSubscriber creates a new RedisSubscriber instance.
func NewRedisSubscriber(redisClient *redisw.Client, hub *Hub, log *logger.Logger) *RedisSubscriber {
	return &RedisSubscriber{redis: redisClient, hub: hub, log: log}
}

// Start begins listening to every run's event channel.
func (s *RedisSubscriber) Start(ctx context.Context) {
	pubsub := s.redis.GetUnderlying().PSubscribe(ctx, eventChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		s.log.Error("redis subscribe failed", "error", err)
		return
	}
	s.log.Info("redis subscriber started", "pattern", eventChannelPrefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			runID := strings.TrimPrefix(msg.Channel, eventChannelPrefix)
			if runID == msg.Channel {
				continue
			}
			s.hub.broadcast <- &Message{RunID: runID, Data: []byte(msg.Payload)}
		}
	}
}
