package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"userchat/internal/models"
	"userchat/internal/redis"
)

const (
	redisInvalidateChannel = "worker:invalidate"
	defaultTranscriptTTL   = 30 * time.Minute
	redisOpTimeout         = 2 * time.Second
)

type invalidateMessage struct {
	SessionID string `json:"session_id"`
	Origin    string `json:"origin"`
}

// stateRedis shares transcripts between processes. Every method is a no-op on
// a nil receiver so the manager can run without redis.
type stateRedis struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

func newStateCache(client *redis.Client, ttl time.Duration, log zerolog.Logger) *stateRedis {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultTranscriptTTL
	}
	return &stateRedis{client: client, ttl: ttl, log: log}
}

func historyKey(sessionID string) string {
	return fmt.Sprintf("worker:history:%s", sessionID)
}

// startListener delivers invalidations until ctx is done.
func (r *stateRedis) startListener(ctx context.Context, handler func(invalidateMessage)) error {
	if r == nil || handler == nil {
		return nil
	}
	pubsub, err := r.client.Subscribe(ctx, redisInvalidateChannel)
	if err != nil {
		return err
	}
	// wait for the subscription so publishes right after return are not lost
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", redisInvalidateChannel, err)
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv invalidateMessage
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					r.log.Warn().Err(err).Msg("decode invalidation")
					continue
				}
				handler(inv)
			}
		}
	}()
	return nil
}

func (r *stateRedis) publishInvalidation(msg invalidateMessage) {
	if r == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, redisInvalidateChannel, msg); err != nil {
		r.log.Warn().Err(err).Str("session_id", msg.SessionID).Msg("publish invalidation")
	}
}

func (r *stateRedis) cacheHistory(sessionID string, history []models.Message) {
	if r == nil || sessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.client.SetJSON(ctx, historyKey(sessionID), history, r.ttl); err != nil {
		r.log.Warn().Err(err).Str("session_id", sessionID).Msg("cache history")
	}
}

func (r *stateRedis) loadHistory(sessionID string) ([]models.Message, bool) {
	if r == nil || sessionID == "" {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	var history []models.Message
	if err := r.client.GetJSON(ctx, historyKey(sessionID), &history); err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			r.log.Warn().Err(err).Str("session_id", sessionID).Msg("load history")
		}
		return nil, false
	}
	// sliding expiry while the session is in use
	if err := r.client.Expire(ctx, historyKey(sessionID), r.ttl); err != nil {
		r.log.Debug().Err(err).Str("session_id", sessionID).Msg("refresh history ttl")
	}
	return history, true
}

func (r *stateRedis) invalidateHistory(sessionID string) {
	if r == nil || sessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.client.Del(ctx, historyKey(sessionID)); err != nil {
		r.log.Warn().Err(err).Str("session_id", sessionID).Msg("invalidate history")
	}
}
