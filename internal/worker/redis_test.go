package worker

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"userchat/internal/config"
	"userchat/internal/models"
	"userchat/internal/redis"
)

func TestStateCacheStoreLoadAndInvalidate(t *testing.T) {
	client := newTestRedisClient(t)
	sc := newStateCache(client, time.Minute, zerolog.Nop())

	history := []models.Message{
		models.UserMessage("hello"),
		models.AssistantMessage("hi there"),
	}
	sc.cacheHistory("sess-1", history)

	got, ok := sc.loadHistory("sess-1")
	if !ok {
		t.Fatalf("expected history cached")
	}
	if len(got) != len(history) || got[1] != history[1] {
		t.Fatalf("history mismatch: want %#v got %#v", history, got)
	}

	sc.invalidateHistory("sess-1")
	if _, ok := sc.loadHistory("sess-1"); ok {
		t.Fatalf("expected history invalidated")
	}
}

func TestStateCachePubSub(t *testing.T) {
	client := newTestRedisClient(t)
	sc := newStateCache(client, time.Minute, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := make(chan invalidateMessage, 1)
	if err := sc.startListener(ctx, func(msg invalidateMessage) { ch <- msg }); err != nil {
		t.Fatalf("listener: %v", err)
	}

	msg := invalidateMessage{SessionID: "sess-2", Origin: "other"}
	sc.publishInvalidation(msg)
	select {
	case got := <-ch:
		if got != msg {
			t.Fatalf("unexpected message %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("did not receive pubsub message")
	}
}

func TestManagersShareTranscriptThroughRedis(t *testing.T) {
	client := newTestRedisClient(t)

	first := newTestManager(t, &echoWorkflow{}, WithRedis(client, time.Minute))
	second := newTestManager(t, &echoWorkflow{}, WithRedis(client, time.Minute))

	if _, err := first.Turn(TurnRequest{SessionID: "shared", Content: "one"}); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	res, err := second.Turn(TurnRequest{SessionID: "shared", Content: "two"})
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if len(res.Messages) != 4 {
		t.Fatalf("second manager did not see shared history: %#v", res.Messages)
	}

	// first drops its stale local copy once second publishes
	waitFor(t, func() bool {
		_, ok := first.state.getHistory("shared")
		return !ok
	})
	history, ok := first.History("shared")
	if !ok || len(history) != 4 {
		t.Fatalf("first manager history stale: %#v", history)
	}
}

func TestNilStateCacheIsNoop(t *testing.T) {
	var sc *stateRedis
	sc.cacheHistory("s", nil)
	sc.invalidateHistory("s")
	sc.publishInvalidation(invalidateMessage{SessionID: "s"})
	if _, ok := sc.loadHistory("s"); ok {
		t.Fatalf("nil cache reported a hit")
	}
	if err := sc.startListener(context.Background(), func(invalidateMessage) {}); err != nil {
		t.Fatalf("nil cache listener: %v", err)
	}
	if newStateCache(nil, 0, zerolog.Nop()) != nil {
		t.Fatalf("expected nil cache without client")
	}
}

func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed worker tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	client, err := redis.NewRedisClient(config.RedisConfig{Enabled: true, Host: host, Port: port, DB: db})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Raw().FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush db: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}
