package idempotency

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type exampleStore struct {
	values map[string]string
}

func (s *exampleStore) Get(_ context.Context, key string) (string, error) {
	value, ok := s.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return value, nil
}

func (s *exampleStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if s.values == nil {
		s.values = map[string]string{}
	}
	if _, exists := s.values[key]; exists {
		return false, nil
	}
	s.values[key] = "1"
	return true, nil
}

func (s *exampleStore) IdempotencyKey(scope, id string) string {
	return "anchorline:idempotency:" + scope + ":" + id
}

type exampleConsumer struct {
	name    string
	manager *Manager
}

func (c *exampleConsumer) handle(ctx context.Context, jobID string) string {
	done, _ := c.manager.IsProcessed(ctx, c.name, jobID)
	if done {
		return "already processed"
	}
	// ... run the handler ...
	_ = c.manager.MarkProcessed(ctx, c.name, jobID)
	return "processing job"
}

func ExampleManager_IsProcessed() {
	ctx := context.Background()
	manager, _ := NewManager(&exampleStore{}, 7*24*time.Hour)
	consumer := &exampleConsumer{name: "outbox-worker", manager: manager}

	fmt.Println(consumer.handle(ctx, "job-abc123"))
	fmt.Println(consumer.handle(ctx, "job-abc123"))
	// Output:
	// processing job
	// already processed
}
