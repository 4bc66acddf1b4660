package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisQueueRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)

	queue, err := NewRedisQueue(RedisQueueConfig{
		Address:   mr.Addr(),
		Queue:     "aegis:test-tasks",
		BlockWait: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new redis queue: %v", err)
	}
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan string, 1)
	go func() {
		_ = queue.Consume(ctx, 1, func(_ context.Context, taskID string) error {
			received <- taskID
			return nil
		})
	}()

	if err := queue.Publish(ctx, "task-42"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-received:
		if got != "task-42" {
			t.Fatalf("unexpected task id: %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task was not consumed in time")
	}
}

func TestRedisQueueRequeuesFailedTask(t *testing.T) {
	mr := miniredis.RunT(t)

	queue, err := NewRedisQueue(RedisQueueConfig{
		Address:   mr.Addr(),
		Queue:     "aegis:test-tasks",
		BlockWait: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new redis queue: %v", err)
	}
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	done := make(chan struct{})
	go func() {
		_ = queue.Consume(ctx, 1, func(_ context.Context, taskID string) error {
			if attempts.Add(1) == 1 {
				return errors.New("transient failure")
			}
			close(done)
			return nil
		})
	}()

	if err := queue.Publish(ctx, "task-7"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
		if attempts.Load() < 2 {
			t.Fatalf("expected redelivery, attempts=%d", attempts.Load())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("task was not redelivered, attempts=%d", attempts.Load())
	}
}
