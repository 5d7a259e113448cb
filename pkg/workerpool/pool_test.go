package workerpool

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPoolProcessesTasks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.QueueSize = 16

	pool, err := New(cfg, func(ctx context.Context, task *Task) *Result {
		return &Result{TaskID: task.ID, Success: true}
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pool.Start()

	for i := 0; i < 8; i++ {
		if err := pool.Submit(&Task{ID: fmt.Sprintf("t-%d", i)}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	seen := 0
	timeout := time.After(5 * time.Second)
	for seen < 8 {
		select {
		case r := <-pool.Results():
			if !r.Success {
				t.Errorf("task %s failed: %v", r.TaskID, r.Error)
			}
			seen++
		case <-timeout:
			t.Fatalf("only %d of 8 results after timeout", seen)
		}
	}

	pool.Stop()
	if s := pool.Stats(); s.TasksCompleted != 8 || s.TasksFailed != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestPoolPayloadChannelDelivery(t *testing.T) {
	const tasks = 32

	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.QueueSize = tasks

	out := make(chan string, tasks)
	pool, err := New(cfg, func(ctx context.Context, task *Task) *Result {
		task.Payload.(chan<- string) <- task.ID
		return &Result{TaskID: task.ID, Success: true}
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pool.Start()

	// the shared bookkeeping stream is drained separately, the way the
	// scoring worker does it
	go func() {
		for range pool.Results() {
		}
	}()

	for i := 0; i < tasks; i++ {
		if err := pool.Submit(&Task{ID: fmt.Sprintf("t-%d", i), Payload: (chan<- string)(out)}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	received := make(map[string]bool)
	timeout := time.After(5 * time.Second)
	for len(received) < tasks {
		select {
		case id := <-out:
			received[id] = true
		case <-timeout:
			t.Fatalf("received %d of %d payload results", len(received), tasks)
		}
	}

	pool.Stop()
	if s := pool.Stats(); s.TasksCompleted != tasks {
		t.Errorf("completed = %d, want %d", s.TasksCompleted, tasks)
	}
}

func TestPoolRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.QueueSize = 4
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Millisecond

	var attempts int32
	pool, err := New(cfg, func(ctx context.Context, task *Task) *Result {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return &Result{TaskID: task.ID, Success: false, Error: fmt.Errorf("transient")}
		}
		return &Result{TaskID: task.ID, Success: true}
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pool.Start()

	if err := pool.Submit(&Task{ID: "t-0"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case r := <-pool.Results():
		if !r.Success {
			t.Fatalf("task failed after retries: %v", r.Error)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no result before timeout")
	}

	pool.Stop()
	if s := pool.Stats(); s.TasksRetried != 2 {
		t.Errorf("retried = %d, want 2", s.TasksRetried)
	}
}

func TestPoolSubmitAfterStop(t *testing.T) {
	pool, err := New(DefaultConfig(), func(ctx context.Context, task *Task) *Result {
		return &Result{TaskID: task.ID, Success: true}
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pool.Start()
	pool.Stop()

	if err := pool.Submit(&Task{ID: "late"}); err == nil {
		t.Error("expected error submitting to a stopped pool")
	}
}
