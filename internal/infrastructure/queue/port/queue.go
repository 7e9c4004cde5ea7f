package port

import (
	"context"
	"errors"
	"time"
)

// Task is a background job: a stable type name plus opaque payload bytes.
type Task struct {
	Type    string
	Payload []byte
}

// Handler processes a Task. A non-nil error is retried per adapter policy
// unless it wraps ErrSkipRetry. Handlers must be idempotent.
type Handler func(ctx context.Context, task Task) error

var (
	// ErrSkipRetry marks a handler failure that must not be retried.
	ErrSkipRetry = errors.New("queue: skip retry")
	// ErrDuplicateTask is returned by Enqueue when a unique task is already queued.
	ErrDuplicateTask = errors.New("queue: duplicate task")
)

// EnqueueOption controls enqueue behavior. Zero values mean "unspecified".
type EnqueueOption struct {
	Queue     string        // logical queue name
	ProcessIn time.Duration // delay before processing
	ProcessAt time.Time     // absolute schedule time (takes precedence over ProcessIn if set)
	MaxRetry  int           // max retries for the task
	UniqueTTL time.Duration // reject identical tasks within this window
	Retention time.Duration // keep result metadata for this duration
	Deadline  time.Time     // hard deadline for processing
}

// Client enqueues tasks for background processing.
type Client interface {
	Enqueue(ctx context.Context, t Task, opts ...EnqueueOption) (id string, err error)
	Close() error
}

// Server runs background workers that handle tasks.
// Run blocks until ctx is canceled.
type Server interface {
	Register(taskType string, h Handler)
	Run(ctx context.Context) error
	Stop(ctx context.Context) error
}
