package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/result"
)

// completion is one finished task on its way to the consumer.
type completion[T any] struct {
	tc  result.TestCase
	val T
	err error
}

// PanicError is returned for a task whose function panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// runPool runs fn for every case on at most workers goroutines. Cases are
// dispatched in slice order; completions are handed to consume one at a
// time on the calling goroutine, in completion order. When ctx is done no
// further cases are dispatched; in-flight tasks are still consumed.
func runPool[T any](
	ctx context.Context,
	workers int,
	cases []result.TestCase,
	fn func(context.Context, result.TestCase) (T, error),
	consume func(result.TestCase, T, error),
) {
	if workers < 1 {
		workers = 1
	}
	if workers > len(cases) {
		workers = len(cases)
	}

	jobs := make(chan result.TestCase)
	done := make(chan completion[T], workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tc := range jobs {
				done <- runTask(ctx, tc, fn)
			}
		}()
	}

	// Producer
	go func() {
		defer close(jobs)
		for _, tc := range cases {
			select {
			case jobs <- tc:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	// Single consumer
	for c := range done {
		consume(c.tc, c.val, c.err)
	}
}

// runTask runs fn for one case, turning a panic into a PanicError.
func runTask[T any](ctx context.Context, tc result.TestCase, fn func(context.Context, result.TestCase) (T, error)) (c completion[T]) {
	c.tc = tc
	defer func() {
		if r := recover(); r != nil {
			c.err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	c.val, c.err = fn(ctx, tc)
	return c
}
