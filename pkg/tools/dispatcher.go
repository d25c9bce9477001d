package tools

import (
	"context"
	"log"
	"time"
)

// ToolFunc defines a function executed asynchronously.
type ToolFunc func(ctx context.Context) error

// Dispatch runs fn in its own goroutine. Errors and panics are logged under
// name; the caller never waits for the result.
func Dispatch(ctx context.Context, name string, fn ToolFunc) {
	go Run(ctx, name, fn)
}

// Run executes fn synchronously with the same logging as Dispatch.
func Run(ctx context.Context, name string, fn ToolFunc) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[%s] panic: %v", name, r)
		}
	}()
	if err := fn(ctx); err != nil {
		log.Printf("[%s] failed after %s: %v", name, time.Since(start).Round(time.Millisecond), err)
	}
}
