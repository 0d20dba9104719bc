// Package ctxutil bounds calls to clients that take no context.
package ctxutil

import "context"

// Run calls fn and returns its error, or ctx.Err() if ctx ends first. fn is not
// started when ctx is already done. An abandoned fn keeps running in the
// background and its result is dropped.
func Run(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
