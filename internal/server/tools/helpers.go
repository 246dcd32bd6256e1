// Copyright 2025 Joseph Cumines
//
// Package tools provides helper utilities for the MCP server implementation.
// It includes polling utilities for long-running operations and element waiting.
//
// Key utilities:
//   - PollUntilComplete: Polls a long-running operation until completion
//   - PollUntilContext: Polls a condition function until success or timeout
//   - WaitForElement: Waits for a selector to match on the current page

package tools

import (
	"context"
	"fmt"
	"time"

	longrunningpb "cloud.google.com/go/longrunning/autogen/longrunningpb"
)

// OperationGetter looks up a long-running operation by name.
type OperationGetter interface {
	GetOperation(ctx context.Context, name string) (*longrunningpb.Operation, error)
}

// PollUntilComplete polls an operation until it completes, returning the final state.
func PollUntilComplete(ctx context.Context, ops OperationGetter, opName string, interval time.Duration) (*longrunningpb.Operation, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		op, err := ops.GetOperation(ctx, opName)
		if err != nil {
			return nil, fmt.Errorf("failed to get operation: %w", err)
		}
		if op.GetDone() {
			if err := op.GetError(); err != nil {
				return op, fmt.Errorf("operation failed: %s", err.GetMessage())
			}
			return op, nil
		}

		select {
		case <-ctx.Done():
			return op, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollUntilContext polls a condition function until it returns true or the context times out
func PollUntilContext(ctx context.Context, interval time.Duration, condition func() (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			done, err := condition()
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// WaitForElement polls find at 100ms intervals until it reports a match or timeout
// elapses. Lookup errors are treated as "not yet" since the page may be mid-navigation.
func WaitForElement(ctx context.Context, find func(ctx context.Context) (bool, error), timeout time.Duration) error {
	const pollInterval = 100 * time.Millisecond

	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	err := PollUntilContext(deadline, pollInterval, func() (bool, error) {
		found, err := find(deadline)
		if err != nil {
			lastErr = err
			return false, nil
		}
		return found, nil
	})
	if err != nil {
		if lastErr != nil {
			return fmt.Errorf("timeout waiting for element: %w", lastErr)
		}
		return fmt.Errorf("timeout waiting for element")
	}
	return nil
}
