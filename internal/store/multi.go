// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"errors"

	"github.com/pdiddy/trial-engine/internal/loop"
	"github.com/pdiddy/trial-engine/pkg/types"
)

// Multi fans every call out to each sink in order. All sinks are called
// even when one fails; the errors are joined.
type Multi []loop.Sink

// SaveIteration forwards it to every sink.
func (m Multi) SaveIteration(ctx context.Context, it types.Iteration) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SaveIteration(ctx, it))
	}
	return errors.Join(errs...)
}

// SaveBest forwards it to every sink.
func (m Multi) SaveBest(ctx context.Context, it types.Iteration) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SaveBest(ctx, it))
	}
	return errors.Join(errs...)
}

// Finish forwards res to every sink that implements loop.Finisher.
func (m Multi) Finish(ctx context.Context, res loop.Result) error {
	var errs []error
	for _, s := range m {
		if f, ok := s.(loop.Finisher); ok {
			errs = append(errs, f.Finish(ctx, res))
		}
	}
	return errors.Join(errs...)
}
