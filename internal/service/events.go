package service

import (
	"context"
	"errors"

	"device-sync-server/internal/domain"
)

// EventSink receives conflict lifecycle events. Implementations must not block
// for long; publishing happens inline with resolution.
type EventSink interface {
	Publish(ctx context.Context, event *domain.SyncEvent) error
}

type FanoutSink []EventSink

func (f FanoutSink) Publish(ctx context.Context, event *domain.SyncEvent) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
