package notify

import (
	"context"
	"fmt"
	"time"
)

// EventStore persists notifications for later inspection.
type EventStore interface {
	InsertEvent(at time.Time, source, severity, text string) error
}

// Journal records every message in an EventStore under a source tag
// ("watcher", "shim") and then forwards it to Next.
type Journal struct {
	Store  EventStore
	Source string
	Next   Notifier
	Now    func() time.Time
}

// Notify implements Notifier. A store failure does not stop delivery.
func (j *Journal) Notify(ctx context.Context, msg Message) error {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}

	var storeErr error
	if j.Store != nil {
		if err := j.Store.InsertEvent(now(), j.Source, msg.Severity.String(), msg.Text); err != nil {
			storeErr = fmt.Errorf("journal: %w", err)
		}
	}

	if j.Next != nil {
		if err := j.Next.Notify(ctx, msg); err != nil {
			if storeErr != nil {
				return fmt.Errorf("%w; %w", storeErr, err)
			}
			return err
		}
	}
	return storeErr
}
