// Package goposthog delivers telemetry events to PostHog.
package goposthog

import (
	"context"

	"github.com/posthog/posthog-go"

	"github.com/dayframe/calsync/tlmt"
)

type sink struct {
	client posthog.Client
}

// New creates a PostHog-backed telemetry sink. The underlying client batches
// events; Close drains the queue.
func New(apiKey, endpoint string) (tlmt.Telemetry, error) {
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		return nil, err
	}

	return &sink{client: client}, nil
}

func (s *sink) Send(_ context.Context, event tlmt.Event) error {
	capture := posthog.Capture{
		DistinctId: event.AnonymousID,
		Event:      event.Name,
		Properties: event.Properties,
	}

	if err := capture.Validate(); err != nil {
		return err
	}

	return s.client.Enqueue(capture)
}

func (s *sink) Close() error {
	if s.client == nil {
		return nil
	}

	return s.client.Close()
}
