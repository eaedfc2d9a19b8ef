// Package gonoop is the telemetry sink used when reporting is disabled.
package gonoop

import (
	"context"

	"github.com/dayframe/calsync/tlmt"
)

type noop struct{}

// New returns a telemetry sink that discards every event.
func New() tlmt.Telemetry {
	return noop{}
}

func (noop) Send(context.Context, tlmt.Event) error { return nil }

func (noop) Close() error { return nil }
