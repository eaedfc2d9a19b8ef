package syncer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"github.com/mcnijman/go-emailaddress"
)

// component is one parsed calendar entry, not yet validated.
type component struct {
	UID         string
	Title       string
	Description string
	Location    string
	Organizer   string
	Start       time.Time
	End         time.Time
}

// valid reports whether the component carries everything an event row
// needs: a dedup identifier and both temporal bounds.
func (c component) valid() bool {
	return c.UID != "" && !c.Start.IsZero() && !c.End.IsZero()
}

// parseCalendar decodes a calendar document into its event components. A
// payload may concatenate several VCALENDAR objects; all of them are read.
// Floating times are interpreted as UTC.
func parseCalendar(payload []byte) ([]component, error) {
	dec := ical.NewDecoder(bytes.NewReader(payload))

	var components []component

	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("decode calendar: %w", err)
		}

		for _, event := range cal.Events() {
			components = append(components, newComponent(event))
		}
	}

	return components, nil
}

func newComponent(event ical.Event) component {
	var c component

	c.UID, _ = event.Props.Text(ical.PropUID)
	c.Title, _ = event.Props.Text(ical.PropSummary)
	c.Description, _ = event.Props.Text(ical.PropDescription)
	c.Location, _ = event.Props.Text(ical.PropLocation)

	if prop := event.Props.Get(ical.PropOrganizer); prop != nil {
		c.Organizer = organizerAddress(prop.Value)
	}

	if start, err := event.DateTimeStart(time.UTC); err == nil {
		c.Start = start
	}

	// DateTimeEnd falls back to the start time when the event declares no
	// end at all, so presence is checked explicitly: an end, a duration, or
	// an all-day start whose end is derivable.
	if !hasEndInfo(event) {
		return c
	}

	if end, err := event.DateTimeEnd(time.UTC); err == nil {
		c.End = end
	}

	return c
}

func hasEndInfo(event ical.Event) bool {
	if event.Props.Get(ical.PropDateTimeEnd) != nil || event.Props.Get(ical.PropDuration) != nil {
		return true
	}

	start := event.Props.Get(ical.PropDateTimeStart)

	return start != nil && start.ValueType() == ical.ValueDate
}

// organizerAddress pulls the organizer's email out of an ORGANIZER value,
// which is usually a mailto URI with optional parameters.
func organizerAddress(value string) string {
	found := emailaddress.Find([]byte(value), false)
	if len(found) == 0 {
		return ""
	}

	return found[0].String()
}
