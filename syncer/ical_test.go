package syncer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ics(lines ...string) []byte {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN"}, lines...)
	all = append(all, "END:VCALENDAR", "")

	return []byte(strings.Join(all, "\r\n"))
}

func TestParseCalendar(t *testing.T) {
	t.Run("two components", func(t *testing.T) {
		payload := ics(
			"BEGIN:VEVENT",
			"UID:evt-1",
			"SUMMARY:Standup",
			"DESCRIPTION:Daily sync",
			"LOCATION:Room 4",
			"DTSTART:20260901T100000Z",
			"DTEND:20260901T101500Z",
			"END:VEVENT",
			"BEGIN:VEVENT",
			"UID:evt-2",
			"SUMMARY:Review",
			"DTSTART:20260902T140000Z",
			"DTEND:20260902T150000Z",
			"END:VEVENT",
		)

		components, err := parseCalendar(payload)
		require.NoError(t, err)
		require.Len(t, components, 2)

		first := components[0]
		assert.Equal(t, "evt-1", first.UID)
		assert.Equal(t, "Standup", first.Title)
		assert.Equal(t, "Daily sync", first.Description)
		assert.Equal(t, "Room 4", first.Location)
		assert.Equal(t, time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC), first.Start)
		assert.Equal(t, time.Date(2026, 9, 1, 10, 15, 0, 0, time.UTC), first.End)
		assert.True(t, first.valid())
		assert.True(t, components[1].valid())
	})

	t.Run("missing end makes component invalid", func(t *testing.T) {
		payload := ics(
			"BEGIN:VEVENT",
			"UID:evt-1",
			"SUMMARY:No end",
			"DTSTART:20260901T100000Z",
			"END:VEVENT",
		)

		components, err := parseCalendar(payload)
		require.NoError(t, err)
		require.Len(t, components, 1)
		assert.False(t, components[0].valid())
	})

	t.Run("duration supplies the end", func(t *testing.T) {
		payload := ics(
			"BEGIN:VEVENT",
			"UID:evt-1",
			"SUMMARY:With duration",
			"DTSTART:20260901T100000Z",
			"DURATION:PT45M",
			"END:VEVENT",
		)

		components, err := parseCalendar(payload)
		require.NoError(t, err)
		require.Len(t, components, 1)

		comp := components[0]
		assert.True(t, comp.valid())
		assert.Equal(t, time.Date(2026, 9, 1, 10, 45, 0, 0, time.UTC), comp.End)
	})

	t.Run("all day event derives its end", func(t *testing.T) {
		payload := ics(
			"BEGIN:VEVENT",
			"UID:evt-1",
			"SUMMARY:Offsite",
			"DTSTART;VALUE=DATE:20260901",
			"END:VEVENT",
		)

		components, err := parseCalendar(payload)
		require.NoError(t, err)
		require.Len(t, components, 1)

		comp := components[0]
		assert.True(t, comp.valid())
		assert.Equal(t, 24*time.Hour, comp.End.Sub(comp.Start))
	})

	t.Run("organizer address is extracted from the mailto value", func(t *testing.T) {
		payload := ics(
			"BEGIN:VEVENT",
			"UID:evt-1",
			"SUMMARY:Planning",
			"ORGANIZER;CN=Alex Chen:mailto:alex@example.com",
			"DTSTART:20260901T100000Z",
			"DTEND:20260901T110000Z",
			"END:VEVENT",
		)

		components, err := parseCalendar(payload)
		require.NoError(t, err)
		require.Len(t, components, 1)
		assert.Equal(t, "alex@example.com", components[0].Organizer)
	})

	t.Run("missing uid makes component invalid", func(t *testing.T) {
		payload := ics(
			"BEGIN:VEVENT",
			"SUMMARY:Anonymous",
			"DTSTART:20260901T100000Z",
			"DTEND:20260901T110000Z",
			"END:VEVENT",
		)

		components, err := parseCalendar(payload)
		require.NoError(t, err)
		require.Len(t, components, 1)
		assert.False(t, components[0].valid())
	})

	t.Run("no events is not an error", func(t *testing.T) {
		components, err := parseCalendar(ics())
		require.NoError(t, err)
		assert.Empty(t, components)
	})

	t.Run("garbage payload errors", func(t *testing.T) {
		_, err := parseCalendar([]byte("not a calendar at all"))
		assert.Error(t, err)
	})

	t.Run("concatenated calendars are all read", func(t *testing.T) {
		one := ics("BEGIN:VEVENT", "UID:evt-1", "DTSTART:20260901T100000Z", "DTEND:20260901T110000Z", "END:VEVENT")
		two := ics("BEGIN:VEVENT", "UID:evt-2", "DTSTART:20260902T100000Z", "DTEND:20260902T110000Z", "END:VEVENT")

		components, err := parseCalendar(append(one, two...))
		require.NoError(t, err)
		assert.Len(t, components, 2)
	})
}
