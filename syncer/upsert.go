package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dayframe/calsync/models"
)

// upsertComponent applies the import rule for one parsed component and
// reports whether a new event was inserted.
//
// The rule is insert-once: a component missing its required fields is
// skipped, a component whose (user, provider, uid) key already has an event
// is skipped, everything else becomes a new scheduled event tagged with the
// provider as its sync source. Provider-side edits after the first import
// are deliberately not applied; the rule lives in this one function so a
// field-updating variant can replace it without touching the pass logic.
func (e *Engine) upsertComponent(ctx context.Context, userID string, comp component) (bool, error) {
	if !comp.valid() {
		return false, nil
	}

	_, err := e.events.GetByExternalID(ctx, userID, e.providerName, comp.UID)
	if err == nil {
		return false, nil
	}

	if !errors.Is(err, models.ErrNotFound) {
		return false, fmt.Errorf("lookup event %s: %w", comp.UID, err)
	}

	now := time.Now().UTC()

	title := comp.Title
	if title == "" {
		title = "Untitled event"
	}

	description := comp.Description
	if comp.Organizer != "" {
		if description != "" {
			description += "\n"
		}

		description += "Organizer: " + comp.Organizer
	}

	event := &models.Event{
		UserID:           userID,
		Title:            title,
		Description:      description,
		StartDate:        comp.Start,
		EndDate:          comp.End,
		Location:         comp.Location,
		Type:             models.EventTypeEvent,
		Status:           models.EventStatusScheduled,
		SyncSource:       e.providerName,
		ExternalID:       comp.UID,
		LastExternalSync: &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := e.events.Create(ctx, event); err != nil {
		// A concurrent pass inserted the same key between the lookup and
		// the insert. The dedup index makes that harmless.
		if errors.Is(err, models.ErrDuplicate) {
			return false, nil
		}

		return false, fmt.Errorf("insert event %s: %w", comp.UID, err)
	}

	return true, nil
}
