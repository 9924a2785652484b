// Package flag maintains durable flag segments and the session's current
// flag. Flag durations are append-only with at-most-one open segment;
// incoming segments are merged against the durable list rather than
// replacing it outright, so a late or replayed "flags" message never loses
// a previously recorded segment.
package flag

import (
	"context"
	"time"

	"github.com/trackcore/timingcore/engine/models"
)

// Store is the durable flag-log collaborator.
type Store interface {
	LoadFlagDurations(ctx context.Context, eventID, sessionID string) ([]models.FlagDuration, error)
	SaveFlagDurations(ctx context.Context, eventID, sessionID string, durations []models.FlagDuration) error
}

// Processor applies incoming flag segments against the durable log.
type Processor struct {
	store Store
}

// NewProcessor constructs a flag processor backed by store.
func NewProcessor(store Store) *Processor {
	return &Processor{store: store}
}

// Apply merges incoming against the durable flag log for (eventID,
// sessionID), persists the merged result, and returns the SessionStatePatch
// reflecting the new flagDurations and currentFlag. Store errors are
// returned to the caller to log and continue with the last known state,
// never to abort the pipeline.
func (p *Processor) Apply(ctx context.Context, eventID, sessionID string, incoming []models.FlagDuration) (models.SessionStatePatch, error) {
	existing, err := p.store.LoadFlagDurations(ctx, eventID, sessionID)
	if err != nil {
		return models.SessionStatePatch{}, err
	}

	merged := Merge(existing, incoming)

	if err := p.store.SaveFlagDurations(ctx, eventID, sessionID, merged); err != nil {
		return models.SessionStatePatch{}, err
	}

	patch := models.SessionStatePatch{EventID: eventID, SessionID: sessionID}
	patch.FlagDurations = &merged
	if open := openSegment(merged); open != nil {
		patch.CurrentFlag = &open.Flag
	}
	return patch, nil
}

// Merge implements the back-fill/auto-close/append rule without mutating
// either input slice.
func Merge(existing, incoming []models.FlagDuration) []models.FlagDuration {
	result := make([]models.FlagDuration, len(existing))
	copy(result, existing)

	for _, in := range incoming {
		if in.EndTime != nil {
			// Closed duration: back-fill a matching open row.
			backfilled := false
			for i := range result {
				if result[i].Flag == in.Flag && sameInstant(result[i].StartTime, in.StartTime) && result[i].EndTime == nil {
					result[i].EndTime = in.EndTime
					backfilled = true
					break
				}
			}
			if !backfilled && !containsSegment(result, in) {
				result = append(result, in)
			}
			continue
		}

		// New-start (open) duration: auto-close any currently open row that
		// precedes it in time, then append if not already present.
		for i := range result {
			if result[i].EndTime == nil && result[i].StartTime.Before(in.StartTime) {
				end := in.StartTime
				result[i].EndTime = &end
			}
		}
		if !containsSegment(result, in) {
			result = append(result, in)
		}
	}

	sortByStart(result)
	return result
}

func containsSegment(segments []models.FlagDuration, candidate models.FlagDuration) bool {
	for _, s := range segments {
		if s.Flag == candidate.Flag && sameInstant(s.StartTime, candidate.StartTime) {
			return true
		}
	}
	return false
}

func sameInstant(a, b time.Time) bool {
	return a.Equal(b)
}

func openSegment(segments []models.FlagDuration) *models.FlagDuration {
	var latest *models.FlagDuration
	for i := range segments {
		if segments[i].EndTime == nil {
			if latest == nil || segments[i].StartTime.After(latest.StartTime) {
				latest = &segments[i]
			}
		}
	}
	return latest
}

func sortByStart(segments []models.FlagDuration) {
	for i := 1; i < len(segments); i++ {
		for j := i; j > 0 && segments[j].StartTime.Before(segments[j-1].StartTime); j-- {
			segments[j], segments[j-1] = segments[j-1], segments[j]
		}
	}
}
