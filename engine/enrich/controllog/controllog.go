// Package controllog periodically reloads the control log, indexes entries
// by lower-cased car number (with an empty-key bucket for entries naming no
// car), detects which cars' entry lists changed, and derives per-car
// penalty counters.
package controllog

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/trackcore/timingcore/engine/models"
)

// Loader is the IControlLog collaborator: re-fetches the full set of
// control-log entries for the event/session identified by parameter.
type Loader interface {
	LoadControlLog(ctx context.Context, parameter string) (ok bool, entries []models.ControlLogEntry, err error)
}

// CarEntries is the dense per-car view published to the hub's control-log group.
type CarEntries struct {
	CarNumber string // lower-cased
	Entries   []models.ControlLogEntry
}

var (
	warningPattern = regexp.MustCompile(`(?i)warning`)
	lapsPattern    = regexp.MustCompile(`(?i)(\d+)\s+(lap|laps)`)
)

// Processor holds the previous per-car index so Reload can detect which
// cars' entries changed.
type Processor struct {
	loader Loader

	mu    sync.Mutex
	byCar map[string][]models.ControlLogEntry
}

// NewProcessor constructs a control-log processor backed by loader.
func NewProcessor(loader Loader) *Processor {
	return &Processor{loader: loader, byCar: make(map[string][]models.ControlLogEntry)}
}

// Reload re-fetches entries, returns the per-car entry lists that changed
// since the last call, and the penalty patches (PenaltyWarnings/PenaltyLaps)
// for every car whose displayed entry list changed. A false ok from the
// loader (failed fetch) is reported as a no-op, not an error.
func (p *Processor) Reload(ctx context.Context, parameter string) ([]CarEntries, []models.CarPositionPatch, error) {
	ok, entries, err := p.loader.LoadControlLog(ctx, parameter)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	display := make(map[string][]models.ControlLogEntry)
	penaltyTarget := make(map[string][]models.ControlLogEntry)

	for _, e := range entries {
		c1 := strings.ToLower(e.Car1)
		c2 := strings.ToLower(e.Car2)
		display[c1] = append(display[c1], e)
		if c2 != "" {
			display[c2] = append(display[c2], e)
		}
		target := penaltyTargetCar(e)
		penaltyTarget[target] = append(penaltyTarget[target], e)
	}

	var changed []CarEntries
	for car, list := range display {
		if !entriesEqualList(p.byCar[car], list) {
			changed = append(changed, CarEntries{CarNumber: car, Entries: list})
		}
	}
	for car := range p.byCar {
		if _, stillPresent := display[car]; !stillPresent {
			changed = append(changed, CarEntries{CarNumber: car, Entries: nil})
		}
	}
	p.byCar = display

	var patches []models.CarPositionPatch
	for _, ce := range changed {
		warnings, laps := computePenalties(penaltyTarget[ce.CarNumber])
		patches = append(patches, models.CarPositionPatch{
			Number:          ce.CarNumber,
			PenaltyWarnings: &warnings,
			PenaltyLaps:     &laps,
		})
	}
	return changed, patches, nil
}

// penaltyTargetCar applies a two-car entry's penalty to the highlighted car,
// falling back to car1 when neither side is highlighted; a single-car entry
// always targets car1.
func penaltyTargetCar(e models.ControlLogEntry) string {
	c1 := strings.ToLower(e.Car1)
	c2 := strings.ToLower(e.Car2)
	if c2 == "" {
		return c1
	}
	h := strings.ToLower(e.Highlighted)
	if h == c1 || h == c2 {
		return h
	}
	return c1
}

func computePenalties(entries []models.ControlLogEntry) (warnings, laps int) {
	for _, e := range entries {
		if warningPattern.MatchString(e.PenaltyAction) {
			warnings++
		}
		if m := lapsPattern.FindStringSubmatch(e.PenaltyAction); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				laps += n
			}
		}
	}
	return warnings, laps
}

func entriesEqualList(a, b []models.ControlLogEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
