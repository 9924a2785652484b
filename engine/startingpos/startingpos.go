// Package startingpos runs the background starting-position inference loop:
// once a session goes green, it reconstructs each car's starting rank from
// the lap recorded just before the first green lap and derives dense
// in-class ranks from it.
package startingpos

import (
	"context"
	"sort"

	"github.com/trackcore/timingcore/engine/models"
)

// Store loads the historical lap rows needed to reconstruct starting
// positions.
type Store interface {
	LoadLapRange(ctx context.Context, eventID, sessionID string, fromLap, toLap int) ([]models.CarLapLogRow, error)
}

const (
	historicalLapWindow = 4
	activationLap       = 3
)

// IsActive reports whether the event is far enough along (lap > 3 and flag
// among the green-adjacent set) to attempt inference.
func IsActive(lap int, flag models.Flag) bool {
	if lap <= activationLap {
		return false
	}
	switch flag {
	case models.FlagGreen, models.FlagYellow, models.FlagRed, models.FlagPurple35:
		return true
	default:
		return false
	}
}

// Compute reconstructs starting positions from historical lap rows spanning
// laps 0..4. It finds the first lap at which the overall leader (the row
// with OverallPosition==1) ran under Green, and takes the immediately
// preceding lap's overall positions as the starting grid. ok is false when
// no such lap (or its predecessor) is present in rows.
func Compute(rows []models.CarLapLogRow) (models.StartingPositions, bool) {
	byLap := make(map[int][]models.CarLapLogRow)
	for _, r := range rows {
		byLap[r.LapNumber] = append(byLap[r.LapNumber], r)
	}

	laps := make([]int, 0, len(byLap))
	for lap := range byLap {
		laps = append(laps, lap)
	}
	sort.Ints(laps)

	greenLap := -1
	for _, lap := range laps {
		for _, r := range byLap[lap] {
			if r.LapData.OverallPosition == 1 && r.Flag == models.FlagGreen {
				greenLap = lap
				break
			}
		}
		if greenLap != -1 {
			break
		}
	}
	if greenLap <= 0 {
		return models.StartingPositions{}, false
	}

	snapshotLap := greenLap - 1
	snapshot, ok := byLap[snapshotLap]
	if !ok || len(snapshot) == 0 {
		return models.StartingPositions{}, false
	}

	result := models.NewStartingPositions()
	type ranked struct {
		number string
		class  string
		pos    int
	}
	ordered := make([]ranked, 0, len(snapshot))
	for _, r := range snapshot {
		if r.LapData.OverallPosition == 0 {
			continue
		}
		result.Overall[r.CarNumber] = r.LapData.OverallPosition
		ordered = append(ordered, ranked{number: r.CarNumber, class: r.LapData.Class, pos: r.LapData.OverallPosition})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].pos < ordered[j].pos })

	byClass := make(map[string][]string)
	for _, r := range ordered {
		byClass[r.class] = append(byClass[r.class], r.number)
	}
	for _, numbers := range byClass {
		for i, number := range numbers {
			result.InClass[number] = i + 1
		}
	}
	return result, true
}

// Reload loads laps 0..4 for sessionID and computes starting positions,
// returning (positions, false) when there is not enough history yet.
func Reload(ctx context.Context, store Store, eventID, sessionID string) (models.StartingPositions, bool, error) {
	rows, err := store.LoadLapRange(ctx, eventID, sessionID, 0, historicalLapWindow)
	if err != nil {
		return models.StartingPositions{}, false, err
	}
	positions, ok := Compute(rows)
	return positions, ok, nil
}
