// Package incar computes each car's neighbours (car ahead, car ahead out of
// class, car behind) for the in-car driver display and tracks per-car
// dirtiness so the fan-out stage only pushes a subscriber group an update
// when something relevant to that car actually changed.
package incar

import (
	"fmt"
	"sort"

	"github.com/trackcore/timingcore/engine/models"
)

// GroupKey returns the WebSocket subscriber group name for a car's in-car
// feed.
func GroupKey(eventID, carNumber string) string {
	return fmt.Sprintf("in-car-evt-%s-car-%s", eventID, carNumber)
}

// neighbours is the snapshot tracked per car to detect dirtiness.
type neighbours struct {
	carAhead           string
	carAheadOutOfClass string
	carBehind          string
	flag               models.Flag
}

// Tracker remembers the last-sent neighbour set and flag per car so Compute
// can report which cars actually changed.
type Tracker struct {
	last map[string]neighbours
}

// NewTracker constructs an empty dirty-tracking table.
func NewTracker() *Tracker {
	return &Tracker{last: make(map[string]neighbours)}
}

// Compute derives neighbours for every classified car (ordered by overall
// position ascending, 0 excluded) and returns one patch per car whose
// neighbours or the global flag changed since the last call. Per spec
// §4.9, carAhead/carBehind are same-class neighbours at classPosition∓1;
// carAheadOutOfClass is the different-class car at overallPosition−1.
func (t *Tracker) Compute(cars map[string]*models.CarPosition, flag models.Flag) []models.CarPositionPatch {
	ordered := make([]*models.CarPosition, 0, len(cars))
	for _, c := range cars {
		if c.OverallPosition > 0 {
			ordered = append(ordered, c)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].OverallPosition < ordered[j].OverallPosition })

	byPosition := make(map[int]*models.CarPosition, len(ordered))
	for _, c := range ordered {
		byPosition[c.OverallPosition] = c
	}

	classGroups := make(map[string][]*models.CarPosition)
	for _, c := range ordered {
		classGroups[c.Class] = append(classGroups[c.Class], c)
	}
	classIndex := make(map[string]int, len(ordered))
	for _, group := range classGroups {
		for idx, c := range group {
			classIndex[c.Number] = idx
		}
	}

	var patches []models.CarPositionPatch
	for _, car := range ordered {
		group := classGroups[car.Class]
		idx := classIndex[car.Number]

		var ahead, behind, aheadOutOfClass string
		if idx > 0 {
			ahead = group[idx-1].Number
		}
		if idx < len(group)-1 {
			behind = group[idx+1].Number
		}
		if prevCar, ok := byPosition[car.OverallPosition-1]; ok && prevCar.Class != car.Class {
			aheadOutOfClass = prevCar.Number
		}

		current := neighbours{carAhead: ahead, carAheadOutOfClass: aheadOutOfClass, carBehind: behind, flag: flag}
		prev, seen := t.last[car.Number]
		t.last[car.Number] = current
		if seen && prev == current {
			continue
		}

		patches = append(patches, models.CarPositionPatch{
			Number:             car.Number,
			CarAhead:           &ahead,
			CarAheadOutOfClass: &aheadOutOfClass,
			CarBehind:          &behind,
		})
	}
	return patches
}
