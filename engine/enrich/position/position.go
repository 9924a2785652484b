// Package position computes class position, overall/class gap & difference,
// best-time flags, and positions gained/lost for every car in a session.
// It operates on a deep-copied snapshot and returns patches for whatever
// actually changed, so identity-only patches never reach the consolidator.
package position

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/trackcore/timingcore/engine/models"
)

// InvalidPosition mirrors models.InvalidPosition for readability at call sites.
const InvalidPosition = models.InvalidPosition

// ShouldInferStartingPosition reports whether a $G-style car-lap record
// observed under flag/lap conditions is eligible to seed a starting
// position: flag ∈ {Unknown, Yellow, Green} and lap ≤ 1.
func ShouldInferStartingPosition(flag models.Flag, lap int) bool {
	switch flag {
	case models.FlagUnknown, models.FlagYellow, models.FlagGreen:
		return lap <= 1
	default:
		return false
	}
}

// Enrich computes position/gap/diff/best-time/positions-gained for every
// car in `cars` (keyed by number) and returns one patch per car whose
// enriched fields changed relative to its current snapshot.
func Enrich(cars map[string]*models.CarPosition) []models.CarPositionPatch {
	before := make(map[string]*models.CarPosition, len(cars))
	after := make(map[string]*models.CarPosition, len(cars))
	ordered := make([]*models.CarPosition, 0, len(cars))
	for number, car := range cars {
		before[number] = car.Clone()
		clone := car.Clone()
		after[number] = clone
		ordered = append(ordered, clone)
	}

	sortByOverallPosition(ordered)
	computeOverallGapDiff(ordered)
	computeClassPositionsAndGaps(ordered)
	computeBestTimes(ordered)
	computePositionsGained(ordered)

	var patches []models.CarPositionPatch
	for _, car := range ordered {
		patch := models.DiffCarPosition(before[car.Number], car)
		if !patch.IsEmpty() {
			patches = append(patches, patch)
		}
	}
	return patches
}

// sortByOverallPosition orders ascending, with 0 ("unclassified") last.
func sortByOverallPosition(cars []*models.CarPosition) {
	sort.SliceStable(cars, func(i, j int) bool {
		a, b := cars[i].OverallPosition, cars[j].OverallPosition
		if a == 0 {
			return false
		}
		if b == 0 {
			return true
		}
		return a < b
	})
}

func computeOverallGapDiff(sorted []*models.CarPosition) {
	if len(sorted) == 0 {
		return
	}
	leader := sorted[0]
	if leader.OverallPosition == 0 {
		return // I3: no classified leader, skip enrichment
	}
	leader.OverallGap = ""
	leader.OverallDifference = ""

	leaderTime, _ := parseElapsed(leader.TotalTime)
	for i := 1; i < len(sorted); i++ {
		car := sorted[i]
		if car.OverallPosition == 0 {
			continue
		}
		prev := sorted[i-1]
		car.OverallGap = gapAgainst(prev, car)
		car.OverallDifference = gapAgainstTime(leaderTime, car)
	}
}

func gapAgainst(prev, car *models.CarPosition) string {
	if car.LastLapCompleted != prev.LastLapCompleted {
		laps := prev.LastLapCompleted - car.LastLapCompleted
		if laps < 0 {
			laps = -laps
		}
		return lapCountString(laps)
	}
	prevTime, errPrev := parseElapsed(prev.TotalTime)
	carTime, errCar := parseElapsed(car.TotalTime)
	if errPrev != nil || errCar != nil {
		return ""
	}
	return formatElapsed(carTime - prevTime)
}

func gapAgainstTime(leaderTime time.Duration, car *models.CarPosition) string {
	carTime, err := parseElapsed(car.TotalTime)
	if err != nil {
		return ""
	}
	return formatElapsed(carTime - leaderTime)
}

func lapCountString(n int) string {
	if n == 1 {
		return "1 lap"
	}
	return fmt.Sprintf("%d laps", n)
}

func computeClassPositionsAndGaps(sorted []*models.CarPosition) {
	byClass := make(map[string][]*models.CarPosition)
	for _, car := range sorted {
		byClass[car.Class] = append(byClass[car.Class], car)
	}
	for _, group := range byClass {
		// group is already in overall-position order since `sorted` is.
		for i, car := range group {
			car.ClassPosition = i + 1
		}
		if len(group) == 0 {
			continue
		}
		leader := group[0]
		if leader.OverallPosition == 0 {
			continue
		}
		leader.InClassGap = ""
		leader.InClassDifference = ""
		leaderTime, _ := parseElapsed(leader.TotalTime)
		for i := 1; i < len(group); i++ {
			car := group[i]
			if car.OverallPosition == 0 {
				continue
			}
			car.InClassGap = gapAgainst(group[i-1], car)
			car.InClassDifference = gapAgainstTime(leaderTime, car)
		}
	}
}

func computeBestTimes(cars []*models.CarPosition) {
	var bestOverall *models.CarPosition
	var bestOverallTime time.Duration
	bestByClass := make(map[string]*models.CarPosition)
	bestByClassTime := make(map[string]time.Duration)

	for _, car := range cars {
		car.IsBestTime = false
		car.IsBestTimeClass = false
		t, err := parseElapsed(car.BestTime)
		if err != nil || t <= 0 {
			continue
		}
		if bestOverall == nil || t < bestOverallTime {
			bestOverall = car
			bestOverallTime = t
		}
		if _, ok := bestByClass[car.Class]; !ok || t < bestByClassTime[car.Class] {
			bestByClass[car.Class] = car
			bestByClassTime[car.Class] = t
		}
	}
	if bestOverall != nil {
		bestOverall.IsBestTime = true
	}
	for _, car := range bestByClass {
		car.IsBestTimeClass = true
	}
}

func computePositionsGained(cars []*models.CarPosition) {
	var overallMax *models.CarPosition
	overallMaxVal := 0
	overallTies := 0
	byClassMax := make(map[string]int)
	byClassCar := make(map[string]*models.CarPosition)
	byClassTies := make(map[string]int)

	for _, car := range cars {
		if car.OverallStartingPosition == 0 || car.OverallPosition == 0 {
			car.OverallPositionsGained = InvalidPosition
		} else {
			car.OverallPositionsGained = car.OverallStartingPosition - car.OverallPosition
		}
		if car.InClassStartingPosition == 0 || car.ClassPosition == 0 {
			car.InClassPositionsGained = InvalidPosition
		} else {
			car.InClassPositionsGained = car.InClassStartingPosition - car.ClassPosition
		}
		car.IsOverallMostPositionsGained = false
		car.IsClassMostPositionsGained = false

		if car.OverallPositionsGained > 0 {
			switch {
			case car.OverallPositionsGained > overallMaxVal:
				overallMaxVal = car.OverallPositionsGained
				overallMax = car
				overallTies = 1
			case car.OverallPositionsGained == overallMaxVal:
				overallTies++
			}
		}
		if car.InClassPositionsGained > 0 {
			cur := byClassMax[car.Class]
			switch {
			case car.InClassPositionsGained > cur:
				byClassMax[car.Class] = car.InClassPositionsGained
				byClassCar[car.Class] = car
				byClassTies[car.Class] = 1
			case car.InClassPositionsGained == cur:
				byClassTies[car.Class]++
			}
		}
	}
	if overallMax != nil && overallTies == 1 {
		overallMax.IsOverallMostPositionsGained = true
	}
	for class, car := range byClassCar {
		if byClassTies[class] == 1 {
			car.IsClassMostPositionsGained = true
		}
	}
}

// parseElapsed parses "H:MM:SS.fff", "HH:MM:SS.fff", or "MM:SS.fff" into a
// duration. An empty or unparsable string returns an error.
func parseElapsed(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty elapsed time")
	}
	parts := strings.Split(s, ":")
	var hours, minutes int
	var seconds float64
	var err error
	switch len(parts) {
	case 3:
		hours, err = strconv.Atoi(parts[0])
		if err != nil {
			return 0, err
		}
		minutes, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, err
		}
		seconds, err = strconv.ParseFloat(parts[2], 64)
	case 2:
		minutes, err = strconv.Atoi(parts[0])
		if err != nil {
			return 0, err
		}
		seconds, err = strconv.ParseFloat(parts[1], 64)
	case 1:
		seconds, err = strconv.ParseFloat(parts[0], 64)
	default:
		return 0, fmt.Errorf("invalid elapsed time %q", s)
	}
	if err != nil {
		return 0, err
	}
	total := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return total, nil
}

// formatElapsed renders a non-negative duration as "s.fff" when under one
// minute, else "m:ss.fff".
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	totalMillis := d.Milliseconds()
	if d < time.Minute {
		return fmt.Sprintf("%d.%03d", totalMillis/1000, totalMillis%1000)
	}
	minutes := totalMillis / 60000
	rem := totalMillis % 60000
	return fmt.Sprintf("%d:%02d.%03d", minutes, rem/1000, rem%1000)
}
