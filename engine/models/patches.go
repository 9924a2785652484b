package models

// Patches are sparse mirrors of SessionState/CarPosition: a present (non-nil)
// field denotes a changed value. Diff/Apply/Merge are hand-written per field
// rather than reflection-driven, to keep the hot path free of runtime
// reflection.

// CarPositionPatch carries only the fields of a CarPosition that changed.
// Number is the identity key and is always present.
type CarPositionPatch struct {
	Number string

	TransponderID *string
	DriverName    *string
	Class         *string

	OverallPosition  *int
	ClassPosition    *int
	LastLapCompleted *int
	TotalTime        *string
	LastLapTime      *string
	BestTime         *string
	TrackFlag        *Flag

	OverallGap                   *string
	OverallDifference            *string
	InClassGap                   *string
	InClassDifference            *string
	IsBestTime                   *bool
	IsBestTimeClass              *bool
	OverallStartingPosition      *int
	InClassStartingPosition      *int
	OverallPositionsGained       *int
	InClassPositionsGained       *int
	IsOverallMostPositionsGained *bool
	IsClassMostPositionsGained   *bool

	IsInPit          *bool
	IsEnteredPit     *bool
	IsExitedPit      *bool
	IsPitStartFinish *bool
	LastLoopName     *string
	PitStopCount     *int
	LastLapPitted    *int
	LapIncludedPit   *bool

	CompletedSections *[]CompletedSection

	CurrentStatus    *string
	ProjectedLapTime *string
	PenaltyWarnings  *int
	PenaltyLaps      *int

	VideoDestinations *[]string
	VideoFlags        *[]string

	CarAhead           *string
	CarAheadOutOfClass *string
	CarBehind          *string
}

// IsEmpty reports whether the patch carries anything beyond its identity key.
func (p CarPositionPatch) IsEmpty() bool {
	return p == CarPositionPatch{Number: p.Number}
}

func ptr[T any](v T) *T { return &v }

func diffVal[T comparable](before, after T) *T {
	if before == after {
		return nil
	}
	return ptr(after)
}

func sectionsEqual(a, b []CompletedSection) bool {
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

func stringsEqual(a, b []string) bool {
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

// DiffCarPosition produces the patch describing how `after` differs from
// `before`. Used by enrichers after their deep-copy-then-mutate-then-diff
// pass over a car snapshot.
func DiffCarPosition(before, after *CarPosition) CarPositionPatch {
	p := CarPositionPatch{Number: after.Number}
	p.TransponderID = diffVal(before.TransponderID, after.TransponderID)
	p.DriverName = diffVal(before.DriverName, after.DriverName)
	p.Class = diffVal(before.Class, after.Class)
	p.OverallPosition = diffVal(before.OverallPosition, after.OverallPosition)
	p.ClassPosition = diffVal(before.ClassPosition, after.ClassPosition)
	p.LastLapCompleted = diffVal(before.LastLapCompleted, after.LastLapCompleted)
	p.TotalTime = diffVal(before.TotalTime, after.TotalTime)
	p.LastLapTime = diffVal(before.LastLapTime, after.LastLapTime)
	p.BestTime = diffVal(before.BestTime, after.BestTime)
	p.TrackFlag = diffVal(before.TrackFlag, after.TrackFlag)
	p.OverallGap = diffVal(before.OverallGap, after.OverallGap)
	p.OverallDifference = diffVal(before.OverallDifference, after.OverallDifference)
	p.InClassGap = diffVal(before.InClassGap, after.InClassGap)
	p.InClassDifference = diffVal(before.InClassDifference, after.InClassDifference)
	p.IsBestTime = diffVal(before.IsBestTime, after.IsBestTime)
	p.IsBestTimeClass = diffVal(before.IsBestTimeClass, after.IsBestTimeClass)
	p.OverallStartingPosition = diffVal(before.OverallStartingPosition, after.OverallStartingPosition)
	p.InClassStartingPosition = diffVal(before.InClassStartingPosition, after.InClassStartingPosition)
	p.OverallPositionsGained = diffVal(before.OverallPositionsGained, after.OverallPositionsGained)
	p.InClassPositionsGained = diffVal(before.InClassPositionsGained, after.InClassPositionsGained)
	p.IsOverallMostPositionsGained = diffVal(before.IsOverallMostPositionsGained, after.IsOverallMostPositionsGained)
	p.IsClassMostPositionsGained = diffVal(before.IsClassMostPositionsGained, after.IsClassMostPositionsGained)
	p.IsInPit = diffVal(before.IsInPit, after.IsInPit)
	p.IsEnteredPit = diffVal(before.IsEnteredPit, after.IsEnteredPit)
	p.IsExitedPit = diffVal(before.IsExitedPit, after.IsExitedPit)
	p.IsPitStartFinish = diffVal(before.IsPitStartFinish, after.IsPitStartFinish)
	p.LastLoopName = diffVal(before.LastLoopName, after.LastLoopName)
	p.PitStopCount = diffVal(before.PitStopCount, after.PitStopCount)
	p.LastLapPitted = diffVal(before.LastLapPitted, after.LastLapPitted)
	p.LapIncludedPit = diffVal(before.LapIncludedPit, after.LapIncludedPit)
	if !sectionsEqual(before.CompletedSections, after.CompletedSections) {
		p.CompletedSections = ptr(append([]CompletedSection(nil), after.CompletedSections...))
	}
	p.CurrentStatus = diffVal(before.CurrentStatus, after.CurrentStatus)
	p.ProjectedLapTime = diffVal(before.ProjectedLapTime, after.ProjectedLapTime)
	p.PenaltyWarnings = diffVal(before.PenaltyWarnings, after.PenaltyWarnings)
	p.PenaltyLaps = diffVal(before.PenaltyLaps, after.PenaltyLaps)
	if !stringsEqual(before.VideoDestinations, after.VideoDestinations) {
		p.VideoDestinations = ptr(append([]string(nil), after.VideoDestinations...))
	}
	if !stringsEqual(before.VideoFlags, after.VideoFlags) {
		p.VideoFlags = ptr(append([]string(nil), after.VideoFlags...))
	}
	p.CarAhead = diffVal(before.CarAhead, after.CarAhead)
	p.CarAheadOutOfClass = diffVal(before.CarAheadOutOfClass, after.CarAheadOutOfClass)
	p.CarBehind = diffVal(before.CarBehind, after.CarBehind)
	return p
}

// ApplyCarPatch mutates c in place with every present field of p.
func ApplyCarPatch(c *CarPosition, p CarPositionPatch) {
	if p.TransponderID != nil {
		c.TransponderID = *p.TransponderID
	}
	if p.DriverName != nil {
		c.DriverName = *p.DriverName
	}
	if p.Class != nil {
		c.Class = *p.Class
	}
	if p.OverallPosition != nil {
		c.OverallPosition = *p.OverallPosition
	}
	if p.ClassPosition != nil {
		c.ClassPosition = *p.ClassPosition
	}
	if p.LastLapCompleted != nil {
		c.LastLapCompleted = *p.LastLapCompleted
	}
	if p.TotalTime != nil {
		c.TotalTime = *p.TotalTime
	}
	if p.LastLapTime != nil {
		c.LastLapTime = *p.LastLapTime
	}
	if p.BestTime != nil {
		c.BestTime = *p.BestTime
	}
	if p.TrackFlag != nil {
		c.TrackFlag = *p.TrackFlag
	}
	if p.OverallGap != nil {
		c.OverallGap = *p.OverallGap
	}
	if p.OverallDifference != nil {
		c.OverallDifference = *p.OverallDifference
	}
	if p.InClassGap != nil {
		c.InClassGap = *p.InClassGap
	}
	if p.InClassDifference != nil {
		c.InClassDifference = *p.InClassDifference
	}
	if p.IsBestTime != nil {
		c.IsBestTime = *p.IsBestTime
	}
	if p.IsBestTimeClass != nil {
		c.IsBestTimeClass = *p.IsBestTimeClass
	}
	if p.OverallStartingPosition != nil {
		c.OverallStartingPosition = *p.OverallStartingPosition
	}
	if p.InClassStartingPosition != nil {
		c.InClassStartingPosition = *p.InClassStartingPosition
	}
	if p.OverallPositionsGained != nil {
		c.OverallPositionsGained = *p.OverallPositionsGained
	}
	if p.InClassPositionsGained != nil {
		c.InClassPositionsGained = *p.InClassPositionsGained
	}
	if p.IsOverallMostPositionsGained != nil {
		c.IsOverallMostPositionsGained = *p.IsOverallMostPositionsGained
	}
	if p.IsClassMostPositionsGained != nil {
		c.IsClassMostPositionsGained = *p.IsClassMostPositionsGained
	}
	if p.IsInPit != nil {
		c.IsInPit = *p.IsInPit
	}
	if p.IsEnteredPit != nil {
		c.IsEnteredPit = *p.IsEnteredPit
	}
	if p.IsExitedPit != nil {
		c.IsExitedPit = *p.IsExitedPit
	}
	if p.IsPitStartFinish != nil {
		c.IsPitStartFinish = *p.IsPitStartFinish
	}
	if p.LastLoopName != nil {
		c.LastLoopName = *p.LastLoopName
	}
	if p.PitStopCount != nil {
		c.PitStopCount = *p.PitStopCount
	}
	if p.LastLapPitted != nil {
		c.LastLapPitted = *p.LastLapPitted
	}
	if p.LapIncludedPit != nil {
		c.LapIncludedPit = *p.LapIncludedPit
	}
	if p.CompletedSections != nil {
		c.CompletedSections = *p.CompletedSections
	}
	if p.CurrentStatus != nil {
		c.CurrentStatus = *p.CurrentStatus
	}
	if p.ProjectedLapTime != nil {
		c.ProjectedLapTime = *p.ProjectedLapTime
	}
	if p.PenaltyWarnings != nil {
		c.PenaltyWarnings = *p.PenaltyWarnings
	}
	if p.PenaltyLaps != nil {
		c.PenaltyLaps = *p.PenaltyLaps
	}
	if p.VideoDestinations != nil {
		c.VideoDestinations = *p.VideoDestinations
	}
	if p.VideoFlags != nil {
		c.VideoFlags = *p.VideoFlags
	}
	if p.CarAhead != nil {
		c.CarAhead = *p.CarAhead
	}
	if p.CarAheadOutOfClass != nil {
		c.CarAheadOutOfClass = *p.CarAheadOutOfClass
	}
	if p.CarBehind != nil {
		c.CarBehind = *p.CarBehind
	}
}

// MergeCarPatch folds src into dst, field by field; a present field in src
// overwrites dst's value for that field ("last writer wins"). Fields absent
// in src preserve dst's prior value. dst.Number is assumed already set.
func MergeCarPatch(dst *CarPositionPatch, src CarPositionPatch) {
	if src.TransponderID != nil {
		dst.TransponderID = src.TransponderID
	}
	if src.DriverName != nil {
		dst.DriverName = src.DriverName
	}
	if src.Class != nil {
		dst.Class = src.Class
	}
	if src.OverallPosition != nil {
		dst.OverallPosition = src.OverallPosition
	}
	if src.ClassPosition != nil {
		dst.ClassPosition = src.ClassPosition
	}
	if src.LastLapCompleted != nil {
		dst.LastLapCompleted = src.LastLapCompleted
	}
	if src.TotalTime != nil {
		dst.TotalTime = src.TotalTime
	}
	if src.LastLapTime != nil {
		dst.LastLapTime = src.LastLapTime
	}
	if src.BestTime != nil {
		dst.BestTime = src.BestTime
	}
	if src.TrackFlag != nil {
		dst.TrackFlag = src.TrackFlag
	}
	if src.OverallGap != nil {
		dst.OverallGap = src.OverallGap
	}
	if src.OverallDifference != nil {
		dst.OverallDifference = src.OverallDifference
	}
	if src.InClassGap != nil {
		dst.InClassGap = src.InClassGap
	}
	if src.InClassDifference != nil {
		dst.InClassDifference = src.InClassDifference
	}
	if src.IsBestTime != nil {
		dst.IsBestTime = src.IsBestTime
	}
	if src.IsBestTimeClass != nil {
		dst.IsBestTimeClass = src.IsBestTimeClass
	}
	if src.OverallStartingPosition != nil {
		dst.OverallStartingPosition = src.OverallStartingPosition
	}
	if src.InClassStartingPosition != nil {
		dst.InClassStartingPosition = src.InClassStartingPosition
	}
	if src.OverallPositionsGained != nil {
		dst.OverallPositionsGained = src.OverallPositionsGained
	}
	if src.InClassPositionsGained != nil {
		dst.InClassPositionsGained = src.InClassPositionsGained
	}
	if src.IsOverallMostPositionsGained != nil {
		dst.IsOverallMostPositionsGained = src.IsOverallMostPositionsGained
	}
	if src.IsClassMostPositionsGained != nil {
		dst.IsClassMostPositionsGained = src.IsClassMostPositionsGained
	}
	if src.IsInPit != nil {
		dst.IsInPit = src.IsInPit
	}
	if src.IsEnteredPit != nil {
		dst.IsEnteredPit = src.IsEnteredPit
	}
	if src.IsExitedPit != nil {
		dst.IsExitedPit = src.IsExitedPit
	}
	if src.IsPitStartFinish != nil {
		dst.IsPitStartFinish = src.IsPitStartFinish
	}
	if src.LastLoopName != nil {
		dst.LastLoopName = src.LastLoopName
	}
	if src.PitStopCount != nil {
		dst.PitStopCount = src.PitStopCount
	}
	if src.LastLapPitted != nil {
		dst.LastLapPitted = src.LastLapPitted
	}
	if src.LapIncludedPit != nil {
		dst.LapIncludedPit = src.LapIncludedPit
	}
	if src.CompletedSections != nil {
		dst.CompletedSections = src.CompletedSections
	}
	if src.CurrentStatus != nil {
		dst.CurrentStatus = src.CurrentStatus
	}
	if src.ProjectedLapTime != nil {
		dst.ProjectedLapTime = src.ProjectedLapTime
	}
	if src.PenaltyWarnings != nil {
		dst.PenaltyWarnings = src.PenaltyWarnings
	}
	if src.PenaltyLaps != nil {
		dst.PenaltyLaps = src.PenaltyLaps
	}
	if src.VideoDestinations != nil {
		dst.VideoDestinations = src.VideoDestinations
	}
	if src.VideoFlags != nil {
		dst.VideoFlags = src.VideoFlags
	}
	if src.CarAhead != nil {
		dst.CarAhead = src.CarAhead
	}
	if src.CarAheadOutOfClass != nil {
		dst.CarAheadOutOfClass = src.CarAheadOutOfClass
	}
	if src.CarBehind != nil {
		dst.CarBehind = src.CarBehind
	}
}

// SessionStatePatch carries only the fields of a SessionState that changed.
// Car-level changes travel separately as CarPositionPatch values.
type SessionStatePatch struct {
	EventID   string
	SessionID string

	SessionName     *string
	LocalTimeOfDay  *string
	RunningRaceTime *string
	TimeToGo        *string
	LapsToGo        *int
	CurrentFlag     *Flag
	FlagMetrics     *FlagMetrics
	FlagDurations   *[]FlagDuration
	EventEntries    *[]EventEntry
}

// IsEmpty reports whether the patch carries anything beyond its identity key.
func (p SessionStatePatch) IsEmpty() bool {
	return p == SessionStatePatch{EventID: p.EventID, SessionID: p.SessionID}
}

func flagDurationsEqual(a, b []FlagDuration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Flag != b[i].Flag || !a[i].StartTime.Equal(b[i].StartTime) {
			return false
		}
		switch {
		case a[i].EndTime == nil && b[i].EndTime == nil:
		case a[i].EndTime == nil || b[i].EndTime == nil:
			return false
		case !a[i].EndTime.Equal(*b[i].EndTime):
			return false
		}
	}
	return true
}

func entriesEqual(a, b []EventEntry) bool {
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

// DiffSessionState produces the patch describing how `after` differs from
// `before` (identity and CarPositions excluded; cars are diffed separately).
func DiffSessionState(before, after *SessionState) SessionStatePatch {
	p := SessionStatePatch{EventID: after.EventID, SessionID: after.SessionID}
	p.SessionName = diffVal(before.SessionName, after.SessionName)
	p.LocalTimeOfDay = diffVal(before.LocalTimeOfDay, after.LocalTimeOfDay)
	p.RunningRaceTime = diffVal(before.RunningRaceTime, after.RunningRaceTime)
	p.TimeToGo = diffVal(before.TimeToGo, after.TimeToGo)
	p.LapsToGo = diffVal(before.LapsToGo, after.LapsToGo)
	p.CurrentFlag = diffVal(before.CurrentFlag, after.CurrentFlag)
	if before.FlagMetrics != after.FlagMetrics {
		p.FlagMetrics = ptr(after.FlagMetrics)
	}
	if !flagDurationsEqual(before.FlagDurations, after.FlagDurations) {
		p.FlagDurations = ptr(append([]FlagDuration(nil), after.FlagDurations...))
	}
	if !entriesEqual(before.EventEntries, after.EventEntries) {
		p.EventEntries = ptr(append([]EventEntry(nil), after.EventEntries...))
	}
	return p
}

// ApplySessionPatch mutates s in place with every present field of p.
func ApplySessionPatch(s *SessionState, p SessionStatePatch) {
	if p.SessionName != nil {
		s.SessionName = *p.SessionName
	}
	if p.LocalTimeOfDay != nil {
		s.LocalTimeOfDay = *p.LocalTimeOfDay
	}
	if p.RunningRaceTime != nil {
		s.RunningRaceTime = *p.RunningRaceTime
	}
	if p.TimeToGo != nil {
		s.TimeToGo = *p.TimeToGo
	}
	if p.LapsToGo != nil {
		s.LapsToGo = *p.LapsToGo
	}
	if p.CurrentFlag != nil {
		s.CurrentFlag = *p.CurrentFlag
	}
	if p.FlagMetrics != nil {
		s.FlagMetrics = *p.FlagMetrics
	}
	if p.FlagDurations != nil {
		s.FlagDurations = *p.FlagDurations
	}
	if p.EventEntries != nil {
		s.EventEntries = *p.EventEntries
	}
}

// MergeSessionPatch folds src into dst, field by field, last-writer-wins.
func MergeSessionPatch(dst *SessionStatePatch, src SessionStatePatch) {
	if src.SessionName != nil {
		dst.SessionName = src.SessionName
	}
	if src.LocalTimeOfDay != nil {
		dst.LocalTimeOfDay = src.LocalTimeOfDay
	}
	if src.RunningRaceTime != nil {
		dst.RunningRaceTime = src.RunningRaceTime
	}
	if src.TimeToGo != nil {
		dst.TimeToGo = src.TimeToGo
	}
	if src.LapsToGo != nil {
		dst.LapsToGo = src.LapsToGo
	}
	if src.CurrentFlag != nil {
		dst.CurrentFlag = src.CurrentFlag
	}
	if src.FlagMetrics != nil {
		dst.FlagMetrics = src.FlagMetrics
	}
	if src.FlagDurations != nil {
		dst.FlagDurations = src.FlagDurations
	}
	if src.EventEntries != nil {
		dst.EventEntries = src.EventEntries
	}
}
