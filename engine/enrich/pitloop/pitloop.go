// Package pitloop classifies transponder passings against loop metadata
// into pit-in/out/start-finish/other categories and derives each car's pit
// indicators. The pipeline sends both x2 passings and multiloop $L crossings
// through Process; it is not bypassed when a multiloop feed is present.
package pitloop

import (
	"context"

	"github.com/trackcore/timingcore/engine/models"
)

// LoopType classifies a physical track sensor.
type LoopType string

const (
	LoopPitIn         LoopType = "PitIn"
	LoopPitExit       LoopType = "PitExit"
	LoopPitStartFinish LoopType = "PitStartFinish"
	LoopPitOther      LoopType = "PitOther"
	LoopOther         LoopType = "Other"
)

// Store loads loop metadata for an event (the LoopsMetadata JSON column).
type Store interface {
	LoadLoopMetadata(ctx context.Context, eventID string) (map[string]LoopType, error)
}

type carState struct {
	inPit bool
}

// Processor keeps one in-pit flag per transponder, plus per-car pit stop
// counts and pit laps, and derives per-car pit patches on each passing. It
// does not keep separate per-category sets of transponders.
type Processor struct {
	store Store

	loopMeta map[string]LoopType
	states   map[string]*carState

	pitStopCount map[string]int
	lapsWithPit  map[string]int
}

// NewProcessor constructs a pit/loop processor backed by store.
func NewProcessor(store Store) *Processor {
	return &Processor{
		store:        store,
		loopMeta:     make(map[string]LoopType),
		states:       make(map[string]*carState),
		pitStopCount: make(map[string]int),
		lapsWithPit:  make(map[string]int),
	}
}

// ReloadLoopMetadata re-fetches loop metadata, called on
// EVENT_CONFIGURATION_CHANGED (data = eventId).
func (p *Processor) ReloadLoopMetadata(ctx context.Context, eventID string) error {
	meta, err := p.store.LoadLoopMetadata(ctx, eventID)
	if err != nil {
		return err
	}
	p.loopMeta = meta
	return nil
}

// Process classifies one passing for carNumber/transponderID against loopID
// and returns the resulting CarPositionPatch.
func (p *Processor) Process(carNumber, transponderID, loopID string, currentLap int) models.CarPositionPatch {
	loopType, ok := p.loopMeta[loopID]
	if !ok {
		loopType = LoopOther
	}

	st, ok := p.states[transponderID]
	if !ok {
		st = &carState{}
		p.states[transponderID] = st
	}
	wasInPit := st.inPit

	isInPit := wasInPit
	switch loopType {
	case LoopPitIn:
		isInPit = true
	case LoopPitExit:
		isInPit = false
	}
	st.inPit = isInPit

	entered := !wasInPit && isInPit
	exited := wasInPit && !isInPit
	isSF := loopType == LoopPitStartFinish

	if entered {
		p.pitStopCount[carNumber]++
		p.lapsWithPit[carNumber] = currentLap
	}

	count := p.pitStopCount[carNumber]
	name := string(loopType)

	return models.CarPositionPatch{
		Number:           carNumber,
		IsInPit:          &isInPit,
		IsEnteredPit:     &entered,
		IsExitedPit:      &exited,
		IsPitStartFinish: &isSF,
		LastLoopName:     &name,
		PitStopCount:     &count,
	}
}

// LapIncludesPit reports whether carNumber had a pit entry recorded during
// lapNumber, for the lap processor's lapIncludedPit flag.
func (p *Processor) LapIncludesPit(carNumber string, lapNumber int) bool {
	lap, ok := p.lapsWithPit[carNumber]
	return ok && lap == lapNumber
}
