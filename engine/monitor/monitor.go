// Package monitor runs the per-event session state machine
// Idle → Live → Finishing → Finalized, reading SessionState only
// under the owner's read lock and never mutating it directly — state
// transitions are observed from the flag/lap stream and reported back as
// patches or store writes.
package monitor

import (
	"context"
	"time"

	"github.com/trackcore/timingcore/engine/models"
)

// State is one phase of the per-event session lifecycle.
type State string

const (
	StateIdle       State = "Idle"
	StateLive       State = "Live"
	StateFinishing  State = "Finishing"
	StateFinalized  State = "Finalized"
)

const finalizeIdleTimeout = 60 * time.Second

// Store is the persistence collaborator the monitor writes through.
type Store interface {
	MarkSessionEnded(ctx context.Context, eventID, sessionID string, endTime time.Time) error
	LoadLatestSessionResult(ctx context.Context, eventID, sessionID string) (models.SessionResult, bool, error)
	SaveSessionResult(ctx context.Context, result models.SessionResult) error
	TouchSessionLastUpdated(ctx context.Context, eventID, sessionID string, at time.Time) error
}

func isFinishingTrigger(from, to models.Flag) bool {
	if to != models.FlagCheckered {
		return false
	}
	switch from {
	case models.FlagWhite, models.FlagGreen, models.FlagYellow, models.FlagPurple35:
		return true
	default:
		return false
	}
}

// Monitor tracks the lifecycle of a single event/session pair.
type Monitor struct {
	eventID string
	store   Store

	state     State
	sessionID string
	prevFlag  models.Flag

	lapSnapshot      map[string]int
	lastLapIncrement time.Time
	prevRunningRace  string

	lastStoreWrite time.Time
	debounce       time.Duration
}

// NewMonitor constructs an Idle monitor for eventID.
func NewMonitor(eventID string, store Store) *Monitor {
	return &Monitor{
		eventID:  eventID,
		store:    store,
		state:    StateIdle,
		debounce: 1500 * time.Millisecond,
	}
}

// State reports the current lifecycle phase.
func (m *Monitor) State() State { return m.state }

// ObserveSessionChanged handles the `evtsessionchanged` transition
// Idle→Live.
func (m *Monitor) ObserveSessionChanged(sessionID string) {
	if m.state == StateIdle {
		m.state = StateLive
	}
	m.sessionID = sessionID
}

// ObserveFlag feeds a newly observed global flag. It drives Idle→Live (any
// non-Unknown flag for a known session) and Live→Finishing (a transition
// from {White,Green,Yellow,Purple35} into Checkered).
func (m *Monitor) ObserveFlag(sessionID string, flag models.Flag, snapshot models.SessionState) {
	if m.state == StateIdle && flag != models.FlagUnknown && sessionID != "" {
		m.state = StateLive
		m.sessionID = sessionID
	}
	if m.state == StateLive && isFinishingTrigger(m.prevFlag, flag) {
		m.enterFinishing(snapshot)
	}
	m.prevFlag = flag
}

func (m *Monitor) enterFinishing(snapshot models.SessionState) {
	m.state = StateFinishing
	m.lapSnapshot = make(map[string]int, len(snapshot.CarPositions))
	for number, car := range snapshot.CarPositions {
		m.lapSnapshot[number] = car.LastLapCompleted
	}
	m.lastLapIncrement = time.Now()
	m.prevRunningRace = snapshot.RunningRaceTime
}

// ObserveLapIncrement records that carNumber's lap count advanced, resetting
// the Finishing→Finalized idle clock.
func (m *Monitor) ObserveLapIncrement(carNumber string, lap int) {
	if m.state != StateFinishing {
		return
	}
	if prev, ok := m.lapSnapshot[carNumber]; !ok || lap > prev {
		m.lapSnapshot[carNumber] = lap
		m.lastLapIncrement = time.Now()
	}
}

// Tick evaluates the Finishing→Finalized conditions: the event wall clock
// stalling between ticks, or 60s elapsing since the last lap increment
// among the cars snapshotted on Finishing entry. now is supplied by the
// caller, while Finishing entry and lap increments are stamped with
// time.Now().
func (m *Monitor) Tick(ctx context.Context, now time.Time, snapshot models.SessionState) (bool, error) {
	if m.state != StateFinishing {
		return false, nil
	}
	wallClockStalled := snapshot.RunningRaceTime != "" && snapshot.RunningRaceTime == m.prevRunningRace
	m.prevRunningRace = snapshot.RunningRaceTime
	idleTooLong := now.Sub(m.lastLapIncrement) >= finalizeIdleTimeout

	if !wallClockStalled && !idleTooLong {
		return false, nil
	}
	return true, m.finalize(ctx, now, snapshot)
}

// ObserveShutdownSignal finalizes immediately if eventID matches this
// monitor's event (the `evt-shutdown-signal` broker channel).
func (m *Monitor) ObserveShutdownSignal(ctx context.Context, eventID string, now time.Time, snapshot models.SessionState) (bool, error) {
	if eventID != m.eventID || m.state == StateFinalized || m.state == StateIdle {
		return false, nil
	}
	return true, m.finalize(ctx, now, snapshot)
}

func (m *Monitor) finalize(ctx context.Context, now time.Time, snapshot models.SessionState) error {
	if err := m.store.MarkSessionEnded(ctx, m.eventID, m.sessionID, now); err != nil {
		return err
	}
	candidate := models.SessionResult{
		EventID:      m.eventID,
		SessionID:    m.sessionID,
		Start:        now,
		SessionState: snapshot,
	}
	prev, hasPrev, err := m.store.LoadLatestSessionResult(ctx, m.eventID, m.sessionID)
	if err != nil {
		return err
	}
	if hasPrev && !candidate.MoreCompleteThan(prev) {
		m.state = StateFinalized
		return nil
	}
	if err := m.store.SaveSessionResult(ctx, candidate); err != nil {
		return err
	}
	m.state = StateFinalized
	return nil
}

// MaybeTouchLastUpdated writes a "last updated" heartbeat to the store, but
// only if at least the debounce interval (1.5s) has elapsed since the prior
// write.
func (m *Monitor) MaybeTouchLastUpdated(ctx context.Context, now time.Time) error {
	if now.Sub(m.lastStoreWrite) < m.debounce {
		return nil
	}
	m.lastStoreWrite = now
	return m.store.TouchSessionLastUpdated(ctx, m.eventID, m.sessionID, now)
}
