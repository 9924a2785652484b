// Package session holds the one authoritative SessionContext per event
// process: the live SessionState, the previous snapshot, class metadata,
// the transponder↔car index, and the single reader/writer lock that
// every pipeline stage and background loop shares.
package session

import (
	"context"
	"strconv"
	"sync"

	"github.com/trackcore/timingcore/engine/models"
)

// Context is the process-wide authoritative state for one event.
type Context struct {
	mu sync.RWMutex

	eventID string

	state    *models.SessionState
	previous *models.SessionState

	classMeta map[string]string // classId -> className
	transponderIndex map[string]string // transponderId -> carNumber

	startingPositions models.StartingPositions

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a SessionContext for eventID; sessionID/sessionName seed the
// initial live session (typically the event's last known session on restart).
func New(parent context.Context, eventID, sessionID, sessionName string) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		eventID:          eventID,
		state:            models.NewSessionState(eventID, sessionID, sessionName),
		classMeta:        make(map[string]string),
		transponderIndex: make(map[string]string),
		startingPositions: models.NewStartingPositions(),
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Context returns the process-wide cancellation context; every awaitable
// broker/store/hub call in the pipeline threads this through.
func (c *Context) Context() context.Context { return c.ctx }

// Shutdown cancels the process-wide context, signalling every background
// loop and in-flight awaitable call to unwind.
func (c *Context) Shutdown() { c.cancel() }

// Snapshot returns a deep copy of the live session state for read-only use
// by background loops (session monitor, starting-position, logger sink).
func (c *Context) Snapshot() models.SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.state.Clone()
}

// EventID returns the event identity this context belongs to.
func (c *Context) EventID() string { return c.eventID }

// ApplySessionPatch merges p into the live session state under the write
// lock. It returns nothing; an empty patch is ignored.
func (c *Context) ApplySessionPatch(p models.SessionStatePatch) {
	if p.IsEmpty() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	models.ApplySessionPatch(c.state, p)
}

// ApplyCarPatch merges p into the named car, creating the car if absent.
func (c *Context) ApplyCarPatch(p models.CarPositionPatch) {
	if p.Number == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	car, ok := c.state.CarPositions[p.Number]
	if !ok {
		car = &models.CarPosition{Number: p.Number}
		c.state.CarPositions[p.Number] = car
		if p.TransponderID != nil {
			c.transponderIndex[*p.TransponderID] = p.Number
		}
	}
	models.ApplyCarPatch(car, p)
	if p.TransponderID != nil {
		c.transponderIndex[*p.TransponderID] = p.Number
	}
}

// GetCarByNumber returns a copy of the car's current state, if present.
func (c *Context) GetCarByNumber(number string) (models.CarPosition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	car, ok := c.state.CarPositions[number]
	if !ok {
		return models.CarPosition{}, false
	}
	return *car.Clone(), true
}

// GetCarNumberForTransponder resolves a transponder id to its current car.
func (c *Context) GetCarNumberForTransponder(transponderID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	number, ok := c.transponderIndex[transponderID]
	return number, ok
}

// SetStartingPosition records a car's starting position at most once; later
// calls for the same car are ignored.
func (c *Context) SetStartingPosition(carNumber string, overall, inClass int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.startingPositions.Overall[carNumber]; exists {
		return
	}
	c.startingPositions.Overall[carNumber] = overall
	c.startingPositions.InClass[carNumber] = inClass
	if car, ok := c.state.CarPositions[carNumber]; ok {
		car.OverallStartingPosition = overall
		car.InClassStartingPosition = inClass
	}
}

// HasStartingPositions reports whether any car in the live session has a
// recorded starting position yet.
func (c *Context) HasStartingPositions() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.startingPositions.Overall) > 0
}

// StartingPositions returns a copy of the current starting-position tables.
func (c *Context) StartingPositions() models.StartingPositions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := models.NewStartingPositions()
	for k, v := range c.startingPositions.Overall {
		out.Overall[k] = v
	}
	for k, v := range c.startingPositions.InClass {
		out.InClass[k] = v
	}
	return out
}

// NewSession snapshots the live state to previousSessionState and starts a
// fresh session, preserving the roster (eventEntries) and class metadata.
func (c *Context) NewSession(sessionID, sessionName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.state.Clone()
	c.previous = prev
	roster := c.state.EventEntries
	fresh := models.NewSessionState(c.eventID, sessionID, sessionName)
	fresh.EventEntries = roster
	c.state = fresh
	c.startingPositions = models.NewStartingPositions()
	c.transponderIndex = make(map[string]string)
}

// ResetCommand clears running data (cars, flags, clocks) but keeps the
// roster, event/session identity, and class metadata.
func (c *Context) ResetCommand() {
	c.mu.Lock()
	defer c.mu.Unlock()
	roster := c.state.EventEntries
	fresh := models.NewSessionState(c.eventID, c.state.SessionID, c.state.SessionName)
	fresh.EventEntries = roster
	c.state = fresh
	c.startingPositions = models.NewStartingPositions()
	c.transponderIndex = make(map[string]string)
}

// SetSessionClassMetadata replaces the class-id to class-name map used to
// resolve RMonitor $C records into eventEntries[*].class.
func (c *Context) SetSessionClassMetadata(classMap map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classMeta = classMap
}

// ClassName resolves a numeric class id to its configured name, falling
// back to the id itself when unknown.
func (c *Context) ClassName(classID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if name, ok := c.classMeta[classID]; ok {
		return name
	}
	return classID
}

// GetCurrentFlagAndLap returns the session's current flag and the minimum
// completed-lap count observed across all cars (used by the starting
// position processor's activation gate).
func (c *Context) GetCurrentFlagAndLap() (models.Flag, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lap := -1
	for _, car := range c.state.CarPositions {
		if lap == -1 || car.LastLapCompleted < lap {
			lap = car.LastLapCompleted
		}
	}
	if lap == -1 {
		lap = 0
	}
	return c.state.CurrentFlag, lap
}

// RebuildTransponderIndex recomputes the transponder→car index from the
// current roster of cars (called on roster change).
func (c *Context) RebuildTransponderIndex() {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := make(map[string]string, len(c.state.CarPositions))
	for number, car := range c.state.CarPositions {
		if car.TransponderID != "" {
			idx[car.TransponderID] = number
		}
	}
	c.transponderIndex = idx
}

// AllCars returns a deep copy of every car keyed by number, for enrichers
// that need to operate on a consistent snapshot.
func (c *Context) AllCars() map[string]*models.CarPosition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*models.CarPosition, len(c.state.CarPositions))
	for number, car := range c.state.CarPositions {
		out[number] = car.Clone()
	}
	return out
}

// ParseCarNumber is a small shared helper: non-numeric car numbers (e.g.
// "12A") are valid identities but sort after numeric ones when numeric
// comparison is required.
func ParseCarNumber(number string) (int, bool) {
	n, err := strconv.Atoi(number)
	if err != nil {
		return 0, false
	}
	return n, true
}
