// Package consolidate implements the update consolidator: a debounce window
// whose length is passed to New (20ms in the default configuration), opened
// by the first patch to arrive, during which every
// further patch is merged field-last-wins into one accumulated batch. On
// timer fire the batch is emitted and identity-only car patches are dropped.
package consolidate

import (
	"sync"
	"time"

	"github.com/trackcore/timingcore/engine/models"
)

// Batch is one emitted, merged set of changes.
type Batch struct {
	Session models.SessionStatePatch
	// Cars holds the final merged patch per car number.
	Cars map[string]models.CarPositionPatch
	// Order preserves the order in which car numbers first appeared within
	// this batch, so downstream consumers can preserve arrival order.
	Order []string
}

// Consolidator accumulates patches across a debounce window and emits one
// Batch per window via onEmit.
type Consolidator struct {
	mu       sync.Mutex
	debounce time.Duration
	onEmit   func(Batch)

	eventID, sessionID string
	timer              *time.Timer
	pending            *Batch
}

// New constructs a consolidator. eventID/sessionID seed the identity of any
// emitted SessionStatePatch even if no session-level field changed within
// the window.
func New(eventID, sessionID string, debounce time.Duration, onEmit func(Batch)) *Consolidator {
	return &Consolidator{eventID: eventID, sessionID: sessionID, debounce: debounce, onEmit: onEmit}
}

// SubmitSession merges a session-level patch into the currently open batch,
// opening a new window if none is pending.
func (c *Consolidator) SubmitSession(p models.SessionStatePatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureOpenLocked()
	models.MergeSessionPatch(&c.pending.Session, p)
}

// SubmitCar merges a car-level patch into the currently open batch.
func (c *Consolidator) SubmitCar(p models.CarPositionPatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureOpenLocked()
	existing, ok := c.pending.Cars[p.Number]
	if !ok {
		c.pending.Cars[p.Number] = p
		c.pending.Order = append(c.pending.Order, p.Number)
		return
	}
	models.MergeCarPatch(&existing, p)
	c.pending.Cars[p.Number] = existing
}

func (c *Consolidator) ensureOpenLocked() {
	if c.pending != nil {
		return
	}
	c.pending = &Batch{
		Session: models.SessionStatePatch{EventID: c.eventID, SessionID: c.sessionID},
		Cars:    make(map[string]models.CarPositionPatch),
	}
	c.timer = time.AfterFunc(c.debounce, c.fire)
}

func (c *Consolidator) fire() {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()
	if batch == nil {
		return
	}
	c.emit(batch)
}

// Flush forces immediate emission of the currently open batch, bypassing
// the remaining debounce wait (used by the shutdown grace path).
func (c *Consolidator) Flush() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()
	if batch != nil {
		c.emit(batch)
	}
}

func (c *Consolidator) emit(batch *Batch) {
	ordered := make([]string, 0, len(batch.Order))
	for _, number := range batch.Order {
		patch, ok := batch.Cars[number]
		if !ok {
			continue
		}
		if patch.IsEmpty() {
			delete(batch.Cars, number)
			continue
		}
		ordered = append(ordered, number)
	}
	batch.Order = ordered
	if c.onEmit != nil {
		c.onEmit(*batch)
	}
}
