package fanout

import (
	"context"
	"fmt"

	"github.com/trackcore/timingcore/engine/consolidate"
	"github.com/trackcore/timingcore/engine/models"
)

// EventGroup is the primary subscriber group for an event.
func EventGroup(eventID string) string { return fmt.Sprintf("evt%s-sub", eventID) }

// LegacyGroup is the legacy full-payload compatibility group, keyed bare by
// eventID.
func LegacyGroup(eventID string) string { return eventID }

// Payload is the legacy compatibility snapshot: only the car positions that
// changed in this batch, never the full roster.
type Payload struct {
	CarPositionUpdates []models.CarPositionPatch `json:"carPositionUpdates"`
}

// Aggregator pushes consolidated batches to the hub's subscriber groups.
type Aggregator struct {
	hub     *Hub
	eventID string
}

// NewAggregator constructs a status aggregator for eventID, publishing
// through hub.
func NewAggregator(hub *Hub, eventID string) *Aggregator {
	return &Aggregator{hub: hub, eventID: eventID}
}

// Publish sends session and car patches to the primary subscriber group,
// plus a legacy Payload snapshot to the bare-eventID compatibility group.
func (a *Aggregator) Publish(ctx context.Context, batch consolidate.Batch) {
	group := EventGroup(a.eventID)

	if !batch.Session.IsEmpty() {
		a.hub.Send(ctx, group, "ReceiveSessionPatch", batch.Session)
	}

	if len(batch.Order) > 0 {
		cars := make([]models.CarPositionPatch, 0, len(batch.Order))
		for _, number := range batch.Order {
			if patch, ok := batch.Cars[number]; ok {
				cars = append(cars, patch)
			}
		}
		a.hub.Send(ctx, group, "ReceiveCarPatches", cars)
		a.hub.Send(ctx, LegacyGroup(a.eventID), "ReceiveMessage", Payload{CarPositionUpdates: cars})
	}
}
