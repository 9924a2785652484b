// Package external applies driver and video cross-references onto
// CarPosition, mirrors them to a short-TTL cache for replay to newly
// connected clients, and reports the fields that actually changed so the
// caller can fan them out on event-scoped stream fields.
package external

import (
	"fmt"
	"reflect"
	"time"

	"github.com/trackcore/timingcore/engine/cache"
	"github.com/trackcore/timingcore/engine/models"
)

// DriverInfo is the cached driver cross-reference payload.
type DriverInfo struct {
	DriverName string `json:"driverName"`
}

// VideoInfo is the cached video cross-reference payload.
type VideoInfo struct {
	Destinations []string `json:"destinations"`
	Flags        []string `json:"flags"`
}

// Processor applies driver/video enrichment and caches it for replay.
type Processor struct {
	cache *cache.Manager
	ttl   time.Duration
}

// NewProcessor constructs an external enricher backed by c, caching entries
// for ttl.
func NewProcessor(c *cache.Manager, ttl time.Duration) *Processor {
	return &Processor{cache: c, ttl: ttl}
}

func driverEventKey(eventID, carNumber string) string {
	return fmt.Sprintf("drevt%s-car%s", eventID, carNumber)
}

func driverTransponderKey(transponderID string) string {
	return fmt.Sprintf("drtrans%s", transponderID)
}

func videoKey(eventID, carNumber, transponderID string) string {
	return fmt.Sprintf("videoevt%s-car%s-trans%s", eventID, carNumber, transponderID)
}

// ApplyDriver caches the driver cross-reference under both the event+car key
// and the transponder key and returns the resulting patch. carNumber must
// already be resolved by the caller (via the session's transponder index
// when the event only names a transponder).
func (p *Processor) ApplyDriver(eventID, carNumber, transponderID, driverName string) (models.CarPositionPatch, error) {
	info := DriverInfo{DriverName: driverName}
	if err := p.cache.Set(driverEventKey(eventID, carNumber), info, p.ttl); err != nil {
		return models.CarPositionPatch{}, err
	}
	if transponderID != "" {
		if err := p.cache.Set(driverTransponderKey(transponderID), info, p.ttl); err != nil {
			return models.CarPositionPatch{}, err
		}
	}
	return models.CarPositionPatch{Number: carNumber, DriverName: &driverName}, nil
}

// ApplyVideo caches the video cross-reference and returns the resulting
// patch, or an empty patch if destinations/flags are unchanged from cache.
func (p *Processor) ApplyVideo(carNumber, eventID, transponderID string, destinations, flags []string) (models.CarPositionPatch, error) {
	key := videoKey(eventID, carNumber, transponderID)
	var existing VideoInfo
	found, _ := p.cache.Get(key, &existing)
	if found && reflect.DeepEqual(existing.Destinations, destinations) && reflect.DeepEqual(existing.Flags, flags) {
		return models.CarPositionPatch{Number: carNumber}, nil
	}
	info := VideoInfo{Destinations: destinations, Flags: flags}
	if err := p.cache.Set(key, info, p.ttl); err != nil {
		return models.CarPositionPatch{}, err
	}
	return models.CarPositionPatch{Number: carNumber, VideoDestinations: &destinations, VideoFlags: &flags}, nil
}

// ReplayDriverByCar returns the cached driver info for a car, for replay to
// newly connected clients via the fullstatus path.
func (p *Processor) ReplayDriverByCar(eventID, carNumber string) (DriverInfo, bool) {
	var info DriverInfo
	found, _ := p.cache.Get(driverEventKey(eventID, carNumber), &info)
	return info, found
}

// ReplayDriverByTransponder returns the cached driver info keyed by
// transponder, for events that only name the transponder.
func (p *Processor) ReplayDriverByTransponder(transponderID string) (DriverInfo, bool) {
	var info DriverInfo
	found, _ := p.cache.Get(driverTransponderKey(transponderID), &info)
	return info, found
}

// ReplayVideo returns the cached video info for a car/transponder pair.
func (p *Processor) ReplayVideo(eventID, carNumber, transponderID string) (VideoInfo, bool) {
	var info VideoInfo
	found, _ := p.cache.Get(videoKey(eventID, carNumber, transponderID), &info)
	return info, found
}
