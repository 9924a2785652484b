// Package multiloop parses the delimited multi-loop timing protocol:
// \x02-delimited records, each led by a header `op,recordType,sequence,preamble`
// followed by opcode-specific fields. Decoding does not set
// SessionState.IsMultiloopActive, and no code path in this module sets it,
// so that flag stays false while a multiloop feed is decoded.
package multiloop

import (
	"strconv"
	"strings"

	"github.com/trackcore/timingcore/engine/models"
)

const recordDelimiter = '\x02'

// RecordType distinguishes new/repeat/update records in the header.
type RecordType string

const (
	RecordNew    RecordType = "N"
	RecordRepeat RecordType = "R"
	RecordUpdate RecordType = "U"
)

// Header is common to every multiloop record.
type Header struct {
	Op         string
	RecordType RecordType
	Sequence   int64 // parsed from hex
	Preamble   string
}

// Update is the tagged-variant sum type emitted by Decode.
type Update interface{ isMultiloopUpdate() }

type HeartbeatUpdate struct {
	Header Header
}

type EntryUpdate struct {
	Header        Header
	Number        string
	TransponderID string
	Name          string
	Class         string
}

// CompletedLapUpdate corresponds to opcode $C: a completed lap, carrying
// pit/position info and signalling the car's accumulated section list
// should be cleared.
type CompletedLapUpdate struct {
	Header           Header
	Number           string
	LastLapCompleted int
	TotalTime        string
	OverallPosition  int
	IsInPit          bool
}

// SectionStateUpdate corresponds to opcode $S: a completed intermediate
// section crossing.
type SectionStateUpdate struct {
	Header  Header
	Number  string
	Section models.CompletedSection
}

// PitSfCrossingStateUpdate corresponds to opcode $L: a loop line crossing,
// classified by loopId (resolved against loop metadata by the pit/loop
// processor, not here).
type PitSfCrossingStateUpdate struct {
	Header        Header
	TransponderID string
	LoopID        string
	IsInPit       bool
}

type InvalidatedLapUpdate struct {
	Header Header
	Number string
}

type FlagMetricsStateUpdate struct {
	Header  Header
	Metrics models.FlagMetrics
}

type NewLeaderUpdate struct {
	Header Header
	Number string
}

// PracticeQualifyingStateUpdate corresponds to opcode $R.
type PracticeQualifyingStateUpdate struct {
	Header      Header
	SessionType string // P|Q|S|R
}

type TrackInfoUpdate struct {
	Header       Header
	SectionCount int
}

type AnnouncementUpdate struct {
	Header Header
	ID     string
	Text   string
}

type VersionUpdate struct {
	Header  Header
	Version string
}

func (HeartbeatUpdate) isMultiloopUpdate()              {}
func (EntryUpdate) isMultiloopUpdate()                  {}
func (CompletedLapUpdate) isMultiloopUpdate()           {}
func (SectionStateUpdate) isMultiloopUpdate()           {}
func (PitSfCrossingStateUpdate) isMultiloopUpdate()     {}
func (InvalidatedLapUpdate) isMultiloopUpdate()         {}
func (FlagMetricsStateUpdate) isMultiloopUpdate()       {}
func (NewLeaderUpdate) isMultiloopUpdate()              {}
func (PracticeQualifyingStateUpdate) isMultiloopUpdate() {}
func (TrackInfoUpdate) isMultiloopUpdate()              {}
func (AnnouncementUpdate) isMultiloopUpdate()           {}
func (VersionUpdate) isMultiloopUpdate()                {}

// Decoder tracks whether a flag-metrics/practice-qualifying record is
// "dirty" (changed since last emit), since $F/$R only fire their state
// update when the underlying value actually changed.
type Decoder struct {
	lastFlagMetrics    *models.FlagMetrics
	lastSessionType    string
}

// NewDecoder constructs an empty multiloop decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode parses every \x02-delimited record in data.
func (d *Decoder) Decode(data []byte) []Update {
	var updates []Update
	for _, record := range strings.Split(string(data), string(recordDelimiter)) {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		fields := strings.Split(record, ",")
		if len(fields) < 4 {
			continue
		}
		header, ok := parseHeader(fields[:4])
		if !ok {
			continue
		}
		body := fields[4:]

		update := d.decodeBody(header, body)
		if update != nil {
			updates = append(updates, update)
		}
	}
	return updates
}

func parseHeader(fields []string) (Header, bool) {
	op := strings.TrimSpace(fields[0])
	if op == "" {
		return Header{}, false
	}
	seq, _ := strconv.ParseInt(strings.TrimSpace(fields[2]), 16, 64)
	return Header{
		Op:         op,
		RecordType: RecordType(strings.TrimSpace(fields[1])),
		Sequence:   seq,
		Preamble:   strings.TrimSpace(fields[3]),
	}, true
}

func (d *Decoder) decodeBody(h Header, body []string) Update {
	switch h.Op {
	case "$H":
		return HeartbeatUpdate{Header: h}

	case "$E":
		if len(body) < 4 {
			return nil
		}
		return EntryUpdate{Header: h, Number: body[0], TransponderID: body[1], Name: body[2], Class: body[3]}

	case "$C":
		if len(body) < 4 {
			return nil
		}
		lap, _ := strconv.Atoi(body[1])
		pos, _ := strconv.Atoi(body[3])
		return CompletedLapUpdate{
			Header: h, Number: body[0], LastLapCompleted: lap, TotalTime: body[2],
			OverallPosition: pos, IsInPit: len(body) > 4 && body[4] == "1",
		}

	case "$S":
		if len(body) < 4 {
			return nil
		}
		lap, _ := strconv.Atoi(body[3])
		return SectionStateUpdate{
			Header: h, Number: body[0],
			Section: models.CompletedSection{ID: body[1], Elapsed: body[2], LastLap: lap},
		}

	case "$L":
		if len(body) < 2 {
			return nil
		}
		return PitSfCrossingStateUpdate{
			Header: h, TransponderID: body[0], LoopID: body[1],
			IsInPit: len(body) > 2 && body[2] == "1",
		}

	case "$I":
		if len(body) < 1 {
			return nil
		}
		return InvalidatedLapUpdate{Header: h, Number: body[0]}

	case "$F":
		metrics, ok := parseFlagMetrics(body)
		if !ok {
			return nil
		}
		if d.lastFlagMetrics != nil && *d.lastFlagMetrics == metrics {
			return nil
		}
		d.lastFlagMetrics = &metrics
		return FlagMetricsStateUpdate{Header: h, Metrics: metrics}

	case "$N":
		if len(body) < 1 {
			return nil
		}
		return NewLeaderUpdate{Header: h, Number: body[0]}

	case "$R":
		if len(body) < 1 {
			return nil
		}
		sessionType := body[0]
		if sessionType == d.lastSessionType {
			return nil
		}
		d.lastSessionType = sessionType
		return PracticeQualifyingStateUpdate{Header: h, SessionType: sessionType}

	case "$T":
		if len(body) < 1 {
			return nil
		}
		n, _ := strconv.Atoi(body[0])
		return TrackInfoUpdate{Header: h, SectionCount: n}

	case "$A":
		if len(body) < 2 {
			return nil
		}
		return AnnouncementUpdate{Header: h, ID: body[0], Text: body[1]}

	case "$V":
		if len(body) < 1 {
			return nil
		}
		return VersionUpdate{Header: h, Version: body[0]}

	default:
		return nil
	}
}

func parseFlagMetrics(body []string) (models.FlagMetrics, bool) {
	if len(body) < 6 {
		return models.FlagMetrics{}, false
	}
	var m models.FlagMetrics
	green, _ := strconv.Atoi(body[0])
	yellow, _ := strconv.Atoi(body[1])
	red, _ := strconv.Atoi(body[2])
	yellowCount, _ := strconv.Atoi(body[3])
	avgSpeed, _ := strconv.ParseFloat(body[4], 64)
	leadChanges, _ := strconv.Atoi(body[5])
	m.GreenLaps = green
	m.YellowLaps = yellow
	m.RedLaps = red
	m.YellowCount = yellowCount
	m.AverageRaceSpeed = avgSpeed
	m.LeadChanges = leadChanges
	return m, true
}
