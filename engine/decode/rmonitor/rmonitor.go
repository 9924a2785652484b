// Package rmonitor parses the legacy comma-separated, quoted ASCII timing
// protocol: records keyed by a leading `$TOKEN`, one token type per line.
// Malformed records are parsed best-effort and skipped rather than
// aborting the batch.
package rmonitor

import (
	"strconv"
	"strings"

	"github.com/trackcore/timingcore/engine/models"
)

// Update is the tagged-variant sum type emitted by Decode. Concrete types
// below stand in for record-specific subclasses without a class hierarchy.
type Update interface{ isRMonitorUpdate() }

// CompetitorStateUpdate rebuilds the roster from $A/$COMP/$C records
// accumulated so far this session.
type CompetitorStateUpdate struct {
	Entries  []models.EventEntry
	ClassMap map[string]string
}

// HeartbeatStateUpdate carries the $F flag/clock/countdown fields.
type HeartbeatStateUpdate struct {
	Flag            models.Flag
	LocalTimeOfDay  string
	LapsToGo        int
	TimeToGo        string
}

// CarLapStateUpdate carries a $G race-info line for one car.
type CarLapStateUpdate struct {
	Number           string
	OverallPosition  int
	LastLapCompleted int
	TotalTime        string
}

// SessionStateUpdated carries a $B event/run record.
type SessionStateUpdated struct {
	SessionID   string
	SessionName string
}

func (CompetitorStateUpdate) isRMonitorUpdate() {}
func (HeartbeatStateUpdate) isRMonitorUpdate()  {}
func (CarLapStateUpdate) isRMonitorUpdate()     {}
func (SessionStateUpdated) isRMonitorUpdate()   {}

// Decoder accumulates roster/class state across calls, since a single $A or
// $C line only ever describes one competitor or one class at a time but
// CompetitorStateUpdate must rebuild the entire roster.
type Decoder struct {
	classMap    map[string]string
	competitors map[string]models.EventEntry
	order       []string // preserves first-seen competitor ordering
}

// NewDecoder constructs an empty RMonitor decoder.
func NewDecoder() *Decoder {
	return &Decoder{
		classMap:    make(map[string]string),
		competitors: make(map[string]models.EventEntry),
	}
}

// Decode parses every line of data, returning zero or more Updates. A
// CompetitorStateUpdate is emitted once at the end if any $A/$COMP/$C lines
// were present, carrying the full rebuilt roster and class map.
func (d *Decoder) Decode(data []byte) []Update {
	var updates []Update
	rosterChanged := false

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		token, rest, ok := splitToken(line)
		if !ok {
			continue
		}
		fields := parseFields(rest)

		switch token {
		case "$A", "$COMP":
			if len(fields) < 2 {
				continue
			}
			number := fields[0]
			entry := models.EventEntry{Number: number, Name: fields[1]}
			if len(fields) > 2 {
				entry.Class = d.resolveClass(fields[2])
			}
			if token == "$COMP" && len(fields) > 3 {
				entry.Team = fields[3]
			}
			d.competitors[number] = entry
			if !containsStr(d.order, number) {
				d.order = append(d.order, number)
			}
			rosterChanged = true

		case "$C":
			if len(fields) < 2 {
				continue
			}
			d.classMap[fields[0]] = fields[1]
			rosterChanged = true

		case "$B":
			if len(fields) < 2 {
				continue
			}
			updates = append(updates, SessionStateUpdated{SessionID: fields[0], SessionName: fields[1]})

		case "$F":
			if len(fields) < 1 {
				continue
			}
			hb := HeartbeatStateUpdate{Flag: mapFlag(fields[0])}
			if len(fields) > 1 {
				hb.LocalTimeOfDay = fields[1]
			}
			if len(fields) > 2 {
				hb.LapsToGo, _ = strconv.Atoi(fields[2])
			}
			if len(fields) > 3 {
				hb.TimeToGo = fields[3]
			}
			updates = append(updates, hb)

		case "$G":
			if len(fields) < 4 {
				continue
			}
			upd := CarLapStateUpdate{Number: fields[0], TotalTime: fields[3]}
			upd.OverallPosition, _ = strconv.Atoi(fields[1])
			upd.LastLapCompleted, _ = strconv.Atoi(fields[2])
			updates = append(updates, upd)

		case "$H":
			// Practice/qualifying single-lap record; folded into the same
			// CarLapStateUpdate shape since downstream handling (apply to
			// CarPosition, mirror trackFlag) is identical.
			if len(fields) < 3 {
				continue
			}
			upd := CarLapStateUpdate{Number: fields[0], TotalTime: fields[2]}
			upd.LastLapCompleted, _ = strconv.Atoi(fields[1])
			updates = append(updates, upd)

		default:
			// Unknown token: ignored per spec.
		}
	}

	if rosterChanged {
		updates = append(updates, d.rosterSnapshot())
	}
	return updates
}

func (d *Decoder) resolveClass(classID string) string {
	if name, ok := d.classMap[classID]; ok {
		return name
	}
	return classID
}

func (d *Decoder) rosterSnapshot() CompetitorStateUpdate {
	entries := make([]models.EventEntry, 0, len(d.order))
	for _, number := range d.order {
		entries = append(entries, d.competitors[number])
	}
	classes := make(map[string]string, len(d.classMap))
	for k, v := range d.classMap {
		classes[k] = v
	}
	return CompetitorStateUpdate{Entries: entries, ClassMap: classes}
}

// mapFlag maps the single-letter RMonitor flag code to a Flag.
func mapFlag(code string) models.Flag {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "G":
		return models.FlagGreen
	case "Y":
		return models.FlagYellow
	case "R":
		return models.FlagRed
	case "W":
		return models.FlagWhite
	case "C":
		return models.FlagCheckered
	case "P":
		return models.FlagPurple35
	default:
		return models.FlagUnknown
	}
}

func splitToken(line string) (token, rest string, ok bool) {
	idx := strings.IndexByte(line, ',')
	if idx < 0 {
		return line, "", strings.HasPrefix(line, "$")
	}
	return line[:idx], line[idx+1:], strings.HasPrefix(line, "$")
}

// parseFields splits a comma-separated, double-quoted field list, stripping
// quotes. Unbalanced quotes degrade to a plain split (best-effort parse).
func parseFields(rest string) []string {
	var fields []string
	var buf strings.Builder
	inQuotes := false
	for i := 0; i < len(rest); i++ {
		ch := rest[i]
		switch {
		case ch == '"':
			inQuotes = !inQuotes
		case ch == ',' && !inQuotes:
			fields = append(fields, buf.String())
			buf.Reset()
		default:
			buf.WriteByte(ch)
		}
	}
	fields = append(fields, buf.String())
	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
	}
	return fields
}

func containsStr(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
