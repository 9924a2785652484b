// Package logger is the logger sink: a consumer-group reader that writes an
// EventStatusLog row for every field on the main event stream, plus
// type-specific x2pass/x2loop persistence, and a separate reader for the
// structured lap-batch stream.
package logger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/trackcore/timingcore/engine/models"
)

// Store is the persistence collaborator for the logger sink.
type Store interface {
	SaveEventStatusLog(ctx context.Context, row models.EventStatusLogRow) error
	UpsertX2Passing(ctx context.Context, p models.X2Passing) error
	ReplaceX2Loops(ctx context.Context, eventID string, loops []models.X2LoopRow) error
	SaveCarLapLog(ctx context.Context, row models.CarLapLogRow) error
	UpsertCarLastLap(ctx context.Context, row models.CarLastLap) error
}

// x2PassPayload is the decoded body of an x2pass message.
type x2PassPayload struct {
	TransponderID string `json:"transponderId"`
	LoopID        string `json:"loopId"`
}

// x2LoopPayload is the decoded body of an x2loop message: the full
// replacement set of per-loop rows for the event.
type x2LoopPayload struct {
	Loops []json.RawMessage `json:"loops"`
}

// Sink writes every field it sees to the audit log, plus type-specific
// upserts for x2pass/x2loop.
type Sink struct {
	store Store
}

// NewSink constructs a logger sink backed by store.
func NewSink(store Store) *Sink {
	return &Sink{store: store}
}

// HandleField processes one field read from the main event stream: it
// always appends an EventStatusLog row, and additionally upserts
// x2pass/x2loop rows when applicable.
func (s *Sink) HandleField(ctx context.Context, msg models.TimingMessage, at time.Time) error {
	if err := s.store.SaveEventStatusLog(ctx, models.EventStatusLogRow{
		Type:      msg.Type,
		EventID:   msg.EventID,
		SessionID: msg.SessionID,
		Timestamp: at,
		Data:      msg.Data,
	}); err != nil {
		return err
	}

	switch msg.Type {
	case models.MsgX2Pass:
		var payload x2PassPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return nil // malformed input: best-effort, already logged above
		}
		return s.store.UpsertX2Passing(ctx, models.X2Passing{
			EventID:       msg.EventID,
			TransponderID: payload.TransponderID,
			LoopID:        payload.LoopID,
			Timestamp:     at,
			RawData:       msg.Data,
		})
	case models.MsgX2Loop:
		var payload x2LoopPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return nil
		}
		loops := make([]models.X2LoopRow, 0, len(payload.Loops))
		for _, raw := range payload.Loops {
			loops = append(loops, models.X2LoopRow{EventID: msg.EventID, Data: raw})
		}
		return s.store.ReplaceX2Loops(ctx, msg.EventID, loops)
	default:
		return nil
	}
}

// HandleLapBatch processes one decoded batch from the `evt-proc-log-<eventId>`
// stream: each row is written to CarLapLogs and upserted into CarLastLaps.
func (s *Sink) HandleLapBatch(ctx context.Context, rows []models.CarLapLogRow) error {
	for _, row := range rows {
		if err := s.store.SaveCarLapLog(ctx, row); err != nil {
			return err
		}
		if err := s.store.UpsertCarLastLap(ctx, models.CarLastLap{
			EventID:   row.EventID,
			SessionID: row.SessionID,
			CarNumber: row.CarNumber,
			LapNumber: row.LapNumber,
			Timestamp: row.Timestamp,
			LapData:   row.LapData,
		}); err != nil {
			return err
		}
	}
	return nil
}
