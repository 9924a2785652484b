// Package store is the relational persistence layer: Postgres via pgx/v5,
// backing every store collaborator the domain packages depend on (flag
// durations, loop metadata, session results, lap logs, status logs, x2
// passings/loops). JSONB columns hold the structured payloads (broadcast,
// schedule, loops_metadata, session_state, lap_data, data, raw_data).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trackcore/timingcore/engine/enrich/pitloop"
	"github.com/trackcore/timingcore/engine/models"
)

// PostgresStore wraps a pgxpool connection pool and implements every
// store collaborator interface the domain packages depend on.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres using connString. No statement or write timeout
// is applied to the pool; StoreConfig.WriteTimeout is not used here.
func Open(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open connection pool: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() { s.pool.Close() }

// --- flag.Store ---

// LoadFlagDurations returns the persisted flag segments for a session.
func (s *PostgresStore) LoadFlagDurations(ctx context.Context, eventID, sessionID string) ([]models.FlagDuration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT flag, start_time, end_time FROM flag_log WHERE event_id = $1 AND session_id = $2 ORDER BY start_time`,
		eventID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load flag durations: %w", err)
	}
	defer rows.Close()

	var out []models.FlagDuration
	for rows.Next() {
		var d models.FlagDuration
		var flag string
		var end *time.Time
		if err := rows.Scan(&flag, &d.StartTime, &end); err != nil {
			return nil, fmt.Errorf("scan flag duration: %w", err)
		}
		d.Flag = models.Flag(flag)
		d.EndTime = end
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveFlagDurations replaces the stored flag segments for a session
// wholesale within one transaction.
func (s *PostgresStore) SaveFlagDurations(ctx context.Context, eventID, sessionID string, durations []models.FlagDuration) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM flag_log WHERE event_id = $1 AND session_id = $2`, eventID, sessionID); err != nil {
		return fmt.Errorf("clear flag durations: %w", err)
	}
	for _, d := range durations {
		if _, err := tx.Exec(ctx,
			`INSERT INTO flag_log (event_id, session_id, flag, start_time, end_time) VALUES ($1, $2, $3, $4, $5)`,
			eventID, sessionID, string(d.Flag), d.StartTime, d.EndTime); err != nil {
			return fmt.Errorf("insert flag duration: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// --- pitloop.Store ---

// LoadLoopMetadata loads the LoopsMetadata JSON column for an event and
// decodes it into a loop-id → LoopType table.
func (s *PostgresStore) LoadLoopMetadata(ctx context.Context, eventID string) (map[string]pitloop.LoopType, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT loops_metadata FROM events WHERE event_id = $1`, eventID).Scan(&raw)
	if err == pgx.ErrNoRows {
		return map[string]pitloop.LoopType{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load loop metadata: %w", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode loop metadata: %w", err)
	}
	out := make(map[string]pitloop.LoopType, len(decoded))
	for loopID, loopType := range decoded {
		out[loopID] = pitloop.LoopType(loopType)
	}
	return out, nil
}

// --- monitor.Store ---

// MarkSessionEnded flips isLive=false and sets endTime on a session.
func (s *PostgresStore) MarkSessionEnded(ctx context.Context, eventID, sessionID string, endTime time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET is_live = false, end_time = $3 WHERE event_id = $1 AND session_id = $2`,
		eventID, sessionID, endTime)
	if err != nil {
		return fmt.Errorf("mark session ended: %w", err)
	}
	return nil
}

// LoadLatestSessionResult returns the most recently written SessionResult
// for a session, if any.
func (s *PostgresStore) LoadLatestSessionResult(ctx context.Context, eventID, sessionID string) (models.SessionResult, bool, error) {
	var raw []byte
	var start time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT session_state, start_time FROM session_results WHERE event_id = $1 AND session_id = $2 ORDER BY start_time DESC LIMIT 1`,
		eventID, sessionID).Scan(&raw, &start)
	if err == pgx.ErrNoRows {
		return models.SessionResult{}, false, nil
	}
	if err != nil {
		return models.SessionResult{}, false, fmt.Errorf("load session result: %w", err)
	}
	var state models.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return models.SessionResult{}, false, fmt.Errorf("decode session result: %w", err)
	}
	return models.SessionResult{EventID: eventID, SessionID: sessionID, Start: start, SessionState: state}, true, nil
}

// SaveSessionResult upserts the SessionResult row for a session.
func (s *PostgresStore) SaveSessionResult(ctx context.Context, result models.SessionResult) error {
	data, err := json.Marshal(result.SessionState)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO session_results (event_id, session_id, start_time, session_state)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id, session_id) DO UPDATE SET start_time = EXCLUDED.start_time, session_state = EXCLUDED.session_state`,
		result.EventID, result.SessionID, result.Start, data)
	if err != nil {
		return fmt.Errorf("save session result: %w", err)
	}
	return nil
}

// TouchSessionLastUpdated is the debounced session heartbeat write (1.5s).
func (s *PostgresStore) TouchSessionLastUpdated(ctx context.Context, eventID, sessionID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET last_updated = $3 WHERE event_id = $1 AND session_id = $2`,
		eventID, sessionID, at)
	if err != nil {
		return fmt.Errorf("touch session last updated: %w", err)
	}
	return nil
}

// --- startingpos.Store ---

// LoadLapRange returns CarLapLog rows for laps [fromLap, toLap] inclusive.
func (s *PostgresStore) LoadLapRange(ctx context.Context, eventID, sessionID string, fromLap, toLap int) ([]models.CarLapLogRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, car_number, lap_number, flag, timestamp, lap_data
		 FROM car_lap_logs
		 WHERE event_id = $1 AND session_id = $2 AND lap_number BETWEEN $3 AND $4
		 ORDER BY lap_number`,
		eventID, sessionID, fromLap, toLap)
	if err != nil {
		return nil, fmt.Errorf("load lap range: %w", err)
	}
	defer rows.Close()

	var out []models.CarLapLogRow
	for rows.Next() {
		var r models.CarLapLogRow
		var flag string
		var raw []byte
		if err := rows.Scan(&r.ID, &r.CarNumber, &r.LapNumber, &flag, &r.Timestamp, &raw); err != nil {
			return nil, fmt.Errorf("scan lap row: %w", err)
		}
		r.EventID = eventID
		r.SessionID = sessionID
		r.Flag = models.Flag(flag)
		if err := json.Unmarshal(raw, &r.LapData); err != nil {
			return nil, fmt.Errorf("decode lap data: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- logger.Store ---

// SaveEventStatusLog appends one audit row for a stream field.
func (s *PostgresStore) SaveEventStatusLog(ctx context.Context, row models.EventStatusLogRow) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO event_status_logs (type, event_id, session_id, timestamp, data) VALUES ($1, $2, $3, $4, $5)`,
		row.Type, row.EventID, row.SessionID, row.Timestamp, row.Data)
	if err != nil {
		return fmt.Errorf("save event status log: %w", err)
	}
	return nil
}

// UpsertX2Passing records/updates one x2 passing.
func (s *PostgresStore) UpsertX2Passing(ctx context.Context, p models.X2Passing) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO x2_passings (event_id, transponder_id, loop_id, timestamp, raw_data)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (event_id, transponder_id, loop_id) DO UPDATE SET timestamp = EXCLUDED.timestamp, raw_data = EXCLUDED.raw_data`,
		p.EventID, p.TransponderID, p.LoopID, p.Timestamp, p.RawData)
	if err != nil {
		return fmt.Errorf("upsert x2 passing: %w", err)
	}
	return nil
}

// ReplaceX2Loops atomically replaces the per-loop diagnostic rows for an
// event within one transaction.
func (s *PostgresStore) ReplaceX2Loops(ctx context.Context, eventID string, loops []models.X2LoopRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM x2_loops WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("clear x2 loops: %w", err)
	}
	for _, loop := range loops {
		if _, err := tx.Exec(ctx, `INSERT INTO x2_loops (event_id, loop_id, data) VALUES ($1, $2, $3)`,
			eventID, loop.LoopID, loop.Data); err != nil {
			return fmt.Errorf("insert x2 loop: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// SaveCarLapLog appends one lap-completion record.
func (s *PostgresStore) SaveCarLapLog(ctx context.Context, row models.CarLapLogRow) error {
	data, err := json.Marshal(row.LapData)
	if err != nil {
		return fmt.Errorf("marshal lap data: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO car_lap_logs (event_id, session_id, car_number, lap_number, flag, timestamp, lap_data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		row.EventID, row.SessionID, row.CarNumber, row.LapNumber, string(row.Flag), row.Timestamp, data)
	if err != nil {
		return fmt.Errorf("save car lap log: %w", err)
	}
	return nil
}

// UpsertCarLastLap replaces a car's most-recent-lap projection row.
func (s *PostgresStore) UpsertCarLastLap(ctx context.Context, row models.CarLastLap) error {
	data, err := json.Marshal(row.LapData)
	if err != nil {
		return fmt.Errorf("marshal last lap data: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO car_last_laps (event_id, session_id, car_number, lap_number, timestamp, lap_data)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (event_id, session_id, car_number) DO UPDATE SET
		   lap_number = EXCLUDED.lap_number, timestamp = EXCLUDED.timestamp, lap_data = EXCLUDED.lap_data`,
		row.EventID, row.SessionID, row.CarNumber, row.LapNumber, row.Timestamp, data)
	if err != nil {
		return fmt.Errorf("upsert car last lap: %w", err)
	}
	return nil
}
