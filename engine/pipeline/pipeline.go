// Package pipeline wires the staged, single-writer transform: stream
// ingress feeds the RMonitor/multiloop decoders, decoded updates
// are applied to the one SessionContext, enrichers run in sequence, and the
// resulting patches are merged by the consolidator and broadcast through the
// fan-out hub. Two independent background readers, plus the session
// monitor and starting-position loops, observe the same session under its
// read lock without participating in the write path.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/trackcore/timingcore/engine/broker"
	"github.com/trackcore/timingcore/engine/cache"
	"github.com/trackcore/timingcore/engine/config"
	"github.com/trackcore/timingcore/engine/consolidate"
	"github.com/trackcore/timingcore/engine/decode/multiloop"
	"github.com/trackcore/timingcore/engine/decode/rmonitor"
	"github.com/trackcore/timingcore/engine/enrich/controllog"
	"github.com/trackcore/timingcore/engine/enrich/external"
	"github.com/trackcore/timingcore/engine/enrich/flag"
	"github.com/trackcore/timingcore/engine/enrich/incar"
	"github.com/trackcore/timingcore/engine/enrich/lap"
	"github.com/trackcore/timingcore/engine/enrich/pitloop"
	"github.com/trackcore/timingcore/engine/enrich/position"
	"github.com/trackcore/timingcore/engine/fanout"
	"github.com/trackcore/timingcore/engine/ingress"
	"github.com/trackcore/timingcore/engine/logger"
	"github.com/trackcore/timingcore/engine/models"
	"github.com/trackcore/timingcore/engine/monitor"
	"github.com/trackcore/timingcore/engine/ratelimit"
	"github.com/trackcore/timingcore/engine/session"
	"github.com/trackcore/timingcore/engine/startingpos"
	"github.com/trackcore/timingcore/engine/telemetry/events"
	"github.com/trackcore/timingcore/engine/telemetry/logging"
)

// Deps collects the external collaborators one event process needs. Broker
// and Store are required; the rest are optional and degrade to no-ops when
// nil (ControlLog has no durable backing of its own; it proxies an external
// control-log source).
type Deps struct {
	Broker     *broker.Broker
	Store      StoreDeps
	Hub        *fanout.Hub
	Cache      *cache.Manager
	Limiter    ratelimit.RateLimiter
	ControlLog controllog.Loader
	Events     events.Bus
	Log        logging.Logger
}

// StoreDeps is the narrow slice of PostgresStore each stage depends on,
// expressed as interfaces so a pipeline can be assembled against fakes in
// tests without a live database.
type StoreDeps struct {
	Flag        flag.Store
	PitLoop     pitloop.Store
	Monitor     monitor.Store
	StartingPos startingpos.Store
	Logger      logger.Store
}

// Pipeline is one event's assembled processing chain.
type Pipeline struct {
	cfg    *config.UnifiedTimingConfig
	brk    *broker.Broker
	log    logging.Logger
	events events.Bus

	sess *session.Context

	ing          *ingress.Ingress
	rmonitorDec  *rmonitor.Decoder
	multiloopDec *multiloop.Decoder

	flagProc     *flag.Processor
	pitProc      *pitloop.Processor
	lapProc      *lap.Processor
	incarTrk     *incar.Tracker
	controlLog   *controllog.Processor
	externalProc *external.Processor

	storeDeps StoreDeps

	consolidator *consolidate.Consolidator
	hub          *fanout.Hub
	aggregator   *fanout.Aggregator

	mon        *monitor.Monitor
	loggerSink *logger.Sink

	ingressCtx    context.Context
	ingressCancel context.CancelFunc
	bgCtx         context.Context
	bgCancel      context.CancelFunc

	wg sync.WaitGroup
}

// New assembles a pipeline for one event, seeding the live session with
// sessionID/sessionName (typically the last known session on restart).
func New(parent context.Context, cfg *config.UnifiedTimingConfig, deps Deps, sessionID, sessionName string) *Pipeline {
	eventID := cfg.Pipeline.EventID
	sess := session.New(parent, eventID, sessionID, sessionName)

	ingressCtx, ingressCancel := context.WithCancel(parent)
	bgCtx, bgCancel := context.WithCancel(parent)

	p := &Pipeline{
		cfg:           cfg,
		brk:           deps.Broker,
		log:           deps.Log,
		events:        deps.Events,
		sess:          sess,
		rmonitorDec:   rmonitor.NewDecoder(),
		multiloopDec:  multiloop.NewDecoder(),
		flagProc:      flag.NewProcessor(deps.Store.Flag),
		pitProc:       pitloop.NewProcessor(deps.Store.PitLoop),
		incarTrk:      incar.NewTracker(),
		storeDeps:     deps.Store,
		hub:           deps.Hub,
		mon:           monitor.NewMonitor(eventID, deps.Store.Monitor),
		loggerSink:    logger.NewSink(deps.Store.Logger),
		ingressCtx:    ingressCtx,
		ingressCancel: ingressCancel,
		bgCtx:         bgCtx,
		bgCancel:      bgCancel,
	}
	if deps.ControlLog != nil {
		p.controlLog = controllog.NewProcessor(deps.ControlLog)
	}
	if deps.Cache != nil {
		p.externalProc = external.NewProcessor(deps.Cache, 10*time.Minute)
	}

	p.lapProc = lap.NewProcessor(cfg.Pipeline.LapDebounce, 5, p.pitProc, p.onLapCommitted)
	p.consolidator = consolidate.New(eventID, sessionID, cfg.Pipeline.ConsolidatorDebounce, p.onConsolidatedBatch)
	if p.hub != nil {
		p.aggregator = fanout.NewAggregator(p.hub, eventID)
	}

	consumer := fmt.Sprintf("evt-pipeline-%s", eventID)
	p.ing = ingress.New(deps.Broker, eventID, consumer, int64(cfg.Broker.BatchSize), cfg.Broker.ReadTimeout, cfg.Pipeline.BrokerBackoff, deps.Limiter, deps.Log, p.dispatch)
	return p
}

// Start launches ingestion and every background loop. Ingress runs against
// its own cancellable context so Shutdown can stop it independently of the
// background loops, ahead of the rest of the shutdown sequence.
func (p *Pipeline) Start(ctx context.Context) error {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.ing.Start(p.ingressCtx); err != nil {
			p.logError(ctx, "ingress stopped", err)
		}
	}()

	p.wg.Add(1)
	go p.runSessionMonitorLoop()

	p.wg.Add(1)
	go p.runStartingPositionLoop()

	if p.controlLog != nil {
		p.wg.Add(1)
		go p.runControlLogLoop()
	}

	if p.storeDeps.Logger != nil && p.brk != nil {
		p.wg.Add(1)
		go p.runLoggerFieldLoop()

		p.wg.Add(1)
		go p.runLapLogLoop()
	}
	return nil
}

// Shutdown cancels ingress first, drains the consolidator within a bounded
// grace period, then finalizes the current session.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.ingressCancel()

	done := make(chan struct{})
	go func() {
		p.consolidator.Flush()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.cfg.Pipeline.ShutdownGrace):
	}
	p.bgCancel()

	_, err := p.mon.ObserveShutdownSignal(ctx, p.cfg.Pipeline.EventID, time.Now(), p.sess.Snapshot())
	p.sess.Shutdown()
	p.wg.Wait()
	return err
}

// dispatch is the single entry point every decoded TimingMessage passes
// through: it is the ingress onMessage callback.
func (p *Pipeline) dispatch(msg models.TimingMessage) {
	ctx := p.bgCtx
	switch msg.Type {
	case models.MsgRMonitor:
		for _, u := range p.rmonitorDec.Decode(msg.Data) {
			p.applyRMonitorUpdate(ctx, msg.EventID, msg.SessionID, u)
		}
		p.runEnrichment(ctx, msg.EventID, msg.SessionID)

	case models.MsgMultiloop:
		for _, u := range p.multiloopDec.Decode(msg.Data) {
			p.applyMultiloopUpdate(ctx, msg.EventID, msg.SessionID, u)
		}
		p.runEnrichment(ctx, msg.EventID, msg.SessionID)

	case models.MsgFlags:
		p.applyFlagsMessage(ctx, msg)

	case models.MsgEvtSessionChanged:
		p.applySessionChanged(msg)

	case models.MsgEvtConfChanged:
		p.applyConfigChanged(ctx, msg)

	case models.MsgDriverEvent, models.MsgDriverTrans:
		p.applyDriverEvent(msg)

	case models.MsgVideo:
		p.applyVideoEvent(msg)

	case models.MsgX2Pass:
		p.applyX2Pass(msg)

	case models.MsgX2Loop, models.MsgRelayHeartbeat:
		// Audited by the logger field reader only; no live session effect.
	}
}

func (p *Pipeline) applyRMonitorUpdate(ctx context.Context, eventID, sessionID string, u rmonitor.Update) {
	switch v := u.(type) {
	case rmonitor.CompetitorStateUpdate:
		patch := models.SessionStatePatch{EventID: eventID, SessionID: sessionID, EventEntries: &v.Entries}
		p.sess.ApplySessionPatch(patch)
		p.sess.SetSessionClassMetadata(v.ClassMap)
		p.sess.RebuildTransponderIndex()
		p.consolidator.SubmitSession(patch)

	case rmonitor.HeartbeatStateUpdate:
		p.applyFlagTransition(ctx, eventID, sessionID, v.Flag, v.LocalTimeOfDay, v.TimeToGo, v.LapsToGo)

	case rmonitor.CarLapStateUpdate:
		p.applyCarLap(ctx, eventID, sessionID, v.Number, v.OverallPosition, v.LastLapCompleted, v.TotalTime)

	case rmonitor.SessionStateUpdated:
		p.applySessionIdentity(v.SessionID, v.SessionName)
	}
}

func (p *Pipeline) applyMultiloopUpdate(ctx context.Context, eventID, sessionID string, u multiloop.Update) {
	switch v := u.(type) {
	case multiloop.EntryUpdate:
		patch := models.CarPositionPatch{Number: v.Number, TransponderID: &v.TransponderID, DriverName: &v.Name, Class: &v.Class}
		p.sess.ApplyCarPatch(patch)
		p.consolidator.SubmitCar(patch)

	case multiloop.CompletedLapUpdate:
		p.applyCarLap(ctx, eventID, sessionID, v.Number, v.OverallPosition, v.LastLapCompleted, v.TotalTime)
		inPit := v.IsInPit
		patch := models.CarPositionPatch{Number: v.Number, IsInPit: &inPit}
		if car, ok := p.sess.GetCarByNumber(v.Number); ok && len(car.CompletedSections) > 0 {
			cleared := []models.CompletedSection{}
			patch.CompletedSections = &cleared
		}
		p.sess.ApplyCarPatch(patch)
		p.consolidator.SubmitCar(patch)

	case multiloop.SectionStateUpdate:
		car, ok := p.sess.GetCarByNumber(v.Number)
		if !ok {
			return
		}
		sections := append(append([]models.CompletedSection(nil), car.CompletedSections...), v.Section)
		patch := models.CarPositionPatch{Number: v.Number, CompletedSections: &sections}
		p.sess.ApplyCarPatch(patch)
		p.consolidator.SubmitCar(patch)

	case multiloop.PitSfCrossingStateUpdate:
		carNumber, ok := p.sess.GetCarNumberForTransponder(v.TransponderID)
		if !ok {
			return
		}
		_, lap := p.sess.GetCurrentFlagAndLap()
		patch := p.pitProc.Process(carNumber, v.TransponderID, v.LoopID, lap)
		p.sess.ApplyCarPatch(patch)
		p.consolidator.SubmitCar(patch)

	case multiloop.InvalidatedLapUpdate:
		p.lapProc.Release(eventID, sessionID, v.Number)

	case multiloop.FlagMetricsStateUpdate:
		patch := models.SessionStatePatch{EventID: eventID, SessionID: sessionID}
		patch.FlagMetrics = &v.Metrics
		p.sess.ApplySessionPatch(patch)
		p.consolidator.SubmitSession(patch)

	case multiloop.HeartbeatUpdate, multiloop.NewLeaderUpdate, multiloop.PracticeQualifyingStateUpdate,
		multiloop.TrackInfoUpdate, multiloop.AnnouncementUpdate, multiloop.VersionUpdate:
		// Informational records with no SessionState/CarPosition projection;
		// still observed by the logger's independent field reader.
	}
}

// applyFlagTransition opens/closes flag segments via the durable flag
// processor and mirrors the clock fields carried alongside it.
func (p *Pipeline) applyFlagTransition(ctx context.Context, eventID, sessionID string, f models.Flag, localTime, timeToGo string, lapsToGo int) {
	patch, err := p.flagProc.Apply(ctx, eventID, sessionID, []models.FlagDuration{{Flag: f, StartTime: time.Now()}})
	if err != nil {
		p.logError(ctx, "flag processor store failure", err)
		return
	}
	if localTime != "" {
		patch.LocalTimeOfDay = &localTime
	}
	if timeToGo != "" {
		patch.TimeToGo = &timeToGo
	}
	patch.LapsToGo = &lapsToGo
	p.sess.ApplySessionPatch(patch)
	p.consolidator.SubmitSession(patch)
	p.mon.ObserveFlag(sessionID, f, p.sess.Snapshot())
	p.publishEvent(ctx, events.CategoryPipeline, "flag_transition", "info", map[string]interface{}{"flag": string(f), "session_id": sessionID})
}

func (p *Pipeline) applyCarLap(ctx context.Context, eventID, sessionID, number string, overallPosition, lastLapCompleted int, totalTime string) {
	before, hadBefore := p.sess.GetCarByNumber(number)
	patch := models.CarPositionPatch{Number: number, OverallPosition: &overallPosition, LastLapCompleted: &lastLapCompleted, TotalTime: &totalTime}
	p.sess.ApplyCarPatch(patch)
	p.consolidator.SubmitCar(patch)

	flag, _ := p.sess.GetCurrentFlagAndLap()
	if position.ShouldInferStartingPosition(flag, lastLapCompleted) {
		if car, ok := p.sess.GetCarByNumber(number); ok {
			p.sess.SetStartingPosition(number, car.OverallPosition, car.ClassPosition)
		}
	}

	if !hadBefore || lastLapCompleted > before.LastLapCompleted {
		p.mon.ObserveLapIncrement(number, lastLapCompleted)
		if car, ok := p.sess.GetCarByNumber(number); ok {
			p.lapProc.Submit(eventID, sessionID, car, flag)
		}
	}
}

func (p *Pipeline) applySessionIdentity(sessionID, sessionName string) {
	current := p.sess.Snapshot()
	if sessionID != "" && sessionID != current.SessionID {
		p.sess.NewSession(sessionID, sessionName)
		p.mon.ObserveSessionChanged(sessionID)
		p.publishEvent(p.bgCtx, events.CategoryPipeline, "session_changed", "info", map[string]interface{}{"session_id": sessionID, "session_name": sessionName})
		return
	}
	patch := models.SessionStatePatch{EventID: current.EventID, SessionID: current.SessionID, SessionName: &sessionName}
	p.sess.ApplySessionPatch(patch)
	p.consolidator.SubmitSession(patch)
}

func (p *Pipeline) applySessionChanged(msg models.TimingMessage) {
	var wire struct {
		SessionID   string `json:"sessionId"`
		SessionName string `json:"sessionName"`
	}
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		return
	}
	p.sess.NewSession(wire.SessionID, wire.SessionName)
	p.mon.ObserveSessionChanged(wire.SessionID)
	p.publishEvent(p.bgCtx, events.CategoryPipeline, "session_changed", "info", map[string]interface{}{"session_id": wire.SessionID, "session_name": wire.SessionName})
}

func (p *Pipeline) applyConfigChanged(ctx context.Context, msg models.TimingMessage) {
	eventID := string(msg.Data)
	if eventID == "" {
		eventID = msg.EventID
	}
	if err := p.pitProc.ReloadLoopMetadata(ctx, eventID); err != nil {
		p.logError(ctx, "loop metadata reload failed", err)
	} else {
		p.publishEvent(ctx, events.CategoryConfig, "loop_metadata_reloaded", "info", map[string]interface{}{"event_id": eventID})
	}
	if p.controlLog != nil {
		if _, patches, err := p.controlLog.Reload(ctx, eventID); err == nil {
			for _, patch := range patches {
				p.sess.ApplyCarPatch(patch)
				p.consolidator.SubmitCar(patch)
			}
			p.publishEvent(ctx, events.CategoryConfig, "control_log_reloaded", "info", map[string]interface{}{"event_id": eventID, "changed_cars": len(patches)})
		} else {
			p.logError(ctx, "control log reload failed", err)
		}
	}
}

func (p *Pipeline) applyFlagsMessage(ctx context.Context, msg models.TimingMessage) {
	var wire struct {
		Flag      string     `json:"flag"`
		StartTime time.Time  `json:"startTime"`
		EndTime   *time.Time `json:"endTime,omitempty"`
	}
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		return
	}
	segment := models.FlagDuration{Flag: models.Flag(wire.Flag), StartTime: wire.StartTime, EndTime: wire.EndTime}
	patch, err := p.flagProc.Apply(ctx, msg.EventID, msg.SessionID, []models.FlagDuration{segment})
	if err != nil {
		p.logError(ctx, "flag processor store failure", err)
		return
	}
	p.sess.ApplySessionPatch(patch)
	p.consolidator.SubmitSession(patch)
	p.mon.ObserveFlag(msg.SessionID, segment.Flag, p.sess.Snapshot())
}

func (p *Pipeline) applyDriverEvent(msg models.TimingMessage) {
	if p.externalProc == nil {
		return
	}
	var wire struct {
		CarNumber     string `json:"carNumber"`
		TransponderID string `json:"transponderId"`
		DriverName    string `json:"driverName"`
	}
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		return
	}
	patch, err := p.externalProc.ApplyDriver(msg.EventID, wire.CarNumber, wire.TransponderID, wire.DriverName)
	if err != nil || patch.IsEmpty() {
		return
	}
	p.sess.ApplyCarPatch(patch)
	p.consolidator.SubmitCar(patch)
}

func (p *Pipeline) applyVideoEvent(msg models.TimingMessage) {
	if p.externalProc == nil {
		return
	}
	var wire struct {
		CarNumber     string   `json:"carNumber"`
		TransponderID string   `json:"transponderId"`
		Destinations  []string `json:"destinations"`
		Flags         []string `json:"flags"`
	}
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		return
	}
	patch, err := p.externalProc.ApplyVideo(wire.CarNumber, msg.EventID, wire.TransponderID, wire.Destinations, wire.Flags)
	if err != nil || patch.IsEmpty() {
		return
	}
	p.sess.ApplyCarPatch(patch)
	p.consolidator.SubmitCar(patch)
}

// applyX2Pass feeds x2pass passings into the pit/loop processor as a
// fallback classification path when multiloop's own $L stream is absent.
func (p *Pipeline) applyX2Pass(msg models.TimingMessage) {
	snapshot := p.sess.Snapshot()
	if snapshot.IsMultiloopActive {
		return
	}
	var wire struct {
		TransponderID string `json:"transponderId"`
		LoopID        string `json:"loopId"`
	}
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		return
	}
	carNumber, ok := p.sess.GetCarNumberForTransponder(wire.TransponderID)
	if !ok {
		return
	}
	_, lap := p.sess.GetCurrentFlagAndLap()
	patch := p.pitProc.Process(carNumber, wire.TransponderID, wire.LoopID, lap)
	p.sess.ApplyCarPatch(patch)
	p.consolidator.SubmitCar(patch)
}

// runEnrichment runs the position and in-car neighbour passes over the
// whole car set and submits whatever changed.
func (p *Pipeline) runEnrichment(ctx context.Context, eventID, sessionID string) {
	cars := p.sess.AllCars()
	flag, _ := p.sess.GetCurrentFlagAndLap()

	for _, patch := range position.Enrich(cars) {
		p.sess.ApplyCarPatch(patch)
		p.consolidator.SubmitCar(patch)
	}
	for _, patch := range p.incarTrk.Compute(p.sess.AllCars(), flag) {
		p.sess.ApplyCarPatch(patch)
		p.consolidator.SubmitCar(patch)
	}
}

// onLapCommitted is the lap processor's emit hook: the completed lap
// row is appended to the lap-log stream for the logger sink's independent
// reader, decoupling lap persistence from the live write path.
func (p *Pipeline) onLapCommitted(row models.CarLapLogRow) {
	if p.brk == nil {
		return
	}
	data, err := json.Marshal(row)
	if err != nil {
		return
	}
	_, _ = p.brk.XAdd(p.bgCtx, broker.LapLogStream(row.EventID), map[string]any{"row": string(data)})
}

// onConsolidatedBatch is the consolidator's debounce-window emit hook:
// broadcast to subscribers through the fan-out hub.
func (p *Pipeline) onConsolidatedBatch(batch consolidate.Batch) {
	if p.aggregator == nil {
		return
	}
	p.aggregator.Publish(p.bgCtx, batch)
}

func (p *Pipeline) runSessionMonitorLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.bgCtx.Done():
			return
		case now := <-ticker.C:
			snapshot := p.sess.Snapshot()
			if _, err := p.mon.Tick(p.bgCtx, now, snapshot); err != nil {
				p.logError(p.bgCtx, "session monitor tick failed", err)
			}
			if err := p.mon.MaybeTouchLastUpdated(p.bgCtx, now); err != nil {
				p.logError(p.bgCtx, "session heartbeat write failed", err)
			}
		}
	}
}

func (p *Pipeline) runStartingPositionLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Pipeline.StartingPositionPoll)
	defer ticker.Stop()
	for {
		select {
		case <-p.bgCtx.Done():
			return
		case <-ticker.C:
			if p.storeDeps.StartingPos == nil || p.sess.HasStartingPositions() {
				continue
			}
			flag, lap := p.sess.GetCurrentFlagAndLap()
			if !startingpos.IsActive(lap, flag) {
				continue
			}
			snapshot := p.sess.Snapshot()
			positions, ok, err := startingpos.Reload(p.bgCtx, p.storeDeps.StartingPos, snapshot.EventID, snapshot.SessionID)
			if err != nil {
				p.logError(p.bgCtx, "starting position reload failed", err)
				continue
			}
			if !ok {
				continue
			}
			for number, overall := range positions.Overall {
				p.sess.SetStartingPosition(number, overall, positions.InClass[number])
			}
		}
	}
}

func (p *Pipeline) runControlLogLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Pipeline.ControlLogPoll)
	defer ticker.Stop()
	for {
		select {
		case <-p.bgCtx.Done():
			return
		case <-ticker.C:
			if _, patches, err := p.controlLog.Reload(p.bgCtx, p.cfg.Pipeline.EventID); err == nil {
				for _, patch := range patches {
					p.sess.ApplyCarPatch(patch)
					p.consolidator.SubmitCar(patch)
				}
			} else {
				p.logError(p.bgCtx, "control log poll failed", err)
			}
		}
	}
}

// runLoggerFieldLoop is the logger sink's independent consumer group on the
// main event stream: every field, regardless of type, is written to the
// audit log under its own group so it never competes with the pipeline
// consumer's acknowledgements.
func (p *Pipeline) runLoggerFieldLoop() {
	defer p.wg.Done()
	stream := broker.EventStream(p.cfg.Pipeline.EventID)
	group := fmt.Sprintf("{%s}-%s", stream, broker.ConsumerGroupLogger)
	if err := p.brk.EnsureGroup(p.bgCtx, stream, group); err != nil {
		p.logError(p.bgCtx, "logger field reader group setup failed", err)
		return
	}
	for {
		select {
		case <-p.bgCtx.Done():
			return
		default:
		}
		fields, err := p.brk.ReadBatch(p.bgCtx, stream, group, "logger-field", 50, 2*time.Second)
		if err != nil {
			p.logError(p.bgCtx, "logger field read failed", err)
			time.Sleep(p.cfg.Pipeline.BrokerBackoff)
			continue
		}
		var ids []string
		for _, f := range fields {
			if msg, ok := parseLoggerField(f); ok {
				if err := p.loggerSink.HandleField(p.bgCtx, msg, time.Now()); err != nil {
					p.logError(p.bgCtx, "logger field handling failed", err)
				}
			}
			ids = append(ids, f.ID)
		}
		if len(ids) > 0 {
			_ = p.brk.Ack(p.bgCtx, stream, group, ids...)
		}
	}
}

// runLapLogLoop is the separate reader for the structured lap-batch stream.
func (p *Pipeline) runLapLogLoop() {
	defer p.wg.Done()
	stream := broker.LapLogStream(p.cfg.Pipeline.EventID)
	group := fmt.Sprintf("{%s}-%s", stream, broker.ConsumerGroupLogger)
	if err := p.brk.EnsureGroup(p.bgCtx, stream, group); err != nil {
		p.logError(p.bgCtx, "lap log reader group setup failed", err)
		return
	}
	for {
		select {
		case <-p.bgCtx.Done():
			return
		default:
		}
		fields, err := p.brk.ReadBatch(p.bgCtx, stream, group, "logger-lap", 50, 2*time.Second)
		if err != nil {
			p.logError(p.bgCtx, "lap log read failed", err)
			time.Sleep(p.cfg.Pipeline.BrokerBackoff)
			continue
		}
		var rows []models.CarLapLogRow
		var ids []string
		for _, f := range fields {
			var row models.CarLapLogRow
			if err := json.Unmarshal([]byte(f.Value), &row); err == nil {
				rows = append(rows, row)
			}
			ids = append(ids, f.ID)
		}
		if len(rows) > 0 {
			if err := p.loggerSink.HandleLapBatch(p.bgCtx, rows); err != nil {
				p.logError(p.bgCtx, "lap batch handling failed", err)
			}
		}
		if len(ids) > 0 {
			_ = p.brk.Ack(p.bgCtx, stream, group, ids...)
		}
	}
}

// parseLoggerField mirrors ingress's `<type>-<eventId>-<sessionId>` field
// name grammar for the logger's independent reader.
func parseLoggerField(f broker.Field) (models.TimingMessage, bool) {
	tokens := strings.Split(f.Name, "-")
	if len(tokens) < 3 {
		return models.TimingMessage{}, false
	}
	return models.TimingMessage{Type: tokens[0], Data: []byte(f.Value), EventID: tokens[1], SessionID: tokens[2]}, true
}

func (p *Pipeline) logError(ctx context.Context, msg string, err error) {
	if p.log != nil {
		p.log.ErrorCtx(ctx, msg, "error", err.Error())
	}
	p.publishEvent(ctx, events.CategoryError, msg, "error", map[string]interface{}{"error": err.Error()})
}

// publishEvent raises a stage-significant event on the telemetry bus.
// A nil bus (no Deps.Events configured) makes this a no-op.
func (p *Pipeline) publishEvent(ctx context.Context, category, eventType, severity string, fields map[string]interface{}) {
	if p.events == nil {
		return
	}
	_ = p.events.PublishCtx(ctx, events.Event{
		Category: category,
		Type:     eventType,
		Severity: severity,
		Labels:   map[string]string{"event_id": p.cfg.Pipeline.EventID},
		Fields:   fields,
	})
}
