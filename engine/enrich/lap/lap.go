// Package lap debounces per-car lap completions (RMonitor and Multiloop
// both report them), writes durable lap-log rows, and computes projected
// lap time / fastest-pace enrichment over a rolling window.
package lap

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/trackcore/timingcore/engine/models"
)

const defaultWindowSize = 5

// pit is the narrow collaborator the pit processor satisfies: whether a
// given car's given lap included a pit stop, for lapIncludedPit.
type pit interface {
	LapIncludesPit(carNumber string, lapNumber int) bool
}

type pendingLap struct {
	car   models.CarPosition
	flag  models.Flag
	timer *time.Timer
}

// Processor debounces lap completions per car and emits one CarLapLog row
// per committed lap via onCommit.
type Processor struct {
	mu sync.Mutex

	debounce   time.Duration
	windowSize int

	pending map[string]*pendingLap
	history map[string][]time.Duration

	pit      pit
	onCommit func(models.CarLapLogRow)
}

// NewProcessor constructs a lap processor. debounce is the (typically
// 150ms) coalescing window; windowSize bounds the rolling-average sample
// count.
func NewProcessor(debounce time.Duration, windowSize int, pitProcessor pit, onCommit func(models.CarLapLogRow)) *Processor {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	return &Processor{
		debounce:   debounce,
		windowSize: windowSize,
		pending:    make(map[string]*pendingLap),
		history:    make(map[string][]time.Duration),
		pit:        pitProcessor,
		onCommit:   onCommit,
	}
}

// Submit records a lap completion for car, superseding any lap already
// pending for the same car number, and (re)starts the debounce timer.
func (p *Processor) Submit(eventID, sessionID string, car models.CarPosition, flag models.Flag) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.pending[car.Number]; ok {
		existing.timer.Stop()
	}
	entry := &pendingLap{car: car, flag: flag}
	entry.timer = time.AfterFunc(p.debounce, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.commitLocked(eventID, sessionID, car.Number)
	})
	p.pending[car.Number] = entry
}

// Release immediately commits any lap pending for carNumber, bypassing the
// debounce window. Called when the pit processor's "late" pit-in arrives
// just after a lap completion, so the committed row reflects the pit flag.
func (p *Processor) Release(eventID, sessionID, carNumber string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.pending[carNumber]; ok {
		entry.timer.Stop()
	}
	p.commitLocked(eventID, sessionID, carNumber)
}

func (p *Processor) commitLocked(eventID, sessionID, carNumber string) {
	entry, ok := p.pending[carNumber]
	if !ok {
		return
	}
	delete(p.pending, carNumber)

	car := entry.car
	if p.pit != nil {
		car.LapIncludedPit = p.pit.LapIncludesPit(carNumber, car.LastLapCompleted)
	}
	car.ProjectedLapTime = p.projectedLapTime(carNumber, car.LastLapTime)

	row := models.CarLapLogRow{
		EventID:   eventID,
		SessionID: sessionID,
		CarNumber: carNumber,
		LapNumber: car.LastLapCompleted,
		Flag:      entry.flag,
		Timestamp: time.Now(),
		LapData:   car,
	}
	if p.onCommit != nil {
		p.onCommit(row)
	}
}

// projectedLapTime folds lastLapTime into the car's rolling window (sanity
// bounded to [1s, 20m] to reject obviously corrupt samples) and returns the
// window average formatted "m:ss.fff".
func (p *Processor) projectedLapTime(carNumber, lastLapTime string) string {
	d, err := parseLapTime(lastLapTime)
	if err == nil && d >= time.Second && d <= 20*time.Minute {
		hist := p.history[carNumber]
		hist = append(hist, d)
		if len(hist) > p.windowSize {
			hist = hist[len(hist)-p.windowSize:]
		}
		p.history[carNumber] = hist
	}
	hist := p.history[carNumber]
	if len(hist) == 0 {
		return ""
	}
	var total time.Duration
	for _, d := range hist {
		total += d
	}
	avg := total / time.Duration(len(hist))
	return formatLapTime(avg)
}

// FastestPace returns the car number with the lowest rolling average lap
// time among all cars tracked so far, for fastest-pace enrichment.
func (p *Processor) FastestPace() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var best string
	var bestAvg time.Duration
	found := false
	for car, hist := range p.history {
		if len(hist) == 0 {
			continue
		}
		var total time.Duration
		for _, d := range hist {
			total += d
		}
		avg := total / time.Duration(len(hist))
		if !found || avg < bestAvg {
			found = true
			best = car
			bestAvg = avg
		}
	}
	return best, found
}

// parseLapTime parses "H:MM:SS.fff", "MM:SS.fff" or "SS.fff" into a duration.
func parseLapTime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty lap time")
	}
	parts := strings.Split(s, ":")
	var hours, minutes int
	var seconds float64
	var err error
	switch len(parts) {
	case 3:
		if hours, err = strconv.Atoi(parts[0]); err != nil {
			return 0, err
		}
		if minutes, err = strconv.Atoi(parts[1]); err != nil {
			return 0, err
		}
		seconds, err = strconv.ParseFloat(parts[2], 64)
	case 2:
		if minutes, err = strconv.Atoi(parts[0]); err != nil {
			return 0, err
		}
		seconds, err = strconv.ParseFloat(parts[1], 64)
	case 1:
		seconds, err = strconv.ParseFloat(parts[0], 64)
	default:
		return 0, fmt.Errorf("invalid lap time %q", s)
	}
	if err != nil {
		return 0, err
	}
	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second)), nil
}

// formatLapTime renders a duration as "m:ss.fff".
func formatLapTime(d time.Duration) string {
	millis := d.Milliseconds()
	minutes := millis / 60000
	rem := millis % 60000
	return fmt.Sprintf("%d:%02d.%03d", minutes, rem/1000, rem%1000)
}
