package startingpos

import (
	"context"
	"testing"

	"github.com/trackcore/timingcore/engine/models"
)

type fakeStore struct {
	rows []models.CarLapLogRow
}

func (f *fakeStore) LoadLapRange(ctx context.Context, eventID, sessionID string, fromLap, toLap int) ([]models.CarLapLogRow, error) {
	return f.rows, nil
}

func TestScenarioStartingPositionInference(t *testing.T) {
	rows := []models.CarLapLogRow{
		{CarNumber: "1", LapNumber: 2, Flag: models.FlagYellow, LapData: models.CarPosition{Number: "1", Class: "GT3", OverallPosition: 2}},
		{CarNumber: "2", LapNumber: 2, Flag: models.FlagYellow, LapData: models.CarPosition{Number: "2", Class: "GT4", OverallPosition: 1}},
		{CarNumber: "1", LapNumber: 3, Flag: models.FlagGreen, LapData: models.CarPosition{Number: "1", Class: "GT3", OverallPosition: 1}},
		{CarNumber: "2", LapNumber: 3, Flag: models.FlagGreen, LapData: models.CarPosition{Number: "2", Class: "GT4", OverallPosition: 2}},
	}

	positions, ok := Compute(rows)
	if !ok {
		t.Fatal("expected starting positions to be computed")
	}
	if positions.Overall["1"] != 2 || positions.Overall["2"] != 1 {
		t.Fatalf("expected starting positions from lap 2 (pre-green), got %+v", positions.Overall)
	}
	if positions.InClass["1"] != 1 {
		t.Fatalf("expected car 1 to be dense rank 1 within its own class, got %d", positions.InClass["1"])
	}
}

func TestComputeFailsWithoutPriorLap(t *testing.T) {
	rows := []models.CarLapLogRow{
		{CarNumber: "1", LapNumber: 0, Flag: models.FlagGreen, LapData: models.CarPosition{Number: "1", OverallPosition: 1}},
	}
	_, ok := Compute(rows)
	if ok {
		t.Fatal("expected no computation when the green lap has no predecessor in range")
	}
}

func TestIsActiveGate(t *testing.T) {
	if IsActive(3, models.FlagGreen) {
		t.Fatal("expected lap 3 (not > 3) to be inactive")
	}
	if !IsActive(4, models.FlagGreen) {
		t.Fatal("expected lap 4 under Green to be active")
	}
	if IsActive(4, models.FlagCheckered) {
		t.Fatal("expected Checkered to be inactive")
	}
}

func TestReloadUsesStore(t *testing.T) {
	store := &fakeStore{rows: []models.CarLapLogRow{
		{CarNumber: "1", LapNumber: 0, Flag: models.FlagYellow, LapData: models.CarPosition{Number: "1", OverallPosition: 1}},
		{CarNumber: "1", LapNumber: 1, Flag: models.FlagGreen, LapData: models.CarPosition{Number: "1", OverallPosition: 1}},
	}}
	positions, ok, err := Reload(context.Background(), store, "evt1", "sess1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !ok || positions.Overall["1"] != 1 {
		t.Fatalf("expected reload to compute starting positions, got %+v (ok=%v)", positions, ok)
	}
}
