package consolidate

import (
	"sync"
	"testing"
	"time"

	"github.com/trackcore/timingcore/engine/models"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func TestMergesPatchesWithinWindow(t *testing.T) {
	var mu sync.Mutex
	var got Batch
	done := make(chan struct{})

	c := New("evt1", "sess1", 20*time.Millisecond, func(b Batch) {
		mu.Lock()
		got = b
		mu.Unlock()
		close(done)
	})

	c.SubmitCar(models.CarPositionPatch{Number: "42", TotalTime: strPtr("1:00.000")})
	c.SubmitCar(models.CarPositionPatch{Number: "42", LastLapCompleted: intPtr(5)})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batch emission")
	}

	mu.Lock()
	defer mu.Unlock()
	patch, ok := got.Cars["42"]
	if !ok {
		t.Fatal("expected car 42 in emitted batch")
	}
	if patch.TotalTime == nil || *patch.TotalTime != "1:00.000" {
		t.Fatalf("expected merged totalTime to survive, got %+v", patch)
	}
	if patch.LastLapCompleted == nil || *patch.LastLapCompleted != 5 {
		t.Fatalf("expected merged lastLapCompleted to survive, got %+v", patch)
	}
}

func TestLastWriterWinsPerField(t *testing.T) {
	done := make(chan Batch, 1)
	c := New("evt1", "sess1", 20*time.Millisecond, func(b Batch) { done <- b })

	c.SubmitCar(models.CarPositionPatch{Number: "42", TotalTime: strPtr("1:00.000")})
	c.SubmitCar(models.CarPositionPatch{Number: "42", TotalTime: strPtr("1:00.500")})

	b := <-done
	patch := b.Cars["42"]
	if patch.TotalTime == nil || *patch.TotalTime != "1:00.500" {
		t.Fatalf("expected the later value to win, got %+v", patch)
	}
}

func TestIdentityOnlyCarPatchesDropped(t *testing.T) {
	done := make(chan Batch, 1)
	c := New("evt1", "sess1", 20*time.Millisecond, func(b Batch) { done <- b })

	c.SubmitCar(models.CarPositionPatch{Number: "42"})

	b := <-done
	if _, ok := b.Cars["42"]; ok {
		t.Fatalf("expected identity-only patch to be dropped, got %+v", b.Cars)
	}
}

func TestFlushEmitsImmediately(t *testing.T) {
	done := make(chan Batch, 1)
	c := New("evt1", "sess1", time.Hour, func(b Batch) { done <- b })

	c.SubmitCar(models.CarPositionPatch{Number: "42", TotalTime: strPtr("1:00.000")})
	c.Flush()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Flush to emit without waiting for the debounce window")
	}
}
