package external

import (
	"testing"
	"time"

	"github.com/trackcore/timingcore/engine/cache"
)

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	mgr, err := cache.NewManager(cache.Config{Capacity: 100, DefaultTTL: time.Minute})
	if err != nil {
		t.Fatalf("new cache manager: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })
	return NewProcessor(mgr, time.Minute)
}

func TestApplyDriverCachesAndPatches(t *testing.T) {
	p := newTestProcessor(t)

	patch, err := p.ApplyDriver("evt1", "42", "TR1", "Jane Doe")
	if err != nil {
		t.Fatalf("apply driver: %v", err)
	}
	if patch.DriverName == nil || *patch.DriverName != "Jane Doe" {
		t.Fatalf("expected driver name patch, got %+v", patch)
	}

	byCar, ok := p.ReplayDriverByCar("evt1", "42")
	if !ok || byCar.DriverName != "Jane Doe" {
		t.Fatalf("expected cached driver info by car, got %+v (ok=%v)", byCar, ok)
	}
	byTrans, ok := p.ReplayDriverByTransponder("TR1")
	if !ok || byTrans.DriverName != "Jane Doe" {
		t.Fatalf("expected cached driver info by transponder, got %+v (ok=%v)", byTrans, ok)
	}
}

func TestApplyVideoNoOpWhenUnchanged(t *testing.T) {
	p := newTestProcessor(t)

	first, err := p.ApplyVideo("42", "evt1", "TR1", []string{"dest1"}, []string{"flagA"})
	if err != nil {
		t.Fatalf("apply video: %v", err)
	}
	if first.VideoDestinations == nil {
		t.Fatal("expected video patch on first apply")
	}

	second, err := p.ApplyVideo("42", "evt1", "TR1", []string{"dest1"}, []string{"flagA"})
	if err != nil {
		t.Fatalf("apply video: %v", err)
	}
	if second.VideoDestinations != nil || second.VideoFlags != nil {
		t.Fatalf("expected no-op patch when video info is unchanged, got %+v", second)
	}
}

func TestApplyVideoChangesOnDifferentPayload(t *testing.T) {
	p := newTestProcessor(t)

	_, _ = p.ApplyVideo("42", "evt1", "TR1", []string{"dest1"}, []string{"flagA"})
	changed, err := p.ApplyVideo("42", "evt1", "TR1", []string{"dest2"}, []string{"flagA"})
	if err != nil {
		t.Fatalf("apply video: %v", err)
	}
	if changed.VideoDestinations == nil || (*changed.VideoDestinations)[0] != "dest2" {
		t.Fatalf("expected updated video destinations patch, got %+v", changed)
	}
}
