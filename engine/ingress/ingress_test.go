package ingress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/trackcore/timingcore/engine/broker"
	"github.com/trackcore/timingcore/engine/models"
)

type fakeReader struct {
	mu          sync.Mutex
	batches     [][]broker.Field
	acked       []string
	groupCalls  int
	readErrOnce error
}

func (f *fakeReader) EnsureGroup(ctx context.Context, stream, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupCalls++
	return nil
}

func (f *fakeReader) ReadBatch(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]broker.Field, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErrOnce != nil {
		err := f.readErrOnce
		f.readErrOnce = nil
		return nil, err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeReader) Ack(ctx context.Context, stream, group string, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return nil
}

func TestParseFieldValidName(t *testing.T) {
	msg, ok := parseField(broker.Field{ID: "1-0", Name: "rmonitor-evt1-sess1", Value: "$A,..."})
	if !ok {
		t.Fatal("expected valid field name to parse")
	}
	if msg.Type != "rmonitor" || msg.EventID != "evt1" || msg.SessionID != "sess1" {
		t.Fatalf("unexpected parsed message: %+v", msg)
	}
}

func TestParseFieldMalformedName(t *testing.T) {
	_, ok := parseField(broker.Field{ID: "1-0", Name: "onlytwo-tokens", Value: "x"})
	if ok {
		t.Fatal("expected a field with fewer than 3 tokens to be rejected")
	}
}

func TestRunOnceDispatchesAndAcks(t *testing.T) {
	reader := &fakeReader{batches: [][]broker.Field{
		{{ID: "1-0", Name: "rmonitor-evt1-sess1", Value: "$A"}},
	}}
	var received []models.TimingMessage
	ing := New(reader, "evt1", "consumer1", 10, 0, time.Second, nil, nil, func(m models.TimingMessage) {
		received = append(received, m)
	})

	if err := ing.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if len(received) != 1 || received[0].Type != "rmonitor" {
		t.Fatalf("expected one dispatched message, got %+v", received)
	}
	if len(reader.acked) != 1 || reader.acked[0] != "1-0" {
		t.Fatalf("expected the message to be acked, got %+v", reader.acked)
	}
}

func TestRunOnceSkipsMalformedFieldButStillAcks(t *testing.T) {
	reader := &fakeReader{batches: [][]broker.Field{
		{{ID: "1-0", Name: "badname", Value: "x"}},
	}}
	var received []models.TimingMessage
	ing := New(reader, "evt1", "consumer1", 10, 0, time.Second, nil, nil, func(m models.TimingMessage) {
		received = append(received, m)
	})

	if err := ing.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if len(received) != 0 {
		t.Fatalf("expected malformed field to be skipped, got %+v", received)
	}
	if len(reader.acked) != 1 {
		t.Fatal("expected the malformed field to still be acked so it is not redelivered forever")
	}
}

func TestRunOncePropagatesReadError(t *testing.T) {
	reader := &fakeReader{readErrOnce: errors.New("transient broker error")}
	ing := New(reader, "evt1", "consumer1", 10, 0, time.Second, nil, nil, func(models.TimingMessage) {})

	if err := ing.runOnce(context.Background()); err == nil {
		t.Fatal("expected the transient read error to propagate")
	}
}

func TestStreamKeyUsesEventID(t *testing.T) {
	ing := New(&fakeReader{}, "evt1", "c1", 10, 0, time.Second, nil, nil, nil)
	if got := ing.Stream(); got != "evt-st-evt1" {
		t.Fatalf("unexpected stream key: %q", got)
	}
}
