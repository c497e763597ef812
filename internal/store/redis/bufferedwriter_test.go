package redis

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"signal-enginev1/internal/model"
)

type fakeLatest struct {
	mu      sync.Mutex
	err     error
	written []string
	closed  bool
}

func (f *fakeLatest) WriteLatest(ctx context.Context, r *model.IndicatorResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.written = append(f.written, r.Symbol+"@"+r.DateString())
	return nil
}

func (f *fakeLatest) Close() error {
	f.closed = true
	return nil
}

func (f *fakeLatest) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeLatest) writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

func result(symbol string, day int) model.IndicatorResult {
	return model.IndicatorResult{Symbol: symbol, TradeDate: model.Date(2024, time.May, day)}
}

func TestBufferedWriter_WritesLastResult(t *testing.T) {
	fw := &fakeLatest{}
	bw := NewBufferedWriter(context.Background(), fw, NewCircuitBreaker(3, time.Second), 10)

	err := bw.WriteResults(context.Background(), "SBIN", []model.IndicatorResult{result("SBIN", 1), result("SBIN", 2)})
	if err != nil {
		t.Fatal(err)
	}
	if got := fw.writes(); !reflect.DeepEqual(got, []string{"SBIN@2024-05-02"}) {
		t.Errorf("writes=%v", got)
	}
	if bw.Name() != "redis" {
		t.Errorf("Name=%s", bw.Name())
	}
}

func TestBufferedWriter_BuffersWhileOpenAndFlushes(t *testing.T) {
	fw := &fakeLatest{err: errFail}
	cb := NewCircuitBreaker(1, 30*time.Millisecond)
	bw := NewBufferedWriter(context.Background(), fw, cb, 10)

	buffered := 0
	bw.OnBuffer = func() { buffered++ }
	flushed := make(chan int, 1)
	bw.OnFlush = func(n int) { flushed <- n }

	ctx := context.Background()
	if err := bw.WriteResults(ctx, "SBIN", []model.IndicatorResult{result("SBIN", 1)}); err != errFail {
		t.Fatalf("first failure should surface, got %v", err)
	}
	if cb.CurrentState() != StateOpen {
		t.Fatal("breaker should be open")
	}
	// open circuit: buffered silently, newer result replaces older
	if err := bw.WriteResults(ctx, "SBIN", []model.IndicatorResult{result("SBIN", 2)}); err != nil {
		t.Fatal(err)
	}
	if err := bw.WriteResults(ctx, "INFY", []model.IndicatorResult{result("INFY", 2)}); err != nil {
		t.Fatal(err)
	}
	if bw.PendingCount() != 2 || buffered != 3 {
		t.Fatalf("pending=%d buffered=%d", bw.PendingCount(), buffered)
	}

	fw.setErr(nil)
	time.Sleep(40 * time.Millisecond)
	// trial call succeeds and closes the circuit, which triggers a flush
	if err := bw.WriteResults(ctx, "TCS", []model.IndicatorResult{result("TCS", 3)}); err != nil {
		t.Fatal(err)
	}
	select {
	case n := <-flushed:
		if n != 2 {
			t.Errorf("flushed %d, want 2", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no flush after circuit closed")
	}

	got := fw.writes()
	want := map[string]bool{"TCS@2024-05-03": true, "SBIN@2024-05-02": true, "INFY@2024-05-02": true}
	if len(got) != 3 {
		t.Fatalf("writes=%v", got)
	}
	for _, w := range got {
		if !want[w] {
			t.Errorf("unexpected write %s", w)
		}
	}
	if bw.PendingCount() != 0 {
		t.Errorf("pending after flush: %d", bw.PendingCount())
	}
}

func TestBufferedWriter_EvictsOldestSymbol(t *testing.T) {
	fw := &fakeLatest{err: errFail}
	bw := NewBufferedWriter(context.Background(), fw, NewCircuitBreaker(100, time.Second), 2)
	ctx := context.Background()
	for _, s := range []string{"A", "B", "C"} {
		bw.WriteResults(ctx, s, []model.IndicatorResult{result(s, 1)})
	}
	if bw.PendingCount() != 2 {
		t.Fatalf("pending=%d", bw.PendingCount())
	}
	fw.setErr(nil)
	bw.Flush()
	if got := fw.writes(); !reflect.DeepEqual(got, []string{"B@2024-05-01", "C@2024-05-01"}) {
		t.Errorf("writes=%v", got)
	}
	if err := bw.Close(); err != nil || !fw.closed {
		t.Errorf("Close: %v closed=%v", err, fw.closed)
	}
}

func TestParseJob(t *testing.T) {
	cases := []struct {
		in   map[string]interface{}
		want []string
	}{
		{map[string]interface{}{"symbols": "sbin, INFY,,tcs "}, []string{"SBIN", "INFY", "TCS"}},
		{map[string]interface{}{"symbols": ""}, nil},
		{map[string]interface{}{}, nil},
	}
	for _, c := range cases {
		if got := parseJob(c.in); !reflect.DeepEqual(got, c.want) {
			t.Errorf("parseJob(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
