package redis

import (
	"context"
	"log"
	"sync"

	"signal-enginev1/internal/model"
)

// LatestWriter is the part of Writer that BufferedWriter drives.
type LatestWriter interface {
	WriteLatest(ctx context.Context, r *model.IndicatorResult) error
	Close() error
}

// BufferedWriter wraps a LatestWriter with a circuit breaker. While the
// circuit is open (or a write fails) the latest result per symbol is kept
// locally and replayed once the circuit closes again. Only the newest result
// per symbol is kept, since each write replaces the cached value.
type BufferedWriter struct {
	writer LatestWriter
	cb     *CircuitBreaker
	ctx    context.Context

	mu      sync.Mutex
	pending map[string]model.IndicatorResult
	order   []string // insertion order for eviction
	maxBuf  int

	// Callbacks
	OnBuffer func()          // called when a write is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered writes
}

// NewBufferedWriter creates a BufferedWriter. ctx bounds replayed writes.
func NewBufferedWriter(ctx context.Context, w LatestWriter, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer:  w,
		cb:      cb,
		ctx:     ctx,
		pending: make(map[string]model.IndicatorResult),
		maxBuf:  maxBufferSize,
	}

	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to BreakerState) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.Flush()
		}
	}

	return bw
}

// Name identifies the sink in logs and metrics.
func (bw *BufferedWriter) Name() string { return "redis" }

// WriteResults writes the run's last result through the circuit breaker.
// A rejected write is buffered and reported as success; a failed write is
// buffered and its error returned.
func (bw *BufferedWriter) WriteResults(ctx context.Context, symbol string, results []model.IndicatorResult) error {
	if len(results) == 0 {
		return nil
	}
	last := results[len(results)-1]
	err := bw.cb.Execute(func() error {
		return bw.writer.WriteLatest(ctx, &last)
	})
	switch {
	case err == nil:
		return nil
	case err == ErrCircuitOpen:
		bw.buffer(last)
		return nil
	default:
		bw.buffer(last)
		return err
	}
}

func (bw *BufferedWriter) buffer(r model.IndicatorResult) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if prev, ok := bw.pending[r.Symbol]; ok {
		if r.TradeDate.Before(prev.TradeDate) {
			return
		}
	} else {
		if len(bw.order) >= bw.maxBuf {
			// Buffer full, drop oldest symbol
			delete(bw.pending, bw.order[0])
			bw.order = bw.order[1:]
		}
		bw.order = append(bw.order, r.Symbol)
	}
	bw.pending[r.Symbol] = r

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// Flush replays buffered results. Results that fail again stay buffered.
func (bw *BufferedWriter) Flush() {
	bw.mu.Lock()
	if len(bw.order) == 0 {
		bw.mu.Unlock()
		return
	}
	toFlush := make([]model.IndicatorResult, 0, len(bw.order))
	for _, sym := range bw.order {
		toFlush = append(toFlush, bw.pending[sym])
	}
	bw.pending = make(map[string]model.IndicatorResult)
	bw.order = nil
	bw.mu.Unlock()

	flushed := 0
	for i := range toFlush {
		r := toFlush[i]
		if err := bw.writer.WriteLatest(bw.ctx, &r); err != nil {
			log.Printf("[buffered-writer] replay %s failed: %v", r.Symbol, err)
			bw.buffer(r)
			continue
		}
		flushed++
	}

	log.Printf("[buffered-writer] flushed %d buffered writes", flushed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of symbols waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.order)
}

// Close makes a last flush attempt when the circuit is closed, then closes
// the underlying writer.
func (bw *BufferedWriter) Close() error {
	if bw.cb.CurrentState() == StateClosed {
		bw.Flush()
	}
	if n := bw.PendingCount(); n > 0 {
		log.Printf("[buffered-writer] dropping %d unflushed results on close", n)
	}
	return bw.writer.Close()
}
