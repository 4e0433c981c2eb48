package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"sharkline/internal/logging"
	"sharkline/internal/metrics"
	"sharkline/internal/models"
)

// BatchWriter queues records from a live session and commits them to the
// store on a fixed interval, one transaction per flush.
type BatchWriter struct {
	store    *Store
	log      *zap.Logger
	metrics  *metrics.Metrics
	interval time.Duration

	mu      sync.Mutex
	pending []*models.PacketRecord

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewBatchWriter starts a writer flushing every interval. log and m may be nil.
func NewBatchWriter(s *Store, interval time.Duration, log *zap.Logger, m *metrics.Metrics) *BatchWriter {
	w := &BatchWriter{
		store:    s,
		log:      logging.OrNop(log),
		metrics:  m,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Add queues recs for the next flush.
func (w *BatchWriter) Add(recs ...*models.PacketRecord) {
	w.mu.Lock()
	w.pending = append(w.pending, recs...)
	w.mu.Unlock()
}

func (w *BatchWriter) run() {
	defer close(w.done)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			w.Flush(context.Background())
		case <-w.stop:
			w.Flush(context.Background())
			return
		}
	}
}

// Flush commits everything queued so far. A failed batch is rolled back,
// logged and dropped.
func (w *BatchWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	if err := w.store.InsertPackets(ctx, batch); err != nil {
		w.log.Error("dropping packet batch", zap.Int("records", len(batch)), zap.Error(err))
		return err
	}
	if w.metrics != nil {
		w.metrics.RecordsStored.Add(float64(len(batch)))
	}
	w.log.Debug("stored packet batch", zap.Int("records", len(batch)))
	return nil
}

// Close stops the flush loop after a final flush.
func (w *BatchWriter) Close() error {
	w.once.Do(func() { close(w.stop) })
	<-w.done
	return nil
}
