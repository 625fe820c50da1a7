package history

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultFlushInterval = 2 * time.Second
	DefaultBatchSize     = 20
)

type batchInserter interface {
	InsertBatch(ctx context.Context, entries []Entry) error
}

// Writer batches entries off the caller's goroutine. Write blocks when the
// buffer is full rather than dropping, so every outcome of a run is stored.
type Writer struct {
	repo          batchInserter
	log           logrus.FieldLogger
	ch            chan Entry
	stop          chan struct{}
	flushInterval time.Duration
	batchSize     int
	wg            sync.WaitGroup
	once          sync.Once
}

func NewWriter(repo batchInserter, log logrus.FieldLogger, flushInterval time.Duration, batchSize int) *Writer {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	w := &Writer{
		repo:          repo,
		log:           log,
		ch:            make(chan Entry, batchSize*4),
		stop:          make(chan struct{}),
		flushInterval: flushInterval,
		batchSize:     batchSize,
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *Writer) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, w.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.repo.InsertBatch(context.Background(), batch); err != nil {
			w.log.WithError(err).WithField("entries", len(batch)).Warn("history flush failed")
		}
		batch = batch[:0]
	}
	for {
		select {
		case e := <-w.ch:
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.stop:
			for {
				select {
				case e := <-w.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Write must not be called after Close.
func (w *Writer) Write(e Entry) {
	w.ch <- e
}

// Close flushes everything written so far and stops the writer.
func (w *Writer) Close() {
	w.once.Do(func() {
		close(w.stop)
		w.wg.Wait()
	})
}
