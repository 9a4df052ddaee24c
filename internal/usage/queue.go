package usage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/nghyane/copilot-gateway/internal/logging"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	defaultRetentionDays = 30
	queueCapacity        = 1000
	cleanupEvery         = 24 * time.Hour
)

type batchWriter func(ctx context.Context, records []Record) error

type retentionCleaner func(ctx context.Context, before time.Time) (int64, error)

// writeQueue batches records for a backend: a write loop flushes on size or
// interval, a cleanup loop enforces retention daily.
type writeQueue struct {
	name          string
	records       chan Record
	batchSize     int
	flushInterval time.Duration
	retentionDays int
	write         batchWriter
	cleanup       retentionCleaner

	dropped  atomic.Int64
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newWriteQueue(name string, cfg BackendConfig, write batchWriter, cleanup retentionCleaner) *writeQueue {
	q := &writeQueue{
		name:          name,
		records:       make(chan Record, queueCapacity),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		retentionDays: cfg.RetentionDays,
		write:         write,
		cleanup:       cleanup,
		stopChan:      make(chan struct{}),
	}
	if q.batchSize <= 0 {
		q.batchSize = defaultBatchSize
	}
	if q.flushInterval <= 0 {
		q.flushInterval = defaultFlushInterval
	}
	if q.retentionDays <= 0 {
		q.retentionDays = defaultRetentionDays
	}
	return q
}

func (q *writeQueue) start() {
	q.wg.Add(2)
	go q.writeLoop()
	go q.cleanupLoop()
}

// stop drains the queue and waits for both loops.
func (q *writeQueue) stop() {
	q.stopOnce.Do(func() {
		close(q.stopChan)
		q.wg.Wait()
		if n := q.dropped.Load(); n > 0 {
			log.Warnf("%s usage: %d records dropped on a full queue", q.name, n)
		}
	})
}

func (q *writeQueue) enqueue(r Record) {
	select {
	case q.records <- r:
	default:
		if q.dropped.Add(1) == 1 {
			log.Warnf("%s usage: queue full, dropping records", q.name)
		}
	}
}

// flush writes whatever is queued right now.
func (q *writeQueue) flush(ctx context.Context) error {
	batch := make([]Record, 0, q.batchSize)
	for {
		select {
		case r := <-q.records:
			batch = append(batch, r)
			if len(batch) >= q.batchSize {
				if err := q.write(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		default:
			if len(batch) == 0 {
				return nil
			}
			return q.write(ctx, batch)
		}
	}
}

func (q *writeQueue) writeLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, q.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := q.write(ctx, batch); err != nil {
			log.Errorf("%s usage: write batch of %d: %v", q.name, len(batch), err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case r := <-q.records:
			batch = append(batch, r)
			if len(batch) >= q.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-q.stopChan:
			for {
				select {
				case r := <-q.records:
					batch = append(batch, r)
					if len(batch) >= q.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (q *writeQueue) cleanupLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.enforceRetention()
		case <-q.stopChan:
			return
		}
	}
}

func (q *writeQueue) enforceRetention() {
	cutoff := time.Now().UTC().AddDate(0, 0, -q.retentionDays)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := q.cleanup(ctx, cutoff)
	if err != nil {
		log.Errorf("%s usage: retention cleanup: %v", q.name, err)
		return
	}
	if n > 0 {
		log.Infof("%s usage: removed %d records older than %d days", q.name, n, q.retentionDays)
	}
}
