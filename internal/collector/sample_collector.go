package collector

import (
	"sync"
	"time"

	"repstream/workout-agent/internal/models"

	"go.uber.org/zap"
)

// SampleCollector collects raw sensor samples and batches them for the
// upload queue. Batches close on size or on the flush interval,
// whichever comes first.
type SampleCollector struct {
	samples       []models.Sample
	batchSize     int
	flushInterval time.Duration
	onBatchReady  func([]models.Sample)
	logger        *zap.Logger
	mu            sync.Mutex
	flushTicker   *time.Ticker
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

// NewSampleCollector creates a new sample collector
func NewSampleCollector(
	batchSize int,
	flushInterval time.Duration,
	logger *zap.Logger,
) *SampleCollector {
	return &SampleCollector{
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the collector with auto-flush
func (sc *SampleCollector) Start(onBatchReady func([]models.Sample)) {
	sc.onBatchReady = onBatchReady
	sc.flushTicker = time.NewTicker(sc.flushInterval)

	sc.wg.Add(1)
	go sc.autoFlushLoop()

	sc.logger.Info("Sample collector started",
		zap.Int("batch_size", sc.batchSize),
		zap.Duration("flush_interval", sc.flushInterval),
	)
}

// Stop stops the collector, flushing whatever is buffered
func (sc *SampleCollector) Stop() {
	sc.mu.Lock()
	select {
	case <-sc.stopChan:
		// Already closed
		sc.mu.Unlock()
		return
	default:
		close(sc.stopChan)
	}
	sc.mu.Unlock()

	sc.wg.Wait()
	if sc.flushTicker != nil {
		sc.flushTicker.Stop()
	}

	sc.Flush()
	sc.logger.Info("Sample collector stopped")
}

// AddSample buffers one sensor reading
func (sc *SampleCollector) AddSample(sample models.Sample) {
	sc.mu.Lock()
	sc.samples = append(sc.samples, sample)
	shouldFlush := len(sc.samples) >= sc.batchSize
	var batch []models.Sample
	if shouldFlush {
		batch = make([]models.Sample, len(sc.samples))
		copy(batch, sc.samples)
		sc.samples = sc.samples[:0]
	}
	sc.mu.Unlock()

	if shouldFlush {
		sc.logger.Debug("Batch size reached, flushing samples",
			zap.Int("count", len(batch)),
		)
		if sc.onBatchReady != nil {
			sc.onBatchReady(batch)
		}
	}
}

// Flush hands off all buffered samples immediately
func (sc *SampleCollector) Flush() {
	sc.mu.Lock()
	if len(sc.samples) == 0 {
		sc.mu.Unlock()
		return
	}
	batch := make([]models.Sample, len(sc.samples))
	copy(batch, sc.samples)
	sc.samples = sc.samples[:0]
	sc.mu.Unlock()

	sc.logger.Debug("Manual flush triggered",
		zap.Int("count", len(batch)),
	)
	if sc.onBatchReady != nil {
		sc.onBatchReady(batch)
	}
}

// PendingCount returns the number of buffered samples
func (sc *SampleCollector) PendingCount() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.samples)
}

func (sc *SampleCollector) autoFlushLoop() {
	defer sc.wg.Done()

	for {
		select {
		case <-sc.flushTicker.C:
			sc.Flush()
		case <-sc.stopChan:
			return
		}
	}
}
