package collector

import (
	"sync"
	"testing"
	"time"

	"repstream/workout-agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]models.Sample
}

func (r *batchRecorder) add(batch []models.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
}

func (r *batchRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func sampleAt(ts int64) models.Sample {
	return models.Sample{Timestamp: ts, AccelX: 0.1, AccelY: 0.2, AccelZ: 9.8}
}

func TestBatchClosesOnSize(t *testing.T) {
	rec := &batchRecorder{}
	sc := NewSampleCollector(3, time.Hour, zap.NewNop())
	sc.Start(rec.add)
	defer sc.Stop()

	for i := int64(1); i <= 3; i++ {
		sc.AddSample(sampleAt(i))
	}

	require.Equal(t, 1, rec.count())
	assert.Len(t, rec.batches[0], 3)
	assert.Equal(t, int64(1), rec.batches[0][0].Timestamp)
	assert.Equal(t, 0, sc.PendingCount())
}

func TestManualFlushDrainsBuffer(t *testing.T) {
	rec := &batchRecorder{}
	sc := NewSampleCollector(100, time.Hour, zap.NewNop())
	sc.Start(rec.add)
	defer sc.Stop()

	sc.AddSample(sampleAt(1))
	sc.AddSample(sampleAt(2))
	require.Equal(t, 0, rec.count())

	sc.Flush()
	require.Equal(t, 1, rec.count())
	assert.Len(t, rec.batches[0], 2)

	// nothing buffered, flush is a no-op
	sc.Flush()
	assert.Equal(t, 1, rec.count())
}

func TestStopFlushesRemainder(t *testing.T) {
	rec := &batchRecorder{}
	sc := NewSampleCollector(100, time.Hour, zap.NewNop())
	sc.Start(rec.add)

	sc.AddSample(sampleAt(1))
	sc.Stop()

	require.Equal(t, 1, rec.count())
	assert.Len(t, rec.batches[0], 1)
}

func TestIntervalFlush(t *testing.T) {
	rec := &batchRecorder{}
	sc := NewSampleCollector(100, 20*time.Millisecond, zap.NewNop())
	sc.Start(rec.add)
	defer sc.Stop()

	sc.AddSample(sampleAt(1))

	assert.Eventually(t, func() bool {
		return rec.count() == 1
	}, time.Second, 5*time.Millisecond)
}
