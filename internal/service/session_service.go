package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"repstream/workout-agent/internal/collector"
	"repstream/workout-agent/internal/link"
	"repstream/workout-agent/internal/models"
	"repstream/workout-agent/internal/network"
	"repstream/workout-agent/internal/queue"
	"repstream/workout-agent/internal/session"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	reconnectInitialBackoff = time.Second
	reconnectMaxBackoff     = 30 * time.Second
)

// Uploader delivers queued jobs to the telemetry backend
type Uploader interface {
	UploadJob(ctx context.Context, job models.UploadJob) error
}

// SessionService keeps a recording session logically consistent while
// the sensor link and the network connection independently drop and
// recover. It owns the state machine and the link watcher, reacts to
// link and network events, and drains the upload queue whenever
// connectivity allows.
type SessionService struct {
	machine         *session.Machine
	watcher         *link.Watcher
	networkMonitor  *network.Monitor
	sampleCollector *collector.SampleCollector
	uploadQueue     *queue.UploadQueue
	uploader        Uploader
	logger          *zap.Logger

	resumeCountdown      time.Duration
	flushInterval        time.Duration
	reconnectMaxAttempts int

	mu           sync.Mutex
	sessionID    string
	setNumber    int
	batchSeq     int
	cancelReturn session.State
	resumeTimer  *time.Timer

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewSessionService creates the session service and its link watcher.
// connect is the reconnect primitive from the connection manager.
func NewSessionService(
	machine *session.Machine,
	networkMonitor *network.Monitor,
	sampleCollector *collector.SampleCollector,
	uploadQueue *queue.UploadQueue,
	uploader Uploader,
	connect link.ConnectFunc,
	device *link.Device,
	resumeCountdown time.Duration,
	flushInterval time.Duration,
	reconnectMaxAttempts int,
	logger *zap.Logger,
) *SessionService {
	s := &SessionService{
		machine:              machine,
		networkMonitor:       networkMonitor,
		sampleCollector:      sampleCollector,
		uploadQueue:          uploadQueue,
		uploader:             uploader,
		logger:               logger,
		resumeCountdown:      resumeCountdown,
		flushInterval:        flushInterval,
		reconnectMaxAttempts: reconnectMaxAttempts,
		stopChan:             make(chan struct{}),
	}

	s.watcher = link.NewWatcher(
		true,
		s.sessionInProgress,
		device,
		connect,
		s.onLinkDisconnect,
		s.onLinkReconnect,
		logger,
	)

	return s
}

// Watcher exposes the link watcher for the poller and the reconnect UI
func (s *SessionService) Watcher() *link.Watcher {
	return s.watcher
}

// Start begins the background components
func (s *SessionService) Start() error {
	s.logger.Info("Starting session service")

	s.networkMonitor.Start(s.onNetworkOnline, s.onNetworkOffline)
	s.sampleCollector.Start(s.onBatchReady)

	s.wg.Add(1)
	go s.flushLoop()

	s.logger.Info("Session service started")
	return nil
}

// Stop stops the background components
func (s *SessionService) Stop() {
	s.logger.Info("Stopping session service")

	s.mu.Lock()
	select {
	case <-s.stopChan:
		// Already stopped
		s.mu.Unlock()
		return
	default:
		close(s.stopChan)
	}
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
		s.resumeTimer = nil
	}
	s.mu.Unlock()

	s.sampleCollector.Stop()
	s.networkMonitor.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.logger.Warn("Some goroutines did not stop within timeout")
	}

	s.logger.Info("Session service stopped")
}

// StartSession begins a new recording session and returns its ID
func (s *SessionService) StartSession() (string, error) {
	s.mu.Lock()
	if s.sessionID != "" {
		id := s.sessionID
		s.mu.Unlock()
		return "", fmt.Errorf("session %s already in progress", id)
	}
	sessionID := uuid.New().String()
	s.sessionID = sessionID
	s.setNumber = 1
	s.batchSeq = 0
	s.mu.Unlock()

	target := session.StateActive
	if !s.networkMonitor.IsOnline() {
		target = session.StateActiveOffline
	}

	if !s.machine.Transition(target) {
		s.mu.Lock()
		s.sessionID = ""
		s.mu.Unlock()
		return "", fmt.Errorf("cannot start session from state %s", s.machine.Current())
	}

	s.logger.Info("Session started",
		zap.String("session_id", sessionID),
		zap.String("state", string(target)),
	)

	return sessionID, nil
}

// RecordRep queues a rep record for the current set
func (s *SessionService) RecordRep(payload json.RawMessage) (string, error) {
	s.mu.Lock()
	sessionID := s.sessionID
	setNumber := s.setNumber
	s.mu.Unlock()

	if sessionID == "" {
		return "", fmt.Errorf("no session in progress")
	}
	if !s.recording() {
		return "", fmt.Errorf("session is not recording (state %s)", s.machine.Current())
	}

	return s.uploadQueue.Enqueue(sessionID, models.JobTypeRep, setNumber, payload)
}

// CompleteSet queues the set completion record and advances the set
// counter
func (s *SessionService) CompleteSet(payload json.RawMessage) (string, error) {
	s.mu.Lock()
	sessionID := s.sessionID
	setNumber := s.setNumber
	s.mu.Unlock()

	if sessionID == "" {
		return "", fmt.Errorf("no session in progress")
	}
	if !s.recording() {
		return "", fmt.Errorf("session is not recording (state %s)", s.machine.Current())
	}

	jobID, err := s.uploadQueue.Enqueue(sessionID, models.JobTypeSet, setNumber, payload)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.setNumber++
	s.mu.Unlock()

	return jobID, nil
}

// CompleteSession queues the final session record and ends the session.
// With the network up the session closes out immediately; otherwise it
// is held in WaitingForInternet until connectivity returns.
func (s *SessionService) CompleteSession(payload json.RawMessage) error {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	if sessionID == "" {
		return fmt.Errorf("no session in progress")
	}

	s.sampleCollector.Flush()

	if _, err := s.uploadQueue.Enqueue(sessionID, models.JobTypeSessionComplete, models.SetNumberFinal, payload); err != nil {
		return err
	}

	if s.networkMonitor.IsOnline() {
		if !s.machine.Transition(session.StateIdle) {
			return fmt.Errorf("cannot complete session from state %s", s.machine.Current())
		}
		s.endSession()
		s.flushAsync()
		return nil
	}

	if !s.machine.Transition(session.StateWaitingForInternet) {
		return fmt.Errorf("cannot complete session from state %s", s.machine.Current())
	}

	s.logger.Info("Session complete, waiting for network",
		zap.String("session_id", sessionID),
	)
	return nil
}

// RequestCancel opens the discard-or-keep decision, remembering where
// to return if the user keeps the session
func (s *SessionService) RequestCancel() bool {
	from := s.machine.Current()
	if !s.machine.Transition(session.StateCancelConfirm) {
		return false
	}

	s.mu.Lock()
	s.cancelReturn = from
	s.mu.Unlock()
	return true
}

// ConfirmCancel discards the session and all of its queued jobs
func (s *SessionService) ConfirmCancel() error {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	if !s.machine.Transition(session.StateIdle) {
		return fmt.Errorf("cannot cancel from state %s", s.machine.Current())
	}

	s.endSession()

	if sessionID != "" {
		if err := s.uploadQueue.ClearSession(sessionID); err != nil {
			return err
		}
	}

	s.logger.Info("Session cancelled", zap.String("session_id", sessionID))
	return nil
}

// DismissCancel keeps the session, returning to the state the cancel
// prompt interrupted
func (s *SessionService) DismissCancel() bool {
	s.mu.Lock()
	back := s.cancelReturn
	s.mu.Unlock()

	if back == "" {
		back = session.StateIdle
	}
	return s.machine.Transition(back)
}

// RecordSample feeds one sensor reading into the batcher. Samples are
// dropped while the session output is frozen.
func (s *SessionService) RecordSample(sample models.Sample) {
	if !s.recording() {
		return
	}
	s.sampleCollector.AddSample(sample)
}

// AttemptReconnect makes one manual reconnect attempt, for the retry
// affordance after automatic attempts are exhausted
func (s *SessionService) AttemptReconnect(ctx context.Context) bool {
	return s.watcher.AttemptReconnect(ctx)
}

// Status returns a snapshot for the status endpoint
func (s *SessionService) Status() map[string]interface{} {
	s.mu.Lock()
	sessionID := s.sessionID
	setNumber := s.setNumber
	s.mu.Unlock()

	pendingJobs, _ := s.uploadQueue.PendingCount()

	return map[string]interface{}{
		"session_id":       sessionID,
		"set_number":       setNumber,
		"state":            string(s.machine.Current()),
		"previous_state":   string(s.machine.Previous()),
		"network_online":   s.networkMonitor.IsOnline(),
		"link_connected":   s.watcher.IsConnected(),
		"reconnecting":     s.watcher.IsReconnecting(),
		"reconnect_failed": s.watcher.ReconnectFailed(),
		"pending_jobs":     pendingJobs,
		"buffered_samples": s.sampleCollector.PendingCount(),
	}
}

// sessionInProgress tells the watcher whether a link drop matters
func (s *SessionService) sessionInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID != ""
}

// recording reports whether telemetry should flow right now
func (s *SessionService) recording() bool {
	return s.machine.Is(session.StateActive) || s.machine.Is(session.StateActiveOffline)
}

func (s *SessionService) endSession() {
	s.mu.Lock()
	s.sessionID = ""
	s.setNumber = 0
	s.batchSeq = 0
	s.cancelReturn = ""
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
		s.resumeTimer = nil
	}
	s.mu.Unlock()
}

// onLinkDisconnect freezes the session and starts the automatic
// reconnect loop
func (s *SessionService) onLinkDisconnect() {
	if !s.machine.Transition(session.StateLinkDisconnectedPaused) {
		return
	}

	s.mu.Lock()
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
		s.resumeTimer = nil
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.reconnectLoop()
}

// reconnectLoop retries the reconnect primitive with exponential
// backoff up to the configured ceiling. On exhaustion the session stays
// paused and the manual retry affordance takes over.
func (s *SessionService) reconnectLoop() {
	defer s.wg.Done()

	backoff := reconnectInitialBackoff
	for attempt := 1; attempt <= s.reconnectMaxAttempts; attempt++ {
		if !s.machine.Is(session.StateLinkDisconnectedPaused) {
			return
		}
		if s.watcher.IsConnected() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), reconnectMaxBackoff)
		ok := s.watcher.AttemptReconnect(ctx)
		cancel()
		if ok {
			// The connectivity path fires onReconnect once the
			// manager reports the link back up.
			return
		}

		s.logger.Warn("Automatic reconnect attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.reconnectMaxAttempts),
		)

		select {
		case <-time.After(backoff):
		case <-s.stopChan:
			return
		}

		backoff *= 2
		if backoff > reconnectMaxBackoff {
			backoff = reconnectMaxBackoff
		}
	}

	s.logger.Warn("Automatic reconnect attempts exhausted, waiting for manual retry")
}

// onLinkReconnect runs the settling countdown before resuming
func (s *SessionService) onLinkReconnect() {
	if !s.machine.Transition(session.StateResumingCountdown) {
		return
	}

	s.mu.Lock()
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
	}
	s.resumeTimer = time.AfterFunc(s.resumeCountdown, s.finishResume)
	s.mu.Unlock()

	s.logger.Info("Link restored, resuming after countdown",
		zap.Duration("countdown", s.resumeCountdown),
	)
}

func (s *SessionService) finishResume() {
	if !s.machine.Is(session.StateResumingCountdown) {
		return
	}

	target := session.StateActive
	if !s.networkMonitor.IsOnline() {
		target = session.StateActiveOffline
	}

	if s.machine.Transition(target) {
		s.flushAsync()
	}
}

// onNetworkOnline resumes uploads and resolves any held states
func (s *SessionService) onNetworkOnline() {
	switch {
	case s.machine.Is(session.StateActiveOffline):
		s.machine.Transition(session.StateActive)
	case s.machine.Is(session.StateWaitingForInternet):
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			res, err := s.uploadQueue.Flush(context.Background(), s.uploader.UploadJob)
			if err != nil {
				s.logger.Error("Flush after network return failed", zap.Error(err))
				return
			}
			if res.Failed == 0 && s.machine.Transition(session.StateIdle) {
				s.endSession()
			}
		}()
		return
	}

	s.flushAsync()
}

// onNetworkOffline keeps recording locally
func (s *SessionService) onNetworkOffline() {
	if s.machine.Is(session.StateActive) {
		s.machine.Transition(session.StateActiveOffline)
	}
}

// onBatchReady queues one batch of sensor samples
func (s *SessionService) onBatchReady(samples []models.Sample) {
	if len(samples) == 0 {
		return
	}

	s.mu.Lock()
	sessionID := s.sessionID
	seq := s.batchSeq
	s.batchSeq++
	s.mu.Unlock()

	if sessionID == "" {
		return
	}

	payload, err := json.Marshal(models.SensorBatch{
		SessionID: sessionID,
		Sequence:  seq,
		Samples:   samples,
	})
	if err != nil {
		s.logger.Error("Failed to marshal sensor batch", zap.Error(err))
		return
	}

	// Each batch is its own logical event; the sequence number is the
	// set component of the dedup key.
	if _, err := s.uploadQueue.Enqueue(sessionID, models.JobTypeSensorBatch, seq, payload); err != nil {
		s.logger.Error("Failed to queue sensor batch", zap.Error(err))
	}
}

func (s *SessionService) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flushIfReady()
		case <-s.stopChan:
			// One last drain before shutdown
			s.flushIfReady()
			return
		}
	}
}

// flushIfReady drains the queue when the network is usable
func (s *SessionService) flushIfReady() {
	if !s.networkMonitor.IsOnline() {
		return
	}

	if _, err := s.uploadQueue.Flush(context.Background(), s.uploader.UploadJob); err != nil {
		s.logger.Error("Queue flush failed", zap.Error(err))
	}
}

func (s *SessionService) flushAsync() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.flushIfReady()
	}()
}
