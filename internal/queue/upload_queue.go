package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"repstream/workout-agent/internal/models"

	"go.uber.org/zap"
)

// UploadFunc attempts to deliver one job to the telemetry backend
type UploadFunc func(ctx context.Context, job models.UploadJob) error

// FlushResult summarizes one drain of the queue
type FlushResult struct {
	Uploaded int
	Failed   int
}

// UploadQueue is a durable store-and-forward queue of telemetry upload
// jobs. Enqueue never touches the network; Flush drains pending jobs
// oldest-first and is single-flight.
type UploadQueue struct {
	db         *sql.DB
	maxRetries int
	logger     *zap.Logger

	mu     sync.Mutex // guards lastMs
	lastMs int64

	flushMu sync.Mutex // serializes Flush
}

// New creates a new upload queue. maxRetries is the retry ceiling used
// by PurgeOld to drop jobs that keep failing past the retention window.
func New(db *sql.DB, maxRetries int, logger *zap.Logger) *UploadQueue {
	return &UploadQueue{
		db:         db,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Enqueue stores a job locally and returns its deterministic ID. It
// never blocks on network. Creation timestamps are forced strictly
// monotonic so two jobs enqueued within the same millisecond still get
// distinct IDs and a stable drain order.
func (uq *UploadQueue) Enqueue(sessionID string, jobType models.JobType, setNumber int, payload json.RawMessage) (string, error) {
	uq.mu.Lock()
	createdAt := time.Now().UnixMilli()
	if createdAt <= uq.lastMs {
		createdAt = uq.lastMs + 1
	}
	uq.lastMs = createdAt
	uq.mu.Unlock()

	jobID := models.NewJobID(sessionID, jobType, setNumber, createdAt)

	_, err := uq.db.Exec(`
		INSERT INTO upload_jobs (job_id, session_id, job_type, set_number, payload, created_at, status, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', 0)
	`, jobID, sessionID, string(jobType), setNumber, string(payload), createdAt)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	uq.logger.Debug("Job enqueued",
		zap.String("job_id", jobID),
		zap.String("session_id", sessionID),
		zap.String("job_type", string(jobType)),
	)

	return jobID, nil
}

// SessionJobs returns all jobs for a session, oldest first
func (uq *UploadQueue) SessionJobs(sessionID string) ([]models.UploadJob, error) {
	return uq.queryJobs(`
		SELECT job_id, session_id, job_type, set_number, payload, created_at, status, retry_count, last_attempt
		FROM upload_jobs
		WHERE session_id = ?
		ORDER BY created_at ASC, job_id ASC
	`, sessionID)
}

// PendingJobs returns all pending jobs across sessions, oldest first
func (uq *UploadQueue) PendingJobs() ([]models.UploadJob, error) {
	return uq.queryJobs(`
		SELECT job_id, session_id, job_type, set_number, payload, created_at, status, retry_count, last_attempt
		FROM upload_jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC, job_id ASC
	`)
}

// flushableJobs returns jobs awaiting upload, including earlier
// failures that are due another attempt, oldest first
func (uq *UploadQueue) flushableJobs() ([]models.UploadJob, error) {
	return uq.queryJobs(`
		SELECT job_id, session_id, job_type, set_number, payload, created_at, status, retry_count, last_attempt
		FROM upload_jobs
		WHERE status IN ('pending', 'failed')
		ORDER BY created_at ASC, job_id ASC
	`)
}

func (uq *UploadQueue) queryJobs(query string, args ...interface{}) ([]models.UploadJob, error) {
	rows, err := uq.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.UploadJob
	for rows.Next() {
		var job models.UploadJob
		var jobType, status, payload string
		var lastAttempt sql.NullTime

		if err := rows.Scan(&job.JobID, &job.SessionID, &jobType, &job.SetNumber,
			&payload, &job.CreatedAt, &status, &job.RetryCount, &lastAttempt); err != nil {
			uq.logger.Error("Failed to scan job row", zap.Error(err))
			continue
		}

		job.JobType = models.JobType(jobType)
		job.Status = models.JobStatus(status)
		job.Payload = json.RawMessage(payload)
		if lastAttempt.Valid {
			t := lastAttempt.Time
			job.LastAttempt = &t
		}

		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// MarkStatus transitions a job's status. Marking failed increments the
// retry count. Returns false when the job no longer exists, so a
// completion racing a ClearSession is ignored rather than resurrected.
func (uq *UploadQueue) MarkStatus(jobID string, status models.JobStatus) (bool, error) {
	var result sql.Result
	var err error

	if status == models.JobStatusFailed {
		result, err = uq.db.Exec(`
			UPDATE upload_jobs
			SET status = ?, retry_count = retry_count + 1, last_attempt = ?
			WHERE job_id = ?
		`, string(status), time.Now(), jobID)
	} else {
		result, err = uq.db.Exec(`
			UPDATE upload_jobs SET status = ? WHERE job_id = ?
		`, string(status), jobID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to mark job status: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		uq.logger.Debug("Status update skipped, job no longer exists",
			zap.String("job_id", jobID),
			zap.String("status", string(status)),
		)
		return false, nil
	}

	return true, nil
}

// ClearSession deletes all jobs for a session (cancel/discard)
func (uq *UploadQueue) ClearSession(sessionID string) error {
	result, err := uq.db.Exec(`DELETE FROM upload_jobs WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear session jobs: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	uq.logger.Info("Session jobs cleared",
		zap.String("session_id", sessionID),
		zap.Int64("count", rowsAffected),
	)

	return nil
}

// PurgeOld deletes done jobs older than maxAge, plus jobs that kept
// failing past the retry ceiling for the same window
func (uq *UploadQueue) PurgeOld(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	result, err := uq.db.Exec(`
		DELETE FROM upload_jobs
		WHERE created_at < ? AND (status = 'done' OR retry_count > ?)
	`, cutoff, uq.maxRetries)
	if err != nil {
		return fmt.Errorf("failed to purge old jobs: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		uq.logger.Info("Purged old jobs", zap.Int64("count", rowsAffected))
	}

	return nil
}

// RequeueInFlight resets jobs stuck in uploading back to pending. Run
// once at startup: a crash mid-flush leaves at most one such job.
func (uq *UploadQueue) RequeueInFlight() (int, error) {
	result, err := uq.db.Exec(`
		UPDATE upload_jobs SET status = 'pending' WHERE status = 'uploading'
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue in-flight jobs: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		uq.logger.Warn("Requeued jobs left uploading by a previous run",
			zap.Int64("count", rowsAffected),
		)
	}

	return int(rowsAffected), nil
}

// Flush drains every pending job in creation order, attempting each one
// once. A failed job does not block the rest. Concurrent calls are
// serialized; the second caller drains whatever the first left behind.
// Completed jobs are purged afterwards.
func (uq *UploadQueue) Flush(ctx context.Context, uploadFn UploadFunc) (FlushResult, error) {
	uq.flushMu.Lock()
	defer uq.flushMu.Unlock()

	var res FlushResult

	jobs, err := uq.flushableJobs()
	if err != nil {
		return res, err
	}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		// Claim the job first; a job cleared mid-flush is skipped.
		applied, err := uq.MarkStatus(job.JobID, models.JobStatusUploading)
		if err != nil {
			uq.logger.Error("Failed to claim job", zap.Error(err), zap.String("job_id", job.JobID))
			continue
		}
		if !applied {
			continue
		}

		if err := uploadFn(ctx, job); err != nil {
			uq.logger.Warn("Job upload failed",
				zap.Error(err),
				zap.String("job_id", job.JobID),
				zap.Int("retry_count", job.RetryCount+1),
			)
			if _, markErr := uq.MarkStatus(job.JobID, models.JobStatusFailed); markErr != nil {
				uq.logger.Error("Failed to mark job failed", zap.Error(markErr), zap.String("job_id", job.JobID))
			}
			res.Failed++
			continue
		}

		applied, err = uq.MarkStatus(job.JobID, models.JobStatusDone)
		if err != nil {
			uq.logger.Error("Failed to mark job done", zap.Error(err), zap.String("job_id", job.JobID))
		}
		if applied {
			res.Uploaded++
		}
	}

	if _, err := uq.db.Exec(`DELETE FROM upload_jobs WHERE status = 'done'`); err != nil {
		uq.logger.Error("Failed to purge completed jobs", zap.Error(err))
	}

	if res.Uploaded > 0 || res.Failed > 0 {
		uq.logger.Info("Queue flushed",
			zap.Int("uploaded", res.Uploaded),
			zap.Int("failed", res.Failed),
		)
	}

	return res, nil
}

// PendingCount returns the number of pending jobs across all sessions
func (uq *UploadQueue) PendingCount() (int, error) {
	var count int
	err := uq.db.QueryRow(`SELECT COUNT(*) FROM upload_jobs WHERE status = 'pending'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return count, nil
}
