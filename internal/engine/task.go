package engine

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/medviewlabs/signal-uplink/internal/cloud"
	"github.com/medviewlabs/signal-uplink/internal/models"
	"github.com/medviewlabs/signal-uplink/internal/tracker"
)

// processTask drives one upload through the state machine:
//
//	pending -> uploading -> {succeeded, failed, cancelled}
//
// Confirmation (succeeded -> confirmed / confirm_failed) is decided here
// but executed asynchronously so the next task's upload can start while
// the backend call is in flight.
func (e *Engine) processTask(uploadID string) {
	rec, err := e.trk.Get(uploadID)
	if err != nil {
		// Pruned or removed while queued; nothing to do.
		e.log.Warn().Str("uploadId", uploadID).Msg("queued upload no longer tracked")
		return
	}

	log := e.log.With().Str("uploadId", uploadID).Str("dataId", rec.DataID).Logger()

	// Cancellation checkpoint: cancelled while enqueued goes straight from
	// pending to cancelled.
	if e.trk.CancelRequested(uploadID) {
		e.trk.UpdateStatus(uploadID, models.StatusCancelled, "")
		log.Info().Msg("upload cancelled before start")
		return
	}

	e.trk.SetStartTime(uploadID, time.Now())
	e.trk.UpdateStatus(uploadID, models.StatusUploading, "")

	fail := func(msg string) {
		e.trk.UpdateStatus(uploadID, models.StatusFailed, msg)
		log.Error().Str("error", msg).Msg("upload failed")
	}

	// Input validation. Submit already rejected empty fields, but the
	// record may have been built by an older host through the boundary.
	if rec.Region == "" || rec.Bucket == "" || rec.ObjectKey == "" || rec.LocalPath == "" || rec.TenantID == "" {
		fail(msgInvalidParameters)
		return
	}
	if e.fetcher == nil || e.build == nil || e.confirmer == nil {
		fail(msgSDKNotInitialized)
		return
	}

	info, err := os.Stat(rec.LocalPath)
	if err != nil {
		if os.IsNotExist(err) {
			fail(msgLocalFileNotExist)
		} else {
			fail(msgCannotReadFileSize)
		}
		return
	}
	size := info.Size()
	e.trk.SetTotalSize(uploadID, size)
	log.Info().Int64("bytes", size).Str("objectKey", rec.ObjectKey).Msg("starting upload")

	// Cancellation checkpoint: before client construction.
	if e.trk.CancelRequested(uploadID) {
		e.trk.UpdateStatus(uploadID, models.StatusCancelled, "")
		log.Info().Msg("upload cancelled before client setup")
		return
	}

	// Validate credentials and build the tenant's client up front; a
	// credential failure is a task failure, not a retryable PUT error.
	mgr := e.manager(rec.Region)
	if _, err := mgr.GetClient(e.ctx, rec.TenantID); err != nil {
		fail(fmt.Sprintf("Failed to create S3 client: %v", err))
		return
	}
	rc := mgr.RefreshingClient(rec.TenantID)

	f, err := os.Open(rec.LocalPath)
	if err != nil {
		fail(msgCannotOpenFile + ": " + rec.LocalPath)
		return
	}
	defer f.Close()

	// Upload loop: the first attempt plus MaxUploadRetries retries, with a
	// linear backoff of attempt * unit between them. Each attempt rewinds
	// the file and runs the PUT through the auto-refreshing wrapper, so an
	// expired-credential failure refreshes and retries without consuming
	// an upload attempt.
	var lastErr error
	succeeded := false
	for attempt := 0; attempt <= e.cfg.MaxUploadRetries; attempt++ {
		if e.trk.CancelRequested(uploadID) {
			e.trk.UpdateStatus(uploadID, models.StatusCancelled, "")
			log.Info().Int("attempt", attempt).Msg("upload cancelled between retries")
			return
		}

		if attempt > 0 {
			delay := time.Duration(attempt) * e.cfg.RetryBackoffUnit
			log.Warn().Int("attempt", attempt).Dur("backoff", delay).Msg("retrying upload")
			select {
			case <-time.After(delay):
			case <-e.ctx.Done():
				e.trk.UpdateStatus(uploadID, models.StatusCancelled, "")
				return
			}
		}

		// The rewind lives inside the wrapped operation: a forced-refresh
		// retry must also resend the body from the start.
		err := rc.Do(e.ctx, func(client cloud.ObjectClient) error {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("failed to rewind file: %w", err)
			}
			return client.PutObject(e.ctx, rec.Bucket, rec.ObjectKey, f, size)
		})
		if err == nil {
			succeeded = true
			break
		}
		lastErr = fmt.Errorf("S3 upload failed (attempt %d): %w", attempt+1, err)
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("upload attempt failed")
	}

	if !succeeded {
		fail(lastErr.Error())
		return
	}

	e.trk.SetEndTime(uploadID, time.Now())
	e.trk.UpdateStatus(uploadID, models.StatusSucceeded, "")
	log.Info().Msg("upload succeeded")

	e.maybeConfirm(uploadID)
}

// refreshedSnapshot re-reads the record after the upload transition so the
// confirmation path sees the final sizes and statuses.
func (e *Engine) refreshedSnapshot(uploadID string) (tracker.Snapshot, bool) {
	rec, err := e.trk.Get(uploadID)
	if err != nil {
		return tracker.Snapshot{}, false
	}
	return rec, true
}
