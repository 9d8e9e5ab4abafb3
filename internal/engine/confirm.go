package engine

import (
	"strings"

	"github.com/medviewlabs/signal-uplink/internal/api"
	"github.com/medviewlabs/signal-uplink/internal/models"
	"github.com/medviewlabs/signal-uplink/internal/objectkey"
	"github.com/medviewlabs/signal-uplink/internal/tracker"
)

// maybeConfirm decides, synchronously in the worker, whether the record
// that just succeeded triggers a confirmation, then runs the backend call
// in its own goroutine. The decision (group completeness, the
// double-confirmation guard) happens on the worker so exactly one
// confirmation is issued per group; only the HTTP call overlaps the next
// upload.
func (e *Engine) maybeConfirm(uploadID string) {
	rec, ok := e.refreshedSnapshot(uploadID)
	if !ok || rec.DataID == "" {
		return
	}

	switch rec.Mode {
	case models.RealtimeAppend:
		if !e.trk.MarkConfirmAttempted(uploadID) {
			return
		}
		e.confirmWG.Add(1)
		go e.confirmIncremental(rec)

	case models.BatchCreate:
		complete, totalSize := e.trk.GroupComplete(rec.DataID)
		if !complete {
			return
		}
		if !e.trk.MarkConfirmAttempted(uploadID) {
			return
		}

		group := e.trk.GetByDataID(rec.DataID)
		confirmKey := rec.ObjectKey
		if len(group) > 1 {
			// Folder upload: confirm the directory, not the last file.
			confirmKey = objectkey.DirectoryKey(rec.ObjectKey)
		}
		e.confirmWG.Add(1)
		go e.confirmBatch(rec, confirmKey, totalSize)
	}
}

// confirmIncremental confirms a single appended file. The payload names
// the file itself, never its directory.
func (e *Engine) confirmIncremental(rec tracker.Snapshot) {
	defer e.confirmWG.Done()

	fileName := objectkey.FileName(rec.ObjectKey)
	if fileName == "" {
		fileName = strings.TrimSuffix(rec.ObjectKey, "/")
	}

	payload := api.NewConfirmPayload(rec.DataID, rec.UploadDataName, fileName, rec.ObjectKey, rec.TenantID, rec.TotalSize)
	resp, err := e.confirmer.ConfirmIncrementalUploadFile(e.ctx, payload)

	if err == nil && resp.OK() {
		e.trk.UpdateStatus(rec.UploadID, models.StatusConfirmSuccess, "")
		e.log.Info().Str("uploadId", rec.UploadID).Str("file", fileName).Msg("incremental confirmation succeeded")
		return
	}

	msg := "Incremental confirmation failed"
	if err != nil {
		msg = msg + ": " + err.Error()
		e.log.Error().Err(err).Str("uploadId", rec.UploadID).Msg("incremental confirmation failed")
	} else {
		e.log.Warn().Str("uploadId", rec.UploadID).Str("code", resp.Status.Code).Msg("incremental confirmation rejected")
	}
	// The object is stored either way; only the confirmation state changes.
	e.trk.UpdateStatus(rec.UploadID, models.StatusConfirmFailed, msg)
}

// confirmBatch finalizes a whole group with one backend call, then moves
// every succeeded record of the group to its confirmation state.
func (e *Engine) confirmBatch(rec tracker.Snapshot, confirmKey string, totalSize int64) {
	defer e.confirmWG.Done()

	payload := api.NewConfirmPayload(rec.DataID, rec.UploadDataName, confirmKey, confirmKey, rec.TenantID, totalSize)
	resp, err := e.confirmer.ConfirmUploadRawFile(e.ctx, payload)

	if err == nil && resp.OK() {
		changed := e.trk.UpdateGroupStatus(rec.DataID, models.StatusSucceeded, models.StatusConfirmSuccess)
		e.log.Info().
			Str("dataId", rec.DataID).
			Str("objectKey", confirmKey).
			Int64("totalSize", totalSize).
			Int("confirmed", changed).
			Msg("batch confirmation succeeded")
		return
	}

	if err != nil {
		e.log.Error().Err(err).Str("dataId", rec.DataID).Msg("batch confirmation failed")
	} else {
		// Includes the ambiguous shape where neither list is populated.
		e.log.Warn().
			Str("dataId", rec.DataID).
			Int("failedUploads", len(resp.FailedUploads)).
			Msg("batch confirmation rejected")
	}
	e.trk.UpdateGroupStatus(rec.DataID, models.StatusSucceeded, models.StatusConfirmFailed)
}
