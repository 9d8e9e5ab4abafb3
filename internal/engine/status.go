package engine

import (
	"time"

	"github.com/medviewlabs/signal-uplink/internal/models"
	"github.com/medviewlabs/signal-uplink/internal/tracker"
)

// buildStatusReport aggregates a group's snapshots into the status
// document polled by the host.
//
// The aggregate status is derived as:
//   - any record failed            -> failed
//   - any record pending, uploading or cancelled -> uploading
//   - all stored and confirmed     -> confirmed
//   - any confirmation failed      -> confirm_failed
//   - stored, confirmation pending -> succeeded
func buildStatusReport(dataID string, snaps []tracker.Snapshot) models.StatusReport {
	var (
		totalSize     int64
		uploadedSize  int64
		uploadedCount int
		anyFailed     bool
		anyInFlight   bool
		errorMessage  string
	)

	uploads := make([]models.UploadInfo, 0, len(snaps))
	for _, s := range snaps {
		totalSize += s.TotalSize

		switch s.Status {
		case models.StatusSucceeded, models.StatusConfirmSuccess, models.StatusConfirmFailed:
			uploadedCount++
			uploadedSize += s.TotalSize
		case models.StatusFailed:
			anyFailed = true
			if errorMessage == "" {
				errorMessage = s.ErrorMessage
			}
		case models.StatusPending, models.StatusUploading, models.StatusCancelled:
			anyInFlight = true
		}

		uploads = append(uploads, models.UploadInfo{
			UploadID:      s.UploadID,
			LocalFilePath: s.LocalPath,
			S3ObjectKey:   s.ObjectKey,
			Status:        s.Status,
			TotalSize:     s.TotalSize,
			ErrorMessage:  s.ErrorMessage,
			StartTime:     epochMillis(s.StartTime),
			EndTime:       epochMillis(s.EndTime),
		})
	}

	overall := models.StatusUploading
	switch {
	case anyFailed:
		overall = models.StatusFailed
	case anyInFlight:
		overall = models.StatusUploading
	default:
		allConfirmed := true
		anyConfirmFailed := false
		for _, s := range snaps {
			switch s.Status {
			case models.StatusConfirmFailed:
				anyConfirmFailed = true
				allConfirmed = false
			case models.StatusConfirmSuccess:
			default:
				allConfirmed = false
			}
		}
		switch {
		case allConfirmed:
			overall = models.StatusConfirmSuccess
		case anyConfirmFailed:
			overall = models.StatusConfirmFailed
		default:
			// Stored but confirmation still in progress.
			overall = models.StatusSucceeded
		}
	}

	return models.StatusReport{
		Code:             models.StatusSucceeded,
		Status:           overall,
		UploadedCount:    uploadedCount,
		UploadedSize:     uploadedSize,
		TotalSize:        totalSize,
		TotalUploadCount: len(snaps),
		ErrorMessage:     errorMessage,
		DataID:           dataID,
		Uploads:          uploads,
	}
}

func epochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
