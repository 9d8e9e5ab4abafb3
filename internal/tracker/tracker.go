// Package tracker keeps the in-memory registry of upload records. One
// record per submitted file, queryable by upload id or data-id prefix.
// Everything lives behind a single mutex; nothing is persisted.
package tracker

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/medviewlabs/signal-uplink/internal/constants"
	"github.com/medviewlabs/signal-uplink/internal/models"
)

// ErrLimitExceeded is returned by Add when the tracker is full and the
// record's data id has no records in the tracker yet.
var ErrLimitExceeded = errors.New("upload limit exceeded")

// ErrNotFound is returned when an upload id is not tracked.
var ErrNotFound = errors.New("upload not found")

// lastStamp guarantees strictly increasing microsecond stamps even when
// two submissions land within the same microsecond.
var lastStamp atomic.Int64

// NewUploadID derives an upload id from the data id and the current
// microsecond timestamp: "<dataId>_<micros>".
func NewUploadID(dataID string) string {
	stamp := time.Now().UnixMicro()
	for {
		prev := lastStamp.Load()
		if stamp <= prev {
			stamp = prev + 1
		}
		if lastStamp.CompareAndSwap(prev, stamp) {
			break
		}
	}
	return dataID + constants.UploadIDSeparator + fmt.Sprintf("%d", stamp)
}

// GroupPrefix returns the prefix shared by every upload id of a data id.
func GroupPrefix(dataID string) string {
	return dataID + constants.UploadIDSeparator
}

// record is the internal mutable state of one upload. All fields except
// the cancellation flag are guarded by the tracker mutex; the flag is
// atomic so the worker can poll it between retry steps without locking.
type record struct {
	uploadID       string
	dataID         string
	localPath      string
	objectKey      string
	tenantID       string
	uploadDataName string
	region         string
	bucket         string
	mode           models.OperationMode
	createdAt      time.Time

	status           models.UploadStatus
	totalSize        int64
	errorMessage     string
	startTime        time.Time
	endTime          time.Time
	confirmAttempted bool

	cancel atomic.Bool
}

// Snapshot is an immutable copy of a record handed to readers.
type Snapshot struct {
	UploadID       string
	DataID         string
	LocalPath      string
	ObjectKey      string
	TenantID       string
	UploadDataName string
	Region         string
	Bucket         string
	Mode           models.OperationMode
	CreatedAt      time.Time

	Status           models.UploadStatus
	TotalSize        int64
	ErrorMessage     string
	StartTime        time.Time
	EndTime          time.Time
	ConfirmAttempted bool
	CancelRequested  bool
}

func (r *record) snapshot() Snapshot {
	return Snapshot{
		UploadID:         r.uploadID,
		DataID:           r.dataID,
		LocalPath:        r.localPath,
		ObjectKey:        r.objectKey,
		TenantID:         r.tenantID,
		UploadDataName:   r.uploadDataName,
		Region:           r.region,
		Bucket:           r.bucket,
		Mode:             r.mode,
		CreatedAt:        r.createdAt,
		Status:           r.status,
		TotalSize:        r.totalSize,
		ErrorMessage:     r.errorMessage,
		StartTime:        r.startTime,
		EndTime:          r.endTime,
		ConfirmAttempted: r.confirmAttempted,
		CancelRequested:  r.cancel.Load(),
	}
}

// NewUpload describes a submission to Add.
type NewUpload struct {
	UploadID       string
	DataID         string
	LocalPath      string
	ObjectKey      string
	TenantID       string
	UploadDataName string
	Region         string
	Bucket         string
	Mode           models.OperationMode
}

// Tracker is the thread-safe upload registry.
type Tracker struct {
	mu         sync.Mutex
	records    map[string]*record
	order      []string // upload ids in insertion order
	maxUploads int
	maxAge     time.Duration
	totalAdded int64
	now        func() time.Time
}

// New creates a tracker with the given admission limit and pruning age.
func New(maxUploads int, maxAge time.Duration) *Tracker {
	if maxUploads <= 0 {
		maxUploads = constants.MaxUploads
	}
	if maxAge <= 0 {
		maxAge = constants.RecordMaxAge
	}
	return &Tracker{
		records:    make(map[string]*record),
		maxUploads: maxUploads,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// SetClock overrides the time source for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

// Add registers a new upload in Pending state.
//
// Admission: rejected with ErrLimitExceeded when the tracker already holds
// maxUploads records, unless the data id already has at least one record
// (folder uploads keep going once started). Records older than the pruning
// age are dropped first.
func (t *Tracker) Add(u NewUpload) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneLocked()

	if len(t.records) >= t.maxUploads && len(t.groupLocked(u.DataID)) == 0 {
		return fmt.Errorf("%w: %d uploads tracked", ErrLimitExceeded, len(t.records))
	}

	if _, exists := t.records[u.UploadID]; exists {
		return fmt.Errorf("upload id %s already tracked", u.UploadID)
	}

	t.records[u.UploadID] = &record{
		uploadID:       u.UploadID,
		dataID:         u.DataID,
		localPath:      u.LocalPath,
		objectKey:      u.ObjectKey,
		tenantID:       u.TenantID,
		uploadDataName: u.UploadDataName,
		region:         u.Region,
		bucket:         u.Bucket,
		mode:           u.Mode,
		createdAt:      t.now(),
		status:         models.StatusPending,
	}
	t.order = append(t.order, u.UploadID)
	t.totalAdded++
	return nil
}

// pruneLocked drops records whose wall-clock age exceeds the limit.
// Caller holds t.mu.
func (t *Tracker) pruneLocked() {
	cutoff := t.now().Add(-t.maxAge)
	kept := t.order[:0]
	for _, id := range t.order {
		r, ok := t.records[id]
		if !ok {
			continue
		}
		if r.createdAt.Before(cutoff) {
			delete(t.records, id)
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
}

// groupLocked returns the records of a data id in insertion order.
// Caller holds t.mu.
func (t *Tracker) groupLocked(dataID string) []*record {
	prefix := GroupPrefix(dataID)
	var out []*record
	for _, id := range t.order {
		if strings.HasPrefix(id, prefix) {
			if r, ok := t.records[id]; ok {
				out = append(out, r)
			}
		}
	}
	return out
}

// Get returns a snapshot of one record.
func (t *Tracker) Get(uploadID string) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[uploadID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, uploadID)
	}
	return r.snapshot(), nil
}

// GetByDataID returns snapshots of every record whose upload id begins
// with "<dataId>_", preserving insertion order.
func (t *Tracker) GetByDataID(dataID string) []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	group := t.groupLocked(dataID)
	out := make([]Snapshot, 0, len(group))
	for _, r := range group {
		out = append(out, r.snapshot())
	}
	return out
}

// UpdateStatus sets the status and, when non-empty, the error message.
// Unknown ids are ignored; the record may have been pruned or removed
// while the worker was processing it. A record in a terminal upload state
// never moves back to pending or uploading.
func (t *Tracker) UpdateStatus(uploadID string, status models.UploadStatus, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[uploadID]
	if !ok {
		return
	}
	if r.status.TerminalUpload() && (status == models.StatusPending || status == models.StatusUploading) {
		return
	}
	r.status = status
	if errMsg != "" {
		r.errorMessage = errMsg
	}
}

// SetTotalSize records the file's byte size once it has been stat'ed.
func (t *Tracker) SetTotalSize(uploadID string, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.records[uploadID]; ok {
		r.totalSize = size
	}
}

// SetStartTime stamps the beginning of processing.
func (t *Tracker) SetStartTime(uploadID string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.records[uploadID]; ok {
		r.startTime = ts
	}
}

// SetEndTime stamps the completion of the upload phase.
func (t *Tracker) SetEndTime(uploadID string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.records[uploadID]; ok {
		r.endTime = ts
	}
}

// Cancel requests cooperative cancellation of one upload. Returns false
// when the id is unknown.
func (t *Tracker) Cancel(uploadID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[uploadID]
	if !ok {
		return false
	}
	r.cancel.Store(true)
	return true
}

// CancelRequested reports the cancellation flag without taking the
// tracker lock for longer than the map lookup.
func (t *Tracker) CancelRequested(uploadID string) bool {
	t.mu.Lock()
	r, ok := t.records[uploadID]
	t.mu.Unlock()
	return ok && r.cancel.Load()
}

// Remove deletes one record.
func (t *Tracker) Remove(uploadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[uploadID]; !ok {
		return
	}
	delete(t.records, uploadID)
	for i, id := range t.order {
		if id == uploadID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// RemoveByDataID deletes every record of a group, returning the count.
func (t *Tracker) RemoveByDataID(dataID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	prefix := GroupPrefix(dataID)
	kept := t.order[:0]
	removed := 0
	for _, id := range t.order {
		if strings.HasPrefix(id, prefix) {
			delete(t.records, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
	return removed
}

// CountActive returns the number of records currently occupying the
// tracker. Records count until removed; terminal states still occupy a
// slot so the host controls when capacity is reclaimed.
func (t *Tracker) CountActive() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// CountTotal returns the number of records ever added.
func (t *Tracker) CountTotal() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalAdded
}

// MarkConfirmAttempted sets the double-confirmation guard for the record
// and reports whether this call was the one that set it. The check and
// set are one critical section, so exactly one caller wins per record.
func (t *Tracker) MarkConfirmAttempted(uploadID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[uploadID]
	if !ok || r.confirmAttempted {
		return false
	}
	r.confirmAttempted = true
	return true
}

// GroupComplete reports whether every record of the data id is in
// succeeded or confirmed state, together with the summed byte size of the
// group. Used for the batch-confirmation decision.
func (t *Tracker) GroupComplete(dataID string) (bool, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	group := t.groupLocked(dataID)
	if len(group) == 0 {
		return false, 0
	}
	var total int64
	for _, r := range group {
		if r.status != models.StatusSucceeded && r.status != models.StatusConfirmSuccess {
			return false, 0
		}
		total += r.totalSize
	}
	return true, total
}

// UpdateGroupStatus transitions every record of the group currently in
// fromStatus to toStatus. Returns the number of records changed.
func (t *Tracker) UpdateGroupStatus(dataID string, fromStatus, toStatus models.UploadStatus) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := 0
	for _, r := range t.groupLocked(dataID) {
		if r.status == fromStatus {
			r.status = toStatus
			changed++
		}
	}
	return changed
}
