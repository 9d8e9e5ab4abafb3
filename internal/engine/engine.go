// Package engine implements the asynchronous upload pipeline: a bounded
// task queue drained by a single worker, per-file retry around the
// object-store PUT, and backend confirmation of completed uploads.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/medviewlabs/signal-uplink/internal/api"
	"github.com/medviewlabs/signal-uplink/internal/cloud"
	"github.com/medviewlabs/signal-uplink/internal/cloud/credentials"
	"github.com/medviewlabs/signal-uplink/internal/config"
	"github.com/medviewlabs/signal-uplink/internal/logging"
	"github.com/medviewlabs/signal-uplink/internal/models"
	"github.com/medviewlabs/signal-uplink/internal/objectkey"
	"github.com/medviewlabs/signal-uplink/internal/tracker"
)

// Fixed host-visible error messages. Hosts match on these strings; do not
// reword them.
const (
	msgInvalidParameters  = "Invalid parameters: one or more required parameters are null"
	msgSDKNotInitialized  = "SDK not initialized. Call InitSDK() first"
	msgLocalFileNotExist  = "Local file does not exist"
	msgCannotReadFileSize = "Cannot read file size"
	msgCannotOpenFile     = "Cannot open file for reading"
)

// ErrInvalidParameters is returned by Submit when a required field is empty.
var ErrInvalidParameters = errors.New(msgInvalidParameters)

// Confirmer issues upload confirmations to the backend. *api.Client
// implements it; tests substitute fakes.
type Confirmer interface {
	ConfirmUploadRawFile(ctx context.Context, payload api.ConfirmPayload) (*api.BatchConfirmResponse, error)
	ConfirmIncrementalUploadFile(ctx context.Context, payload api.ConfirmPayload) (*api.IncrementalConfirmResponse, error)
}

// Engine owns the upload pipeline. Hosts construct one per process (the
// boundary keeps a global handle), but the type is an ordinary value that
// tests construct at will.
type Engine struct {
	cfg       config.Config
	log       *logging.Logger
	trk       *tracker.Tracker
	confirmer Confirmer
	fetcher   credentials.Fetcher
	build     cloud.ClientBuilder

	// Credential managers are per region; built lazily on first use.
	mgrMu    sync.Mutex
	managers map[string]*credentials.Manager

	// Queue of upload ids awaiting the worker, FIFO, guarded by queueMu.
	// The signal channel wakes the worker on submission. startMu guards
	// workerRunning and closed, and serializes worker startup and shutdown
	// decisions.
	queueMu       sync.Mutex
	queue         []string
	signal        chan struct{}
	startMu       sync.Mutex
	workerRunning bool

	// Confirmations run in their own goroutines; Shutdown waits for them.
	confirmWG sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// New wires an engine from its collaborators. fetcher obtains tenant
// credentials from the backend, build turns them into object-store
// clients, confirmer issues confirmations.
func New(cfg config.Config, log *logging.Logger, fetcher credentials.Fetcher, build cloud.ClientBuilder, confirmer Confirmer) *Engine {
	cfg = cfg.Normalize()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		log:       log,
		trk:       tracker.New(cfg.MaxUploads, cfg.RecordMaxAge),
		confirmer: confirmer,
		fetcher:   fetcher,
		build:     build,
		managers:  make(map[string]*credentials.Manager),
		signal:    make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Tracker exposes the registry for the boundary's status and cleanup calls.
func (e *Engine) Tracker() *tracker.Tracker {
	return e.trk
}

// WorkerRunning reports whether the upload worker goroutine is alive.
func (e *Engine) WorkerRunning() bool {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	return e.workerRunning
}

// manager returns the credential manager for a region, creating it on
// first use.
func (e *Engine) manager(region string) *credentials.Manager {
	e.mgrMu.Lock()
	defer e.mgrMu.Unlock()
	m, ok := e.managers[region]
	if !ok {
		m = credentials.NewManager(region, e.fetcher, e.build, e.log)
		m.SetRefreshMargin(e.cfg.RefreshMargin)
		m.SetCacheSize(e.cfg.CredentialCacheSize)
		e.managers[region] = m
	}
	return m
}

// Submit validates and registers an upload, enqueues it, and makes sure
// the worker is running. Returns the new upload id.
func (e *Engine) Submit(region, bucket, objectKey, localPath, dataID, tenantID string, mode models.OperationMode) (string, error) {
	if region == "" || bucket == "" || objectKey == "" || localPath == "" || dataID == "" || tenantID == "" {
		return "", ErrInvalidParameters
	}
	if !mode.Valid() {
		return "", fmt.Errorf("unknown operation mode %d", int(mode))
	}
	if e.isClosed() {
		return "", fmt.Errorf("engine is shut down")
	}

	uploadID := tracker.NewUploadID(dataID)
	err := e.trk.Add(tracker.NewUpload{
		UploadID:       uploadID,
		DataID:         dataID,
		LocalPath:      localPath,
		ObjectKey:      objectKey,
		TenantID:       tenantID,
		UploadDataName: objectkey.UploadDataName(objectKey),
		Region:         region,
		Bucket:         bucket,
		Mode:           mode,
	})
	if err != nil {
		return "", err
	}

	e.enqueue(uploadID)
	e.ensureWorker()

	e.log.Info().
		Str("uploadId", uploadID).
		Str("dataId", dataID).
		Str("objectKey", objectKey).
		Str("mode", mode.String()).
		Msg("upload submitted")

	return uploadID, nil
}

// Cancel requests cooperative cancellation of one upload. The flag is
// honored at the worker's checkpoints; an in-flight PUT runs to completion.
func (e *Engine) Cancel(uploadID string) bool {
	return e.trk.Cancel(uploadID)
}

// Status aggregates the group of a data id into a status report.
func (e *Engine) Status(dataID string) (models.StatusReport, error) {
	snaps := e.trk.GetByDataID(dataID)
	if len(snaps) == 0 {
		return models.StatusReport{}, fmt.Errorf("%w: no uploads found with dataId %s", tracker.ErrNotFound, dataID)
	}
	return buildStatusReport(dataID, snaps), nil
}

// CleanupByDataID removes every record of a group from the tracker.
// Cleanup is host-driven; the engine never removes confirmed records on
// its own.
func (e *Engine) CleanupByDataID(dataID string) int {
	removed := e.trk.RemoveByDataID(dataID)
	if removed > 0 {
		e.log.Info().Str("dataId", dataID).Int("removed", removed).Msg("cleaned up uploads")
	}
	return removed
}

// Shutdown stops accepting work, wakes the worker so it can exit, and
// waits for in-flight confirmations until ctx expires.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.startMu.Lock()
	e.closed = true
	e.startMu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.confirmWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (e *Engine) isClosed() bool {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	return e.closed
}
