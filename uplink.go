// Package uplink is the host-facing boundary of the signal upload library.
// Every call is stringly typed and returns a JSON envelope, mirroring the
// C-style interface the host binds against. The engine behind it lives in
// internal/engine. GenerateUniqueDataIDs is the one Go-typed helper; every
// other call returns JSON (or an int for the file helpers).
//
// Lifecycle: InitSDK (idempotent) -> SetCredentials -> UploadFileAsync /
// GetUploadStatus / CancelUpload -> CleanupSDK.
package uplink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/medviewlabs/signal-uplink/internal/api"
	"github.com/medviewlabs/signal-uplink/internal/cloud/providers/s3"
	"github.com/medviewlabs/signal-uplink/internal/config"
	"github.com/medviewlabs/signal-uplink/internal/engine"
	"github.com/medviewlabs/signal-uplink/internal/logging"
	"github.com/medviewlabs/signal-uplink/internal/models"
)

// Process-wide handle for the C-style boundary. The engine itself is an
// ordinary value; only this package pins one globally.
var (
	mu          sync.Mutex
	initialized bool
	log         = logging.NewDefaultLogger()
	apiClient   *api.Client
	eng         *engine.Engine
)

// envelope renders the {code, message} JSON every stringly call returns.
func envelope(code models.UploadStatus, message string) string {
	data, err := json.Marshal(models.Envelope{Code: code, Message: message})
	if err != nil {
		// Envelope marshalling cannot realistically fail; keep the shape anyway.
		return fmt.Sprintf(`{"code":%d,"message":"internal error"}`, int(models.StatusFailed))
	}
	return string(data)
}

// InitSDK prepares the library for use. Idempotent: calling it again after
// a successful init returns success without re-initializing.
func InitSDK() string {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return envelope(models.StatusSDKInitSuccess, "SDK already initialized")
	}
	initialized = true
	return envelope(models.StatusSDKInitSuccess, "SDK initialized successfully")
}

// SetCredentials initializes the SDK if needed and stores backend
// credentials. The backend is not contacted until the first call that
// needs a token.
func SetCredentials(apiBaseURL, account, password string) string {
	if apiBaseURL == "" || account == "" || password == "" {
		return envelope(models.StatusFailed, "Invalid parameters: one or more required parameters are null")
	}

	if initResp := InitSDK(); !isInitSuccess(initResp) {
		return initResp
	}

	mu.Lock()
	defer mu.Unlock()

	apiClient = api.NewClient(apiBaseURL, account, password, log)
	eng = engine.New(
		config.Config{},
		log,
		apiClient.GetS3Credentials,
		s3.NewClient,
		apiClient,
	)

	log.Info().Str("url", apiBaseURL).Str("account", account).Msg("credentials set")
	return envelope(models.StatusSDKInitSuccess, "SDK initialized and credentials set successfully")
}

func isInitSuccess(resp string) bool {
	var env models.Envelope
	return json.Unmarshal([]byte(resp), &env) == nil && env.Code == models.StatusSDKInitSuccess
}

// CleanupSDK shuts the engine down, waiting briefly for in-flight
// confirmations, and releases the global handle.
func CleanupSDK() string {
	mu.Lock()
	e := eng
	eng = nil
	apiClient = nil
	initialized = false
	mu.Unlock()

	if e != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("engine shutdown incomplete")
		}
	}
	return envelope(models.StatusSDKCleanSuccess, "SDK resources cleaned up")
}

// currentEngine returns the engine or nil when SetCredentials has not run.
func currentEngine() *engine.Engine {
	mu.Lock()
	defer mu.Unlock()
	return eng
}

// FileExists reports 1 when the path exists, 0 otherwise.
func FileExists(path string) int {
	if path == "" {
		return 0
	}
	if _, err := os.Stat(path); err != nil {
		return 0
	}
	return 1
}

// FileSize returns the file's byte size, or a negative value on error.
func FileSize(path string) int64 {
	if path == "" {
		return -1
	}
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}

// UploadFileAsync submits one file for background upload. On success the
// envelope's message is the new upload id; on failure it is the error
// description. operationMode: 0 = batch create, 1 = realtime append.
func UploadFileAsync(region, bucket, objectKey, localPath, dataID, tenantID string, operationMode int) string {
	e := currentEngine()
	if e == nil {
		return envelope(models.StatusFailed, "SDK not initialized. Call InitSDK() first")
	}

	uploadID, err := e.Submit(region, bucket, objectKey, localPath, dataID, tenantID, models.OperationMode(operationMode))
	if err != nil {
		return envelope(models.StatusFailed, err.Error())
	}
	return envelope(models.StatusSucceeded, uploadID)
}

// GetUploadStatus returns the aggregate status document for a data id,
// or a failure envelope when no uploads match.
func GetUploadStatus(dataID string) string {
	e := currentEngine()
	if e == nil {
		return envelope(models.StatusFailed, "SDK not initialized. Call InitSDK() first")
	}

	report, err := e.Status(dataID)
	if err != nil {
		return envelope(models.StatusFailed, "No uploads found with dataId")
	}

	data, err := json.Marshal(report)
	if err != nil {
		return envelope(models.StatusFailed, "Failed to get upload status: "+err.Error())
	}
	return string(data)
}

// GetUploadStatusBytes fills buf with the status JSON for a data id and
// returns the number of bytes written, truncating when buf is too small.
// Returns 0 when buf is empty or dataID is blank.
func GetUploadStatusBytes(dataID string, buf []byte) int {
	if dataID == "" || len(buf) == 0 {
		return 0
	}
	return copy(buf, GetUploadStatus(dataID))
}

// CancelUpload requests cancellation of one upload. The upload stops at
// the worker's next checkpoint; an in-flight transfer attempt completes.
func CancelUpload(uploadID string) string {
	e := currentEngine()
	if e == nil {
		return envelope(models.StatusFailed, "SDK not initialized. Call InitSDK() first")
	}
	if !e.Cancel(uploadID) {
		return envelope(models.StatusFailed, "No upload found with uploadId")
	}
	return envelope(models.StatusCancelled, uploadID)
}

// CleanupUploadsByDataID removes every tracked record of a data id.
// Cleanup is host-driven; confirmed records persist until this is called.
func CleanupUploadsByDataID(dataID string) string {
	e := currentEngine()
	if e == nil {
		return envelope(models.StatusFailed, "SDK not initialized. Call InitSDK() first")
	}
	if dataID == "" {
		return envelope(models.StatusFailed, "Invalid parameters: one or more required parameters are null")
	}
	removed := e.CleanupByDataID(dataID)
	return envelope(models.StatusSucceeded, fmt.Sprintf("Cleaned up %d upload(s)", removed))
}

// GenerateUniqueDataIDs asks the backend for n server-issued data ids.
// Go-typed convenience for hosts that can hold slices; stringly hosts can
// join the result themselves.
func GenerateUniqueDataIDs(ctx context.Context, n int) ([]string, error) {
	mu.Lock()
	client := apiClient
	mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("SDK not initialized. Call InitSDK() first")
	}
	return client.GenerateUniqueDataIDs(ctx, n)
}
