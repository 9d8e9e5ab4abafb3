package api

import (
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"

	"github.com/medviewlabs/signal-uplink/internal/models"
)

// rawDataType identifies raw device data in confirmation payloads.
const rawDataType = 20

// ConfirmPayload is the request body shared by both confirmation endpoints.
type ConfirmPayload struct {
	DataID            string  `json:"dataId"`
	DataName          string  `json:"dataName"`
	FileName          string  `json:"fileName"`
	S3ObjectKey       string  `json:"s3ObjectKey"`
	DataSize          int64   `json:"dataSize"`
	PatientID         string  `json:"patientId"`
	DataType          int     `json:"dataType"`
	UploadDataName    string  `json:"uploadDataName"`
	IsRawDataInternal int     `json:"isRawDataInternal"`
	DataVersions      []int32 `json:"dataVersions"`
}

// NewConfirmPayload fills the fixed fields of a confirmation payload.
// fileName is the object key for batch confirms and the file's own name
// for incremental confirms; objectKey is always the full key.
func NewConfirmPayload(dataID, uploadDataName, fileName, objectKey, patientID string, sizeBytes int64) ConfirmPayload {
	return ConfirmPayload{
		DataID:            dataID,
		DataName:          uploadDataName,
		FileName:          fileName,
		S3ObjectKey:       objectKey,
		DataSize:          sizeBytes,
		PatientID:         patientID,
		DataType:          rawDataType,
		UploadDataName:    uploadDataName,
		IsRawDataInternal: 1,
		DataVersions:      []int32{0},
	}
}

// BatchConfirmResponse is the body of POST /file/confirmUploadRawFile.
type BatchConfirmResponse struct {
	SuccessUploads []string `json:"successUploads"`
	FailedUploads  []string `json:"failedUploads"`
}

// OK interprets the response: success iff at least one entry succeeded and
// nothing failed. A response naming neither is ambiguous and treated as
// failure.
func (r *BatchConfirmResponse) OK() bool {
	return len(r.SuccessUploads) > 0 && len(r.FailedUploads) == 0
}

// IncrementalConfirmResponse is the body of POST /file/confirmIncrementalUploadFile.
type IncrementalConfirmResponse struct {
	Status struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
}

// OK reports whether the backend acknowledged the append.
func (r *IncrementalConfirmResponse) OK() bool {
	return r.Status.Code == "OK" && r.Status.Message == "OK"
}

// GetS3Credentials fetches temporary object-store credentials scoped to the
// given tenant's folder.
func (c *Client) GetS3Credentials(ctx context.Context, tenantID string) (*models.S3Credentials, error) {
	payload := map[string]interface{}{
		"keyId": tenantID,
		// Obtain credentials for a patient folder.
		"resourceType": 2,
	}

	body, err := c.requestWithToken(ctx, nethttp.MethodPost, "/file/getS3Credentials", payload)
	if err != nil {
		return nil, fmt.Errorf("get s3 credentials failed: %w", err)
	}

	creds, err := models.ParseS3Credentials(body)
	if err != nil {
		return nil, fmt.Errorf("get s3 credentials failed: %w", err)
	}
	return creds, nil
}

// ConfirmUploadRawFile finalizes a whole uploaded data item (batch mode).
func (c *Client) ConfirmUploadRawFile(ctx context.Context, payload ConfirmPayload) (*BatchConfirmResponse, error) {
	body, err := c.requestWithToken(ctx, nethttp.MethodPost, "/file/confirmUploadRawFile", payload)
	if err != nil {
		return nil, fmt.Errorf("confirm upload failed: %w", err)
	}

	var resp BatchConfirmResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode confirm response: %w", err)
	}
	return &resp, nil
}

// ConfirmIncrementalUploadFile confirms a single appended file (realtime
// append mode).
func (c *Client) ConfirmIncrementalUploadFile(ctx context.Context, payload ConfirmPayload) (*IncrementalConfirmResponse, error) {
	body, err := c.requestWithToken(ctx, nethttp.MethodPost, "/file/confirmIncrementalUploadFile", payload)
	if err != nil {
		return nil, fmt.Errorf("incremental confirm failed: %w", err)
	}

	var resp IncrementalConfirmResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode incremental confirm response: %w", err)
	}
	return &resp, nil
}

// GenerateUniqueDataIDs asks the backend for n server-issued data ids.
// Hosts call this before submitting grouped uploads.
func (c *Client) GenerateUniqueDataIDs(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("quantity must be > 0")
	}

	body, err := c.requestWithToken(ctx, nethttp.MethodGet, fmt.Sprintf("/file/generateUniqueKey/%d", n), nil)
	if err != nil {
		return nil, fmt.Errorf("generate data ids failed: %w", err)
	}

	var ids []string
	if err := json.Unmarshal(body, &ids); err != nil {
		// Some backend versions wrap the list in {"keys": [...]}.
		var wrapped struct {
			Keys []string `json:"keys"`
		}
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil || len(wrapped.Keys) == 0 {
			return nil, fmt.Errorf("failed to decode data id response: %w", err)
		}
		ids = wrapped.Keys
	}
	return ids, nil
}
