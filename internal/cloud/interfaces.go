// Package cloud defines the narrow object-store interface the upload
// engine consumes. The s3 provider implements it against the AWS SDK;
// tests substitute fakes.
package cloud

import (
	"context"
	"io"

	"github.com/medviewlabs/signal-uplink/internal/models"
)

// ObjectClient is the slice of the object-store SDK the engine uses:
// whole-object PUT, nothing else. One client is bound to one set of
// temporary credentials; expiry is handled a level up by the credential
// manager.
type ObjectClient interface {
	// PutObject stores the body under bucket/key with content type
	// application/octet-stream. The body is read exactly once; retries are
	// the caller's responsibility.
	PutObject(ctx context.Context, bucket, key string, body io.Reader, contentLength int64) error
}

// ClientBuilder constructs an ObjectClient for a region from freshly
// issued credentials. The credential manager calls it on every refresh.
type ClientBuilder func(ctx context.Context, region string, creds *models.S3Credentials) (ObjectClient, error)
