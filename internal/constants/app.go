package constants

import (
	"time"
)

// Upload retry configuration
const (
	// MaxUploadRetries - retry attempts beyond the first PUT (3 retries = 4 attempts total)
	MaxUploadRetries = 3

	// UploadRetryBackoffUnit - per-attempt backoff unit; attempt N sleeps N * this (2s, 4s, 6s)
	UploadRetryBackoffUnit = 2 * time.Second
)

// Tracker limits
const (
	// MaxUploads - maximum active records admitted to the tracker.
	// Additional files for a data id that already has records are always admitted
	// so folder uploads can finish once they have started.
	MaxUploads = 100

	// RecordMaxAge - records older than this are pruned on the next add (3 days)
	RecordMaxAge = 72 * time.Hour

	// UploadIDSeparator - joins dataId and the microsecond timestamp in an upload id
	UploadIDSeparator = "_"
)

// Worker lifecycle
const (
	// WorkerIdleTimeout - worker exits after this long with an empty queue (15 minutes)
	WorkerIdleTimeout = 15 * time.Minute

	// WorkerWakeInterval - bounded wait between idle-predicate re-checks (5 seconds)
	WorkerWakeInterval = 5 * time.Second
)

// Credential cache
const (
	// CredentialRefreshMargin - refresh when expiry is within this window (10 minutes).
	// Backend-issued credentials live ~15 minutes; refreshing once fewer than 10 minutes
	// remain leaves a 10-minute floor of validity for any operation that just obtained a client.
	CredentialRefreshMargin = 600 * time.Second

	// CredentialCacheSize - maximum tenants held in the client cache
	CredentialCacheSize = 1000

	// MaxExpiredRetries - forced refresh + retry cycles when an operation reports
	// expired credentials, after which the original failure is returned
	MaxExpiredRetries = 3
)

// S3 client configuration
const (
	// S3RequestTimeout - overall budget for a single S3 request (30 seconds)
	S3RequestTimeout = 30 * time.Second

	// S3ConnectTimeout - dial budget for new S3 connections (10 seconds)
	S3ConnectTimeout = 10 * time.Second

	// S3MaxIdleConns - connection pool size per S3 endpoint
	S3MaxIdleConns = 4
)

// Backend API client
const (
	// APIRequestTimeout - total timeout for one backend HTTP call (30 seconds)
	APIRequestTimeout = 30 * time.Second

	// APIConnectTimeout - dial timeout for backend connections (10 seconds)
	APIConnectTimeout = 10 * time.Second

	// APIMaxRetries - request attempts before giving up (token-expiry re-login
	// does not consume these; see api.Client)
	APIMaxRetries = 3

	// APIMaxLoginRetries - re-login attempts after a 401 before failing the call
	APIMaxLoginRetries = 3

	// APIRetryWaitMin and APIRetryWaitMax - retryablehttp backoff bounds
	APIRetryWaitMin = 1 * time.Second
	APIRetryWaitMax = 30 * time.Second
)

// Backend API rate limiting
const (
	// APIRatePerSec - token refill rate for the backend limiter.
	// Confirm and credential calls are low-frequency; 5/sec is generous headroom.
	APIRatePerSec = 5.0

	// APIBurstCapacity - bucket capacity, allows a burst of folder confirmations
	APIBurstCapacity = 20.0
)

// HTTP transport tuning for large transfers
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - TLS handshake budget (10 seconds)
	HTTPTLSHandshakeTimeout = 10 * time.Second

	// HTTPExpectContinueTimeout - 100-continue wait (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second
)
