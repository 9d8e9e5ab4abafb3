// Package config holds the tunable knobs of the upload engine. Hosts
// normally leave everything zero and get the defaults from the constants
// package; tests shrink the timeouts.
package config

import (
	"time"

	"github.com/medviewlabs/signal-uplink/internal/constants"
)

// Config controls engine behavior. The zero value is valid; Normalize
// fills unset fields with defaults.
type Config struct {
	// MaxUploadRetries is the number of PUT retries beyond the first attempt.
	MaxUploadRetries int

	// RetryBackoffUnit scales the between-attempt sleep: attempt N waits N * unit.
	RetryBackoffUnit time.Duration

	// MaxUploads bounds the tracker's active record count.
	MaxUploads int

	// RecordMaxAge is the wall-clock age past which records are pruned on add.
	RecordMaxAge time.Duration

	// WorkerIdleTimeout is how long the worker idles on an empty queue before exiting.
	WorkerIdleTimeout time.Duration

	// WorkerWakeInterval bounds the worker's wait between idle-predicate checks.
	WorkerWakeInterval time.Duration

	// RefreshMargin is how far before credential expiry a refresh is forced.
	RefreshMargin time.Duration

	// CredentialCacheSize caps the number of tenants with cached clients.
	CredentialCacheSize int
}

// Normalize returns a copy with every unset field replaced by its default.
func (c Config) Normalize() Config {
	if c.MaxUploadRetries <= 0 {
		c.MaxUploadRetries = constants.MaxUploadRetries
	}
	if c.RetryBackoffUnit <= 0 {
		c.RetryBackoffUnit = constants.UploadRetryBackoffUnit
	}
	if c.MaxUploads <= 0 {
		c.MaxUploads = constants.MaxUploads
	}
	if c.RecordMaxAge <= 0 {
		c.RecordMaxAge = constants.RecordMaxAge
	}
	if c.WorkerIdleTimeout <= 0 {
		c.WorkerIdleTimeout = constants.WorkerIdleTimeout
	}
	if c.WorkerWakeInterval <= 0 {
		c.WorkerWakeInterval = constants.WorkerWakeInterval
	}
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = constants.CredentialRefreshMargin
	}
	if c.CredentialCacheSize <= 0 {
		c.CredentialCacheSize = constants.CredentialCacheSize
	}
	return c
}
