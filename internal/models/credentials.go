package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// S3Credentials are the temporary per-tenant credentials issued by the
// backend's getS3Credentials endpoint.
type S3Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// Expiration is the absolute expiry instant (epoch seconds in the wire form).
	Expiration time.Time
}

// ValidFor reports whether the credentials are still good for at least
// margin beyond now.
func (c *S3Credentials) ValidFor(now time.Time, margin time.Duration) bool {
	return now.Add(margin).Before(c.Expiration)
}

// epochSeconds accepts the backend's expiration field, which arrives as a
// decimal string of epoch seconds on current backends and as a bare number
// on older ones.
type epochSeconds int64

func (e *epochSeconds) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		var s string
		if err2 := json.Unmarshal(data, &s); err2 != nil {
			return err
		}
		n = json.Number(s)
	}
	v, err := n.Int64()
	if err != nil {
		return fmt.Errorf("invalid epoch seconds %q: %w", n.String(), err)
	}
	*e = epochSeconds(v)
	return nil
}

// credentialsWire matches the backend JSON.
type credentialsWire struct {
	AccessKeyID     string       `json:"accessKeyId"`
	SecretAccessKey string       `json:"secretAccessKey"`
	SessionToken    string       `json:"sessionToken"`
	Expiration      epochSeconds `json:"expirationTimestampSecondsInUTC"`
}

// credentialsEnvelope is the nesting used by the backend: the useful
// fields sit under amazonTemporaryCredentials. A flat shape (no nesting)
// is also accepted.
type credentialsEnvelope struct {
	AmazonTemporaryCredentials *credentialsWire `json:"amazonTemporaryCredentials"`
}

// ParseS3Credentials decodes a getS3Credentials response body.
func ParseS3Credentials(data []byte) (*S3Credentials, error) {
	var env credentialsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode credentials response: %w", err)
	}

	wire := env.AmazonTemporaryCredentials
	if wire == nil {
		var flat credentialsWire
		if err := json.Unmarshal(data, &flat); err != nil {
			return nil, fmt.Errorf("failed to decode credentials response: %w", err)
		}
		wire = &flat
	}

	if wire.AccessKeyID == "" || wire.SecretAccessKey == "" {
		return nil, fmt.Errorf("credentials response missing access key")
	}

	if wire.Expiration == 0 {
		return nil, fmt.Errorf("credentials response missing expiration")
	}

	return &S3Credentials{
		AccessKeyID:     wire.AccessKeyID,
		SecretAccessKey: wire.SecretAccessKey,
		SessionToken:    wire.SessionToken,
		Expiration:      time.Unix(int64(wire.Expiration), 0),
	}, nil
}
