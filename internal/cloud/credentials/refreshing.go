package credentials

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/medviewlabs/signal-uplink/internal/cloud"
	"github.com/medviewlabs/signal-uplink/internal/constants"
)

// expiredErrorCodes are the object-store error codes that indicate the
// temporary credentials behind a client have lapsed.
var expiredErrorCodes = []string{
	"ExpiredToken",
	"RequestExpired",
}

// IsExpiredCredentials reports whether err indicates expired temporary
// credentials. The structured API error code is checked first; errors
// carrying no code fall back to substring matching, which some store
// frontends still require.
func IsExpiredCredentials(err error) bool {
	if err == nil {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		for _, c := range expiredErrorCodes {
			if code == c {
				return true
			}
		}
	}

	msg := err.Error()
	for _, c := range expiredErrorCodes {
		if strings.Contains(msg, c) {
			return true
		}
	}
	return false
}

// RefreshingClient runs object-store operations for one tenant, forcing a
// credential refresh and retrying when an operation fails with an
// expired-credential error. It borrows the manager rather than holding a
// client, so every call observes refreshes made by anyone.
type RefreshingClient struct {
	manager  *Manager
	tenantID string
}

// RefreshingClient returns an operation wrapper bound to a tenant.
func (m *Manager) RefreshingClient(tenantID string) *RefreshingClient {
	return &RefreshingClient{manager: m, tenantID: tenantID}
}

// TenantID returns the tenant this wrapper operates for.
func (c *RefreshingClient) TenantID() string {
	return c.tenantID
}

// Do invokes op with the tenant's current client. When op fails with an
// expired-credential error, the credentials are force-refreshed and op is
// retried, up to MaxExpiredRetries times; the original failure is returned
// once the budget is spent. Any other failure is returned immediately.
func (c *RefreshingClient) Do(ctx context.Context, op func(cloud.ObjectClient) error) error {
	client, err := c.manager.GetClient(ctx, c.tenantID)
	if err != nil {
		return err
	}

	opErr := op(client)
	for refreshes := 0; opErr != nil && IsExpiredCredentials(opErr) && refreshes < constants.MaxExpiredRetries; refreshes++ {
		c.manager.log.Warn().
			Str("tenant", c.tenantID).
			Err(opErr).
			Msg("operation hit expired credentials, forcing refresh")

		client, err = c.manager.ForceRefresh(ctx, c.tenantID)
		if err != nil {
			return err
		}
		opErr = op(client)
	}
	return opErr
}
