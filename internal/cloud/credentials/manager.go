// Package credentials caches per-tenant temporary object-store credentials
// and the clients built from them, refreshing both before expiry.
package credentials

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/medviewlabs/signal-uplink/internal/cloud"
	"github.com/medviewlabs/signal-uplink/internal/constants"
	"github.com/medviewlabs/signal-uplink/internal/logging"
	"github.com/medviewlabs/signal-uplink/internal/models"
)

// Fetcher obtains fresh temporary credentials for a tenant from the
// backend. Called outside the cache lock; may block on the network.
type Fetcher func(ctx context.Context, tenantID string) (*models.S3Credentials, error)

type entry struct {
	client cloud.ObjectClient
	creds  *models.S3Credentials
}

// Manager caches one object-store client per tenant and rebuilds it when
// the backing credentials come within the refresh margin of expiry.
//
// Locking: the cache map is guarded by a single mutex. Credential fetches
// and client builds run outside the lock so one slow tenant does not stall
// the others; the final cache update is last-writer-wins.
type Manager struct {
	region        string
	fetcher       Fetcher
	build         cloud.ClientBuilder
	refreshMargin time.Duration
	maxCacheSize  int
	log           *logging.Logger
	now           func() time.Time

	mu      sync.Mutex
	clients map[string]entry
}

// NewManager creates a credential manager for one region.
// build constructs the object-store client from fetched credentials.
func NewManager(region string, fetcher Fetcher, build cloud.ClientBuilder, log *logging.Logger) *Manager {
	return &Manager{
		region:        region,
		fetcher:       fetcher,
		build:         build,
		refreshMargin: constants.CredentialRefreshMargin,
		maxCacheSize:  constants.CredentialCacheSize,
		log:           log,
		now:           time.Now,
		clients:       make(map[string]entry),
	}
}

// SetRefreshMargin overrides the refresh margin. Zero or negative values
// are ignored.
func (m *Manager) SetRefreshMargin(d time.Duration) {
	if d > 0 {
		m.refreshMargin = d
	}
}

// SetCacheSize overrides the maximum tenant count. Zero or negative
// values are ignored.
func (m *Manager) SetCacheSize(n int) {
	if n > 0 {
		m.maxCacheSize = n
	}
}

// SetClock overrides the time source. Tests use this to step through
// expiry boundaries.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// GetClient returns a client whose credentials are valid for at least the
// refresh margin from now, refreshing first when they are not.
func (m *Manager) GetClient(ctx context.Context, tenantID string) (cloud.ObjectClient, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}

	m.mu.Lock()
	e, ok := m.clients[tenantID]
	needsRefresh := !ok || !e.creds.ValidFor(m.now(), m.refreshMargin)
	m.mu.Unlock()

	if !needsRefresh {
		return e.client, nil
	}
	return m.refreshClient(ctx, tenantID)
}

// ForceRefresh fetches fresh credentials for the tenant immediately,
// whatever the cached entry's expiry, and replaces that entry once the
// fetch and client build succeed. Used when an operation reports expiry
// despite the margin (clock skew, revocation).
func (m *Manager) ForceRefresh(ctx context.Context, tenantID string) (cloud.ObjectClient, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	return m.refreshClient(ctx, tenantID)
}

// refreshClient fetches credentials and rebuilds the client. A fetch or
// build failure leaves any existing cache entry untouched, so concurrent
// holders keep working until the old credentials actually expire.
func (m *Manager) refreshClient(ctx context.Context, tenantID string) (cloud.ObjectClient, error) {
	creds, err := m.fetcher(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch credentials for tenant %s: %w", tenantID, err)
	}

	client, err := m.build(ctx, m.region, creds)
	if err != nil {
		return nil, fmt.Errorf("failed to build client for tenant %s: %w", tenantID, err)
	}

	m.mu.Lock()
	m.cleanupCacheLocked()
	m.clients[tenantID] = entry{client: client, creds: creds}
	m.mu.Unlock()

	m.log.Info().
		Str("tenant", tenantID).
		Time("expires", creds.Expiration).
		Msg("refreshed object-store client")

	return client, nil
}

// cleanupCacheLocked drops expired entries, then, if the cache is still at
// or above its size limit, evicts the soonest-expiring entries so that one
// new entry fits. Caller holds m.mu.
func (m *Manager) cleanupCacheLocked() {
	now := m.now()
	for id, e := range m.clients {
		if !e.creds.Expiration.After(now) {
			delete(m.clients, id)
		}
	}

	if len(m.clients) < m.maxCacheSize {
		return
	}

	type aged struct {
		id      string
		expires time.Time
	}
	items := make([]aged, 0, len(m.clients))
	for id, e := range m.clients {
		items = append(items, aged{id: id, expires: e.creds.Expiration})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].expires.Before(items[j].expires) })

	excess := len(m.clients) - m.maxCacheSize + 1
	for i := 0; i < excess && i < len(items); i++ {
		delete(m.clients, items[i].id)
	}
}

// CachedTenants returns the number of tenants currently cached.
func (m *Manager) CachedTenants() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}
