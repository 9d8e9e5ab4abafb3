package credentials

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go"

	"github.com/medviewlabs/signal-uplink/internal/cloud"
	"github.com/medviewlabs/signal-uplink/internal/logging"
	"github.com/medviewlabs/signal-uplink/internal/models"
)

// fakeClient counts PUT calls and returns scripted errors.
type fakeClient struct {
	mu     sync.Mutex
	puts   int
	PutErr func(call int) error
}

func (f *fakeClient) PutObject(ctx context.Context, bucket, key string, body io.Reader, contentLength int64) error {
	f.mu.Lock()
	f.puts++
	call := f.puts
	f.mu.Unlock()
	if f.PutErr != nil {
		return f.PutErr(call)
	}
	return nil
}

func (f *fakeClient) Puts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

type fixture struct {
	mgr     *Manager
	now     time.Time
	fetches int
	builds  int
	// lifetime of each issued credential
	lifetime time.Duration
	fetchErr error
	client   *fakeClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		now:      time.Unix(1_700_000_000, 0),
		lifetime: time.Hour,
		client:   &fakeClient{},
	}

	fetcher := func(ctx context.Context, tenantID string) (*models.S3Credentials, error) {
		f.fetches++
		if f.fetchErr != nil {
			return nil, f.fetchErr
		}
		return &models.S3Credentials{
			AccessKeyID:     fmt.Sprintf("AK%d", f.fetches),
			SecretAccessKey: "secret",
			SessionToken:    "token",
			Expiration:      f.now.Add(f.lifetime),
		}, nil
	}
	build := func(ctx context.Context, region string, creds *models.S3Credentials) (cloud.ObjectClient, error) {
		f.builds++
		return f.client, nil
	}

	f.mgr = NewManager("us-east-1", fetcher, build, logging.Nop())
	f.mgr.SetRefreshMargin(600 * time.Second)
	f.mgr.SetClock(func() time.Time { return f.now })
	return f
}

func TestGetClientCachesPerTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.mgr.GetClient(ctx, "t1"); err != nil {
		t.Fatalf("GetClient() failed: %v", err)
	}
	if _, err := f.mgr.GetClient(ctx, "t1"); err != nil {
		t.Fatalf("GetClient() failed: %v", err)
	}
	if f.fetches != 1 {
		t.Errorf("fetches = %d, want 1 (second call served from cache)", f.fetches)
	}

	if _, err := f.mgr.GetClient(ctx, "t2"); err != nil {
		t.Fatalf("GetClient() failed: %v", err)
	}
	if f.fetches != 2 {
		t.Errorf("fetches = %d, want 2 (one per tenant)", f.fetches)
	}
}

func TestGetClientRejectsEmptyTenant(t *testing.T) {
	f := newFixture(t)
	if _, err := f.mgr.GetClient(context.Background(), ""); err == nil {
		t.Error("GetClient(\"\") should fail")
	}
}

func TestRefreshAtMarginBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Credentials expiring exactly at now + margin must be refreshed.
	f.lifetime = 600 * time.Second
	if _, err := f.mgr.GetClient(ctx, "t1"); err != nil {
		t.Fatalf("GetClient() failed: %v", err)
	}
	if _, err := f.mgr.GetClient(ctx, "t1"); err != nil {
		t.Fatalf("GetClient() failed: %v", err)
	}
	if f.fetches != 2 {
		t.Errorf("fetches = %d, want 2 (expiration == now+margin forces refresh)", f.fetches)
	}

	// One second of headroom beyond the margin: cached.
	f.lifetime = 601 * time.Second
	if _, err := f.mgr.GetClient(ctx, "t1"); err != nil {
		t.Fatalf("GetClient() failed: %v", err)
	}
	before := f.fetches
	if _, err := f.mgr.GetClient(ctx, "t1"); err != nil {
		t.Fatalf("GetClient() failed: %v", err)
	}
	if f.fetches != before {
		t.Errorf("fetches grew from %d to %d, want cached", before, f.fetches)
	}
}

func TestRefreshWhenExpirationIsNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.lifetime = 0
	if _, err := f.mgr.GetClient(ctx, "t1"); err != nil {
		t.Fatalf("GetClient() failed: %v", err)
	}
	if _, err := f.mgr.GetClient(ctx, "t1"); err != nil {
		t.Fatalf("GetClient() failed: %v", err)
	}
	if f.fetches != 2 {
		t.Errorf("fetches = %d, want 2 (already-expired credentials always refresh)", f.fetches)
	}
}

func TestFetchFailureDoesNotPoisonCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.mgr.GetClient(ctx, "t1"); err != nil {
		t.Fatalf("GetClient() failed: %v", err)
	}

	// Move inside the margin so a refresh is attempted, and make it fail.
	f.now = f.now.Add(59 * time.Minute)
	f.fetchErr = errors.New("backend down")
	if _, err := f.mgr.GetClient(ctx, "t1"); err == nil {
		t.Fatal("GetClient() should surface the fetch failure")
	}

	// The old entry survives: once the fetcher recovers, the refresh works,
	// and in the meantime nothing was evicted.
	if f.mgr.CachedTenants() != 1 {
		t.Errorf("CachedTenants() = %d, want 1 (old entry preserved)", f.mgr.CachedTenants())
	}
	f.fetchErr = nil
	if _, err := f.mgr.GetClient(ctx, "t1"); err != nil {
		t.Errorf("GetClient() after fetcher recovery failed: %v", err)
	}
}

func TestCacheEviction(t *testing.T) {
	f := newFixture(t)
	f.mgr.SetCacheSize(2)
	ctx := context.Background()

	for _, tenant := range []string{"t1", "t2", "t3"} {
		// Stagger expirations so eviction order is deterministic.
		f.lifetime += time.Minute
		if _, err := f.mgr.GetClient(ctx, tenant); err != nil {
			t.Fatalf("GetClient(%s) failed: %v", tenant, err)
		}
	}

	if got := f.mgr.CachedTenants(); got > 2 {
		t.Errorf("CachedTenants() = %d, want <= 2", got)
	}
}

// expiredErr mimics a smithy API error with an expired-token code.
type expiredErr struct{ code string }

func (e *expiredErr) Error() string                 { return "api error " + e.code }
func (e *expiredErr) ErrorCode() string             { return e.code }
func (e *expiredErr) ErrorMessage() string          { return "token expired" }
func (e *expiredErr) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

func TestIsExpiredCredentials(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"structured ExpiredToken", &expiredErr{code: "ExpiredToken"}, true},
		{"structured RequestExpired", &expiredErr{code: "RequestExpired"}, true},
		{"structured other", &expiredErr{code: "AccessDenied"}, false},
		{"message fallback", errors.New("operation failed: ExpiredToken: credentials lapsed"), true},
		{"plain error", errors.New("connection refused"), false},
		{"wrapped", fmt.Errorf("put failed: %w", &expiredErr{code: "ExpiredToken"}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpiredCredentials(tt.err); got != tt.want {
				t.Errorf("IsExpiredCredentials(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRefreshingClientRetriesOnExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// First call fails expired, second succeeds after the forced refresh.
	f.client.PutErr = func(call int) error {
		if call == 1 {
			return &expiredErr{code: "RequestExpired"}
		}
		return nil
	}

	rc := f.mgr.RefreshingClient("t1")
	err := rc.Do(ctx, func(c cloud.ObjectClient) error {
		return c.PutObject(ctx, "b", "k", nil, 0)
	})
	if err != nil {
		t.Fatalf("Do() should succeed after refresh: %v", err)
	}
	if f.client.Puts() != 2 {
		t.Errorf("puts = %d, want 2", f.client.Puts())
	}
	if f.fetches != 2 {
		t.Errorf("fetches = %d, want 2 (initial + one forced refresh)", f.fetches)
	}
}

func TestRefreshingClientBoundedRefreshes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	persistent := &expiredErr{code: "ExpiredToken"}
	f.client.PutErr = func(call int) error { return persistent }

	rc := f.mgr.RefreshingClient("t1")
	err := rc.Do(ctx, func(c cloud.ObjectClient) error {
		return c.PutObject(ctx, "b", "k", nil, 0)
	})
	if err == nil {
		t.Fatal("Do() should fail when every attempt reports expiry")
	}
	if !errors.Is(err, persistent) && !IsExpiredCredentials(err) {
		t.Errorf("Do() should return the original failure, got %v", err)
	}

	// Initial attempt + 3 forced-refresh retries.
	if f.client.Puts() != 4 {
		t.Errorf("puts = %d, want 4", f.client.Puts())
	}
	// Initial fetch + 3 forced refreshes.
	if f.fetches != 4 {
		t.Errorf("fetches = %d, want 4", f.fetches)
	}
}

func TestRefreshingClientNonExpiredErrorReturnsImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	boom := errors.New("connection reset")
	f.client.PutErr = func(call int) error { return boom }

	rc := f.mgr.RefreshingClient("t1")
	err := rc.Do(ctx, func(c cloud.ObjectClient) error {
		return c.PutObject(ctx, "b", "k", nil, 0)
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Do() = %v, want the original error", err)
	}
	if f.client.Puts() != 1 {
		t.Errorf("puts = %d, want 1 (no retry for non-credential failures)", f.client.Puts())
	}
}
