package accounting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pop-reconciliation-backend/internal/models"
	"pop-reconciliation-backend/internal/repository"
	"pop-reconciliation-backend/internal/testutil"
)

type fakeXero struct {
	server *httptest.Server

	mu           sync.Mutex
	tokenGrants  []string
	tenantHeader string
	authHeader   string
}

func (f *fakeXero) grants() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokenGrants...)
}

func (f *fakeXero) tenant() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tenantHeader
}

func (f *fakeXero) bearer() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authHeader
}

func newFakeXero(t *testing.T) *fakeXero {
	f := &fakeXero{}
	mux := http.NewServeMux()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, r.ParseForm())

		grant := r.PostForm.Get("grant_type")
		f.mu.Lock()
		f.tokenGrants = append(f.tokenGrants, grant)
		f.mu.Unlock()
		if r.PostForm.Get("code") == "bad" || r.PostForm.Get("refresh_token") == "revoked" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "access-" + grant,
			"refresh_token": "refresh-1",
			"expires_in":    1800,
		})
	})

	mux.HandleFunc("/connections", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-authorization_code", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([]map[string]string{{"tenantId": "tenant-1"}})
	})

	mux.HandleFunc("/api/Invoices", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.tenantHeader = r.Header.Get("Xero-tenant-id")
		f.authHeader = r.Header.Get("Authorization")
		f.mu.Unlock()
		assert.Equal(t, "AUTHORISED,PAID", r.URL.Query().Get("Statuses"))
		_, _ = w.Write([]byte(`{"Invoices": [
			{"InvoiceID": "x-1", "InvoiceNumber": "INV-001", "Contact": {"Name": "Acme"},
			 "AmountDue": 100.5, "AmountPaid": 0, "Date": "/Date(1718064000000+0000)/",
			 "DueDateString": "2024-07-11T00:00:00", "Status": "AUTHORISED", "CurrencyCode": "ZAR"},
			{"InvoiceID": "x-2", "InvoiceNumber": "INV-002", "Contact": {"Name": "Beta"},
			 "AmountDue": 0, "AmountPaid": 40, "Status": "PAID", "CurrencyCode": "ZAR"}
		]}`))
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeXero) endpoints() Endpoints {
	return Endpoints{
		AuthorizeURL:   f.server.URL + "/authorize",
		TokenURL:       f.server.URL + "/token",
		ConnectionsURL: f.server.URL + "/connections",
		APIBaseURL:     f.server.URL + "/api",
	}
}

func setup(t *testing.T) (*XeroClient, *fakeXero, *repository.InvoiceRepository, *repository.TokenRepository) {
	db := testutil.NewTestDB(t)
	tokens := repository.NewTokenRepository(db)
	invoices := repository.NewInvoiceRepository(db)
	fake := newFakeXero(t)

	client := NewXeroClient("client", "secret", "http://localhost/callback", tokens, invoices).
		WithEndpoints(fake.endpoints())
	return client, fake, invoices, tokens
}

func TestAuthURL(t *testing.T) {
	client, fake, _, _ := setup(t)

	raw, err := client.AuthURL("state-1")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, fake.server.URL+"/authorize", u.Scheme+"://"+u.Host+u.Path)
	assert.Equal(t, "code", u.Query().Get("response_type"))
	assert.Equal(t, "client", u.Query().Get("client_id"))
	assert.Equal(t, Scopes, u.Query().Get("scope"))
	assert.Equal(t, "state-1", u.Query().Get("state"))

	_, err = NewXeroClient("", "", "", nil, nil).AuthURL("s")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestExchangeCodeAndSync(t *testing.T) {
	client, fake, invoices, _ := setup(t)
	ctx := context.Background()

	tenant, err := client.ExchangeCode(ctx, "good", DefaultTokenIdentifier)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tenant)

	count, err := client.SyncInvoices(ctx, DefaultTokenIdentifier)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, "tenant-1", fake.tenant())
	assert.Equal(t, "Bearer access-authorization_code", fake.bearer())
	assert.Equal(t, []string{"authorization_code"}, fake.grants())

	open, err := invoices.ListOpenUnlinked(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	inv := open[0]
	assert.Equal(t, "x-1", inv.ExternalID)
	assert.Equal(t, "Acme", inv.ContactName)
	assert.Equal(t, "100.5", inv.AmountDue.String())
	assert.True(t, models.SameDate(models.NewDate(time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC)), inv.Date))
	assert.True(t, models.SameDate(models.NewDate(time.Date(2024, 7, 11, 0, 0, 0, 0, time.UTC)), inv.DueDate))

	again, err := client.SyncInvoices(ctx, DefaultTokenIdentifier)
	require.NoError(t, err)
	assert.Equal(t, 2, again)
	all, err := invoices.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2, "sync upserts by external id")
}

func TestExchangeCodeFailure(t *testing.T) {
	client, _, _, _ := setup(t)

	_, err := client.ExchangeCode(context.Background(), "bad", DefaultTokenIdentifier)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestSyncWithoutConnection(t *testing.T) {
	client, _, _, _ := setup(t)

	_, err := client.SyncInvoices(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestExpiredTokenIsRefreshed(t *testing.T) {
	client, fake, _, tokens := setup(t)
	ctx := context.Background()

	require.NoError(t, tokens.Save(ctx, &models.XeroToken{
		TokenIdentifier: "ops",
		AccessToken:     "stale",
		RefreshToken:    "refresh-0",
		TenantID:        "tenant-9",
		ExpiresAt:       time.Now().Add(-time.Minute),
	}))

	_, err := client.SyncInvoices(ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, []string{"refresh_token"}, fake.grants())

	stored, err := tokens.Get(ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, "access-refresh_token", stored.AccessToken)
	assert.Equal(t, "refresh-1", stored.RefreshToken)
	assert.Equal(t, "tenant-9", stored.TenantID)
	assert.True(t, stored.ExpiresAt.After(time.Now()))
	assert.Equal(t, "Bearer access-refresh_token", fake.bearer())

	_, err = client.SyncInvoices(ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, []string{"refresh_token"}, fake.grants(), "the saved token is reused")
}

func TestValidTokenIsNotRefreshed(t *testing.T) {
	client, fake, _, tokens := setup(t)
	ctx := context.Background()

	require.NoError(t, tokens.Save(ctx, &models.XeroToken{
		TokenIdentifier: "ops",
		AccessToken:     "live",
		RefreshToken:    "refresh-0",
		TenantID:        "tenant-9",
		ExpiresAt:       time.Now().Add(time.Hour),
	}))

	_, err := client.SyncInvoices(ctx, "ops")
	require.NoError(t, err)
	assert.Empty(t, fake.grants())
	assert.Equal(t, "Bearer live", fake.bearer())
	assert.Equal(t, "tenant-9", fake.tenant())
}

func TestRefreshFailures(t *testing.T) {
	t.Run("Revoked refresh token", func(t *testing.T) {
		client, _, _, tokens := setup(t)
		ctx := context.Background()
		require.NoError(t, tokens.Save(ctx, &models.XeroToken{
			TokenIdentifier: "ops",
			AccessToken:     "stale",
			RefreshToken:    "revoked",
			ExpiresAt:       time.Now().Add(-time.Minute),
		}))

		_, err := client.SyncInvoices(ctx, "ops")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid_grant")

		stored, err := tokens.Get(ctx, "ops")
		require.NoError(t, err)
		assert.Equal(t, "stale", stored.AccessToken)
	})

	t.Run("Client not configured", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		tokens := repository.NewTokenRepository(db)
		ctx := context.Background()
		require.NoError(t, tokens.Save(ctx, &models.XeroToken{
			TokenIdentifier: "ops",
			AccessToken:     "stale",
			RefreshToken:    "refresh-0",
			ExpiresAt:       time.Now().Add(-time.Minute),
		}))

		client := NewXeroClient("", "", "", tokens, repository.NewInvoiceRepository(db))
		_, err := client.SyncInvoices(ctx, "ops")
		assert.ErrorIs(t, err, ErrNotConfigured)
	})
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"/Date(1718064000000+0000)/", time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC), true},
		{"/Date(1718064000000)/", time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC), true},
		{"2024-07-11T00:00:00", time.Date(2024, 7, 11, 0, 0, 0, 0, time.UTC), true},
		{"2024-07-11", time.Date(2024, 7, 11, 0, 0, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"soon", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, models.SameDate(models.NewDate(tt.want), got))
			}
		})
	}
}
