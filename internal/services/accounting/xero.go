// Package accounting is a thin client for the Xero accounting API: OAuth
// connect, token storage and invoice sync into the ledger.
package accounting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/datatypes"

	"pop-reconciliation-backend/internal/models"
	"pop-reconciliation-backend/internal/repository"
	"pop-reconciliation-backend/internal/telemetry"
)

const Scopes = "offline_access accounting.transactions accounting.contacts.read"

// DefaultTokenIdentifier is used when the caller does not name a connection.
const DefaultTokenIdentifier = "default"

var (
	ErrNotConfigured = errors.New("xero client id, secret and redirect uri are required")
	ErrNotConnected  = errors.New("no xero connection found")
	ErrNoTenant      = errors.New("no xero organisation connected")
)

type Endpoints struct {
	AuthorizeURL   string
	TokenURL       string
	ConnectionsURL string
	APIBaseURL     string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		AuthorizeURL:   "https://login.xero.com/identity/connect/authorize",
		TokenURL:       "https://identity.xero.com/connect/token",
		ConnectionsURL: "https://api.xero.com/connections",
		APIBaseURL:     "https://api.xero.com/api.xro/2.0",
	}
}

type XeroClient struct {
	oauth      *oauth2.Config
	endpoints  Endpoints
	httpClient *http.Client
	tokens     *repository.TokenRepository
	invoices   *repository.InvoiceRepository
}

func NewXeroClient(clientID, clientSecret, redirectURI string, tokens *repository.TokenRepository, invoices *repository.InvoiceRepository) *XeroClient {
	c := &XeroClient{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       strings.Fields(Scopes),
		},
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
		invoices:   invoices,
	}
	return c.WithEndpoints(DefaultEndpoints())
}

func (c *XeroClient) WithEndpoints(e Endpoints) *XeroClient {
	c.endpoints = e
	c.oauth.Endpoint = oauth2.Endpoint{
		AuthURL:   e.AuthorizeURL,
		TokenURL:  e.TokenURL,
		AuthStyle: oauth2.AuthStyleInHeader,
	}
	return c
}

func (c *XeroClient) configured() bool {
	return c.oauth.ClientID != "" && c.oauth.ClientSecret != "" && c.oauth.RedirectURL != ""
}

// withHTTPClient makes the oauth2 package use the client's timeouts.
func (c *XeroClient) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// AuthURL is the consent page the user is sent to. state is echoed back on
// the callback.
func (c *XeroClient) AuthURL(state string) (string, error) {
	if c.oauth.ClientID == "" || c.oauth.RedirectURL == "" {
		return "", ErrNotConfigured
	}
	return c.oauth.AuthCodeURL(state), nil
}

type connection struct {
	TenantID string `json:"tenantId"`
}

// ExchangeCode trades an authorization code for tokens, resolves the first
// connected organisation and stores both under tokenIdentifier.
func (c *XeroClient) ExchangeCode(ctx context.Context, code, tokenIdentifier string) (string, error) {
	if !c.configured() {
		return "", ErrNotConfigured
	}
	ctx = c.withHTTPClient(ctx)

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return "", tokenError("failed to exchange token", err)
	}

	var conns []connection
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	if err := getJSON(ctx, client, c.endpoints.ConnectionsURL, "", &conns); err != nil {
		return "", fmt.Errorf("list connections: %w", err)
	}
	if len(conns) == 0 || conns[0].TenantID == "" {
		return "", ErrNoTenant
	}

	record := &models.XeroToken{
		TokenIdentifier: tokenIdentifier,
		AccessToken:     tok.AccessToken,
		RefreshToken:    tok.RefreshToken,
		TenantID:        conns[0].TenantID,
		ExpiresAt:       tok.Expiry,
	}
	if err := c.tokens.Save(ctx, record); err != nil {
		return "", fmt.Errorf("save xero token: %w", err)
	}

	telemetry.Logger.Info("Xero connected",
		zap.String("token_identifier", tokenIdentifier),
		zap.String("tenant_id", record.TenantID),
	)
	return record.TenantID, nil
}

func tokenError(msg string, err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.ErrorCode != "" {
		return fmt.Errorf("%s: %s", msg, rErr.ErrorCode)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// storedTokenSource refreshes through the oauth2 config and writes every new
// token back to the token table.
type storedTokenSource struct {
	ctx    context.Context
	base   oauth2.TokenSource
	tokens *repository.TokenRepository
	record *models.XeroToken
}

func (s *storedTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, tokenError("refresh xero token", err)
	}
	if tok.AccessToken == s.record.AccessToken {
		return tok, nil
	}

	s.record.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		s.record.RefreshToken = tok.RefreshToken
	}
	s.record.ExpiresAt = tok.Expiry
	if err := s.tokens.Save(s.ctx, s.record); err != nil {
		return nil, fmt.Errorf("save refreshed token: %w", err)
	}
	telemetry.Logger.Info("Xero token refreshed",
		zap.String("token_identifier", s.record.TokenIdentifier),
	)
	return tok, nil
}

// client returns an HTTP client authorised for tokenIdentifier. An expired
// token is refreshed on first use.
func (c *XeroClient) client(ctx context.Context, tokenIdentifier string) (*http.Client, *models.XeroToken, error) {
	record, err := c.tokens.Get(ctx, tokenIdentifier)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrNotConnected
	}
	if err != nil {
		return nil, nil, err
	}
	if record.AccessToken == "" {
		return nil, nil, ErrNotConnected
	}

	ctx = c.withHTTPClient(ctx)
	tok := &oauth2.Token{
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       record.ExpiresAt,
	}
	if !tok.Valid() && !c.configured() {
		return nil, nil, ErrNotConfigured
	}

	src := &storedTokenSource{
		ctx:    ctx,
		base:   c.oauth.TokenSource(ctx, tok),
		tokens: c.tokens,
		record: record,
	}
	return oauth2.NewClient(ctx, src), record, nil
}

type xeroContact struct {
	Name string `json:"Name"`
}

type xeroInvoice struct {
	InvoiceID     string          `json:"InvoiceID"`
	InvoiceNumber string          `json:"InvoiceNumber"`
	Contact       xeroContact     `json:"Contact"`
	AmountDue     decimal.Decimal `json:"AmountDue"`
	AmountPaid    decimal.Decimal `json:"AmountPaid"`
	DateString    string          `json:"DateString"`
	DueDateString string          `json:"DueDateString"`
	Date          string          `json:"Date"`
	DueDate       string          `json:"DueDate"`
	Status        string          `json:"Status"`
	CurrencyCode  string          `json:"CurrencyCode"`
}

type invoicesResponse struct {
	Invoices []xeroInvoice `json:"Invoices"`
}

// FetchInvoices reads AUTHORISED and PAID invoices for the connection.
func (c *XeroClient) FetchInvoices(ctx context.Context, tokenIdentifier string) ([]models.Invoice, error) {
	client, record, err := c.client(ctx, tokenIdentifier)
	if err != nil {
		return nil, err
	}

	var body invoicesResponse
	endpoint := c.endpoints.APIBaseURL + "/Invoices?Statuses=AUTHORISED,PAID"
	if err := getJSON(ctx, client, endpoint, record.TenantID, &body); err != nil {
		return nil, fmt.Errorf("failed to fetch invoices: %w", err)
	}

	out := make([]models.Invoice, 0, len(body.Invoices))
	for _, inv := range body.Invoices {
		out = append(out, models.Invoice{
			ExternalID:    inv.InvoiceID,
			InvoiceNumber: inv.InvoiceNumber,
			ContactName:   inv.Contact.Name,
			AmountDue:     inv.AmountDue,
			AmountPaid:    inv.AmountPaid,
			Date:          firstDate(inv.DateString, inv.Date),
			DueDate:       firstDate(inv.DueDateString, inv.DueDate),
			Status:        inv.Status,
			CurrencyCode:  inv.CurrencyCode,
		})
	}
	return out, nil
}

// SyncInvoices fetches invoices and upserts them by external id.
func (c *XeroClient) SyncInvoices(ctx context.Context, tokenIdentifier string) (int, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "accounting.SyncInvoices")
	defer span.End()

	invoices, err := c.FetchInvoices(ctx, tokenIdentifier)
	if err != nil {
		return 0, err
	}
	for i := range invoices {
		if err := c.invoices.Upsert(ctx, &invoices[i]); err != nil {
			return i, fmt.Errorf("upsert invoice %s: %w", invoices[i].ExternalID, err)
		}
	}

	telemetry.Logger.Info("Xero invoices synced",
		zap.String("token_identifier", tokenIdentifier),
		zap.Int("count", len(invoices)),
	)
	return len(invoices), nil
}

// getJSON issues a GET through an oauth2 client, which sets the bearer
// header.
func getJSON(ctx context.Context, client *http.Client, endpoint, tenantID string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if tenantID != "" {
		req.Header.Set("Xero-tenant-id", tenantID)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var msDateRe = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// ParseDate reads the provider's `/Date(ms+zone)/` form or an ISO string.
func ParseDate(s string) (datatypes.Date, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return datatypes.Date{}, false
	}
	if m := msDateRe.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return datatypes.Date{}, false
		}
		return models.NewDate(time.UnixMilli(ms).UTC()), true
	}
	d, err := models.ParseDate(s)
	if err != nil {
		return datatypes.Date{}, false
	}
	return d, true
}

func firstDate(values ...string) datatypes.Date {
	for _, v := range values {
		if d, ok := ParseDate(v); ok {
			return d
		}
	}
	return datatypes.Date{}
}
