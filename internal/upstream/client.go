package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	registry "civicsync/internal/registry/domain"
)

// ErrUnavailable wraps transport-level failures talking to the backend.
var ErrUnavailable = errors.New("upstream: backend unavailable")

// Client is the HTTP adapter for the civic utilities backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	fetchLimit *rate.Limiter
}

// NewClient constructs a client for the given base URL. The token, when
// non-empty, is attached as a bearer credential on every request.
func NewClient(baseURL, token string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("upstream: empty base url")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		// Bill fetches drive portal navigation upstream; keep them polite.
		fetchLimit: rate.NewLimiter(rate.Limit(4), 4),
	}, nil
}

// SetFetchLimit overrides the bill-fetch rate limit.
func (c *Client) SetFetchLimit(perSecond float64, burst int) {
	if perSecond <= 0 || burst <= 0 {
		return
	}
	c.fetchLimit = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// ListProfiles loads every profile with its accounts.
func (c *Client) ListProfiles(ctx context.Context) ([]registry.Profile, error) {
	var profiles []registry.Profile
	if err := c.doJSON(ctx, http.MethodGet, "/api/profiles/", nil, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// CreateProfile creates a named profile.
func (c *Client) CreateProfile(ctx context.Context, name string) (registry.Profile, error) {
	var created registry.Profile
	body := map[string]string{"name": name}
	if err := c.doJSON(ctx, http.MethodPost, "/api/profiles/", body, &created); err != nil {
		return registry.Profile{}, err
	}
	return created, nil
}

// DeleteProfile removes a profile.
func (c *Client) DeleteProfile(ctx context.Context, profileID string) error {
	path := "/api/profiles/" + url.PathEscape(profileID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// AddAccount registers an account under a profile.
func (c *Client) AddAccount(ctx context.Context, profileID string, draft registry.AccountDraft) (registry.Account, error) {
	var created registry.Account
	path := "/api/profiles/" + url.PathEscape(profileID) + "/accounts"
	if err := c.doJSON(ctx, http.MethodPost, path, draft, &created); err != nil {
		return registry.Account{}, err
	}
	return created, nil
}

// RemoveAccount deletes an account from a profile.
func (c *Client) RemoveAccount(ctx context.Context, profileID, accountID string) error {
	path := "/api/profiles/" + url.PathEscape(profileID) + "/accounts/" + url.PathEscape(accountID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// FetchBill retrieves the current bill for one account.
func (c *Client) FetchBill(ctx context.Context, serviceType, consumerID, numberPlate string) (BillResult, error) {
	if err := c.fetchLimit.Wait(ctx); err != nil {
		return BillResult{}, fmt.Errorf("upstream: fetch limit: %w", err)
	}
	req := map[string]any{
		"service_type": serviceType,
		"consumer_id":  consumerID,
	}
	if numberPlate != "" {
		req["number_plate"] = numberPlate
	}
	var bill BillResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/utilities/fetch-bill", req, &bill); err != nil {
		return BillResult{}, err
	}
	return bill, nil
}

// BillingHistory retrieves the ordered billing history for an account.
func (c *Client) BillingHistory(ctx context.Context, serviceType, consumerID string) ([]HistoryEntry, error) {
	path := "/api/utilities/history/" + url.PathEscape(serviceType) + "/" + url.PathEscape(consumerID)
	var history []HistoryEntry
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// ChartData asks the backend for calendar-aware chart series.
func (c *Client) ChartData(ctx context.Context, accounts []registry.Account, billData map[string]any) (ChartData, error) {
	req := map[string]any{
		"accounts":  accounts,
		"bill_data": billData,
	}
	var charts ChartData
	if err := c.doJSON(ctx, http.MethodPost, "/api/utilities/chart-data", req, &charts); err != nil {
		return ChartData{}, err
	}
	return charts, nil
}

// InitiatePayment starts a payment session for an account.
func (c *Client) InitiatePayment(ctx context.Context, accountID, serviceType, consumerID string) (PaymentResponse, error) {
	req := map[string]string{
		"account_id":   accountID,
		"service_type": serviceType,
		"consumer_id":  consumerID,
	}
	var resp PaymentResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/payments/initiate", req, &resp); err != nil {
		return PaymentResponse{}, err
	}
	return resp, nil
}

// PaymentStatus reads the settlement state of a payment session.
func (c *Client) PaymentStatus(ctx context.Context, sessionID string) (PaymentSession, error) {
	path := "/api/payments/status/" + url.PathEscape(sessionID)
	var session PaymentSession
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &session); err != nil {
		return PaymentSession{}, err
	}
	return session, nil
}

// ConfirmPayment tells the backend the user reported the payment done.
func (c *Client) ConfirmPayment(ctx context.Context, sessionID string) error {
	path := "/api/payments/confirm/" + url.PathEscape(sessionID)
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

// AnalyzeDisaster submits an image for disaster incident analysis.
func (c *Client) AnalyzeDisaster(ctx context.Context, req AnalysisRequest) (AnalysisResponse, error) {
	return c.analyze(ctx, "/api/disaster/analyze", req)
}

// AnalyzeViolation submits an image for traffic violation analysis.
func (c *Client) AnalyzeViolation(ctx context.Context, req AnalysisRequest) (AnalysisResponse, error) {
	return c.analyze(ctx, "/api/sentinel/analyze", req)
}

func (c *Client) analyze(ctx context.Context, path string, req AnalysisRequest) (AnalysisResponse, error) {
	var resp AnalysisResponse
	if err := c.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return AnalysisResponse{}, err
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("upstream: encode %s: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("upstream: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upstream: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("upstream: decode %s: %w", path, err)
	}
	return nil
}
