package upstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	registry "civicsync/internal/registry/domain"
	"civicsync/internal/upstream"
)

func TestFetchBillSendsCredentialAndDecodes(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/utilities/fetch-bill" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"unpaid","amount_due":512.75,"consumer_name":"A Kumar","units_consumed":143}`))
	}))
	defer server.Close()

	client, err := upstream.NewClient(server.URL, "tok-123")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	bill, err := client.FetchBill(context.Background(), "kseb", "1156", "")
	if err != nil {
		t.Fatalf("fetch bill: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("credential not attached, got %q", gotAuth)
	}
	if gotBody["service_type"] != "kseb" || gotBody["consumer_id"] != "1156" {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
	if _, ok := gotBody["number_plate"]; ok {
		t.Fatalf("empty number plate must be omitted")
	}
	if bill.AmountDue != 512.75 || bill.UnitsConsumed == nil || *bill.UnitsConsumed != 143 {
		t.Fatalf("unexpected bill: %+v", bill)
	}
}

func TestErrorStatusSurfacesDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"detail":"portal timeout"}`))
	}))
	defer server.Close()

	client, err := upstream.NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.FetchBill(context.Background(), "kwa", "22", ""); err == nil {
		t.Fatalf("expected an error for non-2xx status")
	}
}

func TestTransportFailureWrapsErrUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client, err := upstream.NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.ListProfiles(context.Background())
	if !errors.Is(err, upstream.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestAnalyzeSendsExplicitNullCoordinates(t *testing.T) {
	var raw map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"report":{"description":"flood","severity":"P2"}}`))
	}))
	defer server.Close()

	client, err := upstream.NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	resp, err := client.AnalyzeDisaster(context.Background(), upstream.AnalysisRequest{ImageBase64: "aW1n"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !resp.Success || resp.Report == nil || resp.Report.Severity != "P2" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// Coordinate fields are present and null, not omitted: the backend
	// distinguishes "no fix" from a missing field.
	lat, ok := raw["device_latitude"]
	if !ok || string(lat) != "null" {
		t.Fatalf("device_latitude must serialize as null, got %q", lat)
	}
	lon, ok := raw["device_longitude"]
	if !ok || string(lon) != "null" {
		t.Fatalf("device_longitude must serialize as null, got %q", lon)
	}
}

func TestAddAccountHitsProfileScopedPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/profiles/prof-1/accounts" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"acct-9","service_type":"echallan","consumer_id":"KL07","number_plate":"KL-07-AB-1234"}`))
	}))
	defer server.Close()

	client, err := upstream.NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	account, err := client.AddAccount(context.Background(), "prof-1", registry.AccountDraft{
		ServiceType: registry.ServiceChallan,
		ConsumerID:  "KL07",
		NumberPlate: "KL-07-AB-1234",
	})
	if err != nil {
		t.Fatalf("add account: %v", err)
	}
	if account.ID != "acct-9" || account.ServiceType != registry.ServiceChallan {
		t.Fatalf("unexpected account: %+v", account)
	}
}
