// Command fake_upstream is a development stand-in for the civic utility
// backend. It implements the subset of the upstream HTTP API that civicsync
// talks to, with configurable latency and failure injection so cache,
// refresh, and reconciliation paths can be exercised without real
// utility board connectivity.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

type fakeBackend struct {
	mu       sync.Mutex
	latency  time.Duration
	failRate float64

	profileSeq int
	profiles   map[string]map[string]any
	accounts   map[string]map[string]any
	payments   map[string]map[string]any

	calls map[string]int
}

func newFakeBackend(latency time.Duration, failRate float64) *fakeBackend {
	return &fakeBackend{
		latency:  latency,
		failRate: failRate,
		profiles: map[string]map[string]any{},
		accounts: map[string]map[string]any{},
		payments: map[string]map[string]any{},
		calls:    map[string]int{},
	}
}

func (f *fakeBackend) recordCall(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeBackend) simulate() bool {
	if f.latency > 0 {
		time.Sleep(f.latency)
	}
	return f.failRate > 0 && rand.Float64() < f.failRate
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeBackend) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (f *fakeBackend) handleCalls(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	out := make(map[string]int, len(f.calls))
	for k, v := range f.calls {
		out[k] = v
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (f *fakeBackend) handleProfiles(w http.ResponseWriter, r *http.Request) {
	f.recordCall("profiles")
	rest := strings.TrimPrefix(r.URL.Path, "/api/profiles/")

	switch {
	case rest == "" && r.Method == http.MethodGet:
		f.mu.Lock()
		list := make([]map[string]any, 0, len(f.profiles))
		for _, p := range f.profiles {
			list = append(list, p)
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, list)
	case rest == "" && r.Method == http.MethodPost:
		var in struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid body"})
			return
		}
		f.mu.Lock()
		f.profileSeq++
		id := fmt.Sprintf("prof-%d", f.profileSeq)
		p := map[string]any{"id": id, "name": in.Name, "accounts": []any{}}
		f.profiles[id] = p
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, p)
	case strings.HasSuffix(rest, "/accounts") && r.Method == http.MethodPost:
		f.handleAddAccount(w, r, strings.TrimSuffix(rest, "/accounts"))
	case r.Method == http.MethodDelete && !strings.Contains(rest, "/"):
		f.mu.Lock()
		delete(f.profiles, rest)
		for id, acc := range f.accounts {
			if acc["profile_id"] == rest {
				delete(f.accounts, id)
			}
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case strings.Contains(rest, "/accounts/") && r.Method == http.MethodDelete:
		parts := strings.SplitN(rest, "/accounts/", 2)
		f.mu.Lock()
		delete(f.accounts, parts[1])
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "not found"})
	}
}

func (f *fakeBackend) handleAddAccount(w http.ResponseWriter, r *http.Request, profileID string) {
	var in map[string]any
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid body"})
		return
	}
	if f.simulate() {
		writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "registration backend unavailable"})
		return
	}
	f.mu.Lock()
	f.profileSeq++
	id := fmt.Sprintf("acct-%d", f.profileSeq)
	in["id"] = id
	in["profile_id"] = profileID
	f.accounts[id] = in
	if p, ok := f.profiles[profileID]; ok {
		p["accounts"] = append(p["accounts"].([]any), in)
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusCreated, in)
}

func (f *fakeBackend) handleFetchBill(w http.ResponseWriter, r *http.Request) {
	f.recordCall("fetch-bill")
	var in struct {
		ServiceType string `json:"service_type"`
		ConsumerID  string `json:"consumer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid body"})
		return
	}
	if f.simulate() {
		writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "board portal timeout"})
		return
	}
	// Deterministic per consumer id so repeated fetches agree.
	seed := 0
	for _, c := range in.ConsumerID {
		seed += int(c)
	}
	amount := float64(200+seed%800) + 0.50
	status := "unpaid"
	if seed%5 == 0 {
		status = "paid"
		amount = 0
	}
	units := float64(40 + seed%260)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"amount_due":     amount,
		"units_consumed": units,
		"consumer_name":  "Demo Consumer " + in.ConsumerID,
		"due_date":       time.Now().AddDate(0, 0, 12).Format("2006-01-02"),
		"billing_period": time.Now().Format("Jan 2006"),
	})
}

func (f *fakeBackend) handleHistory(w http.ResponseWriter, r *http.Request) {
	f.recordCall("history")
	if f.simulate() {
		writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "history backend unavailable"})
		return
	}
	entries := make([]map[string]any, 0, 6)
	now := time.Now()
	for i := 5; i >= 0; i-- {
		m := now.AddDate(0, -i, 0)
		entries = append(entries, map[string]any{
			"date":   m.Format("Jan 2006"),
			"amount": float64(300 + (i*57)%400),
			"units":  float64(80 + (i*31)%120),
			"status": "paid",
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (f *fakeBackend) handleChartData(w http.ResponseWriter, r *http.Request) {
	f.recordCall("chart-data")
	var in struct {
		Accounts []struct {
			ID          string `json:"id"`
			ServiceType string `json:"service_type"`
		} `json:"accounts"`
		BillData map[string]map[string]any `json:"bill_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid body"})
		return
	}
	if f.simulate() {
		writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "chart backend unavailable"})
		return
	}
	totals := map[string]float64{}
	for _, account := range in.Accounts {
		bill, ok := in.BillData[account.ID]
		if !ok {
			continue
		}
		if isErr, _ := bill["error"].(bool); isErr {
			continue
		}
		amt, _ := bill["amount_due"].(float64)
		totals[account.ServiceType] += amt
	}
	comparison := make([]map[string]any, 0, len(totals))
	for svc, total := range totals {
		comparison = append(comparison, map[string]any{"service": svc, "amount": total, "fill": "#d97706"})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"comparison_data": comparison,
		"trend_data":      []any{},
		"trend_lines":     []any{},
	})
}

func (f *fakeBackend) handlePayments(w http.ResponseWriter, r *http.Request) {
	f.recordCall("payments")
	rest := strings.TrimPrefix(r.URL.Path, "/api/payments/")
	switch {
	case rest == "initiate" && r.Method == http.MethodPost:
		if f.simulate() {
			writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "payment gateway unavailable"})
			return
		}
		f.mu.Lock()
		f.profileSeq++
		id := fmt.Sprintf("up-%d", f.profileSeq)
		f.payments[id] = map[string]any{"id": id, "status": "pending", "created": time.Now()}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"session_id":     id,
			"qr_code_base64": "aVZCT1J3MEtHZ28=",
		})
	case strings.HasPrefix(rest, "status/") && r.Method == http.MethodGet:
		id := strings.TrimPrefix(rest, "status/")
		f.mu.Lock()
		p, ok := f.payments[id]
		var status string
		if ok {
			// Settle a payment roughly ten seconds after initiation.
			status = p["status"].(string)
			if created, _ := p["created"].(time.Time); status == "pending" && time.Since(created) > 10*time.Second {
				status = "completed"
				p["status"] = status
			}
		}
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "unknown payment"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	case strings.HasPrefix(rest, "confirm/") && r.Method == http.MethodPost:
		id := strings.TrimPrefix(rest, "confirm/")
		f.mu.Lock()
		if p, ok := f.payments[id]; ok {
			p["status"] = "completed"
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "not found"})
	}
}

func (f *fakeBackend) handleAnalyze(category string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.recordCall("analyze-" + category)
		var in struct {
			ImageBase64     string   `json:"image_base64"`
			DeviceLatitude  *float64 `json:"device_latitude"`
			DeviceLongitude *float64 `json:"device_longitude"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.ImageBase64 == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "image required"})
			return
		}
		if f.simulate() {
			writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "analysis backend unavailable"})
			return
		}
		location := "Unknown location"
		if in.DeviceLatitude != nil && in.DeviceLongitude != nil {
			location = fmt.Sprintf("%.4f, %.4f", *in.DeviceLatitude, *in.DeviceLongitude)
		}
		record := map[string]any{
			"description": "Automated assessment of submitted image",
			"severity":    "P3",
			"location":    location,
			"category":    category,
		}
		if category == "sentinel" {
			record["plate_number"] = "KL-07-XX-0000"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"report":  record,
			"authorities": []map[string]any{
				{"name": "District Control Room", "phone": "1077", "type": "control_room", "level": "district"},
			},
		})
	}
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvIntDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvFloatDefault(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	addr := getenvDefault("FAKE_UPSTREAM_ADDR", ":18000")
	latency := time.Duration(getenvIntDefault("FAKE_UPSTREAM_LATENCY_MS", 250)) * time.Millisecond
	failRate := getenvFloatDefault("FAKE_UPSTREAM_FAIL_RATE", 0.0)

	backend := newFakeBackend(latency, failRate)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", backend.handleHealth)
	mux.HandleFunc("/calls", backend.handleCalls)
	mux.HandleFunc("/api/profiles/", backend.handleProfiles)
	mux.HandleFunc("/api/utilities/fetch-bill", backend.handleFetchBill)
	mux.HandleFunc("/api/utilities/history/", backend.handleHistory)
	mux.HandleFunc("/api/utilities/chart-data", backend.handleChartData)
	mux.HandleFunc("/api/payments/", backend.handlePayments)
	mux.HandleFunc("/api/disaster/analyze", backend.handleAnalyze("disaster"))
	mux.HandleFunc("/api/sentinel/analyze", backend.handleAnalyze("sentinel"))

	log.Printf("fake upstream listening on %s (latency=%s fail_rate=%.2f)", addr, latency, failRate)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}
