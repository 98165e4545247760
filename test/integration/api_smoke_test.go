package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/storefront/internal/app/apiapp"
	"github.com/ivankudzin/storefront/internal/config"
	authsvc "github.com/ivankudzin/storefront/internal/services/auth"
	"github.com/ivankudzin/storefront/internal/services/gateway"
)

const sandboxSecret = "smoke-secret"

func smokeConfig() config.Config {
	cfg := config.Default()
	cfg.HTTP.Addr = ":0"
	cfg.Storage.Driver = "memory"
	cfg.Redis.Addr = ""
	cfg.S3.Endpoint = ""
	cfg.Gateway.KeySecret = sandboxSecret
	cfg.Auth.JWTSecret = "smoke-jwt"
	cfg.Notify.Channels = []string{"log"}
	cfg.Catalog = []config.CatalogItemConfig{
		{Type: "course", ID: "go-masterclass", Title: "Go Masterclass", Price: 499900, Currency: "INR", Available: true},
	}
	return cfg
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	app, err := apiapp.New(context.Background(), smokeConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	ts := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})
	return ts
}

func TestHealthz(t *testing.T) {
	ts := newServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", resp.StatusCode, http.StatusOK)
	}

	var payload struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !payload.OK {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestCheckoutFlowOverHTTP(t *testing.T) {
	ts := newServer(t)

	token, _, err := authsvc.NewJWTManager("smoke-jwt", time.Minute).Issue(77, "buyer@example.com", "customer")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	body, _ := json.Marshal(map[string]any{"item_type": "course", "item_id": "go-masterclass"})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/checkout/orders", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create order: unexpected status %d", resp.StatusCode)
	}
	var order struct {
		OrderID  string `json:"order_id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		t.Fatalf("decode order: %v", err)
	}

	signer := gateway.NewSandbox(sandboxSecret)
	proof, _ := json.Marshal(map[string]string{
		"order_id":   order.OrderID,
		"payment_id": "pay_smoke",
		"signature":  signer.SignProof(order.OrderID, "pay_smoke", order.Amount, order.Currency),
	})
	done, err := http.Post(ts.URL+"/v1/checkout/complete", "application/json", bytes.NewReader(proof))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	defer done.Body.Close()
	if done.StatusCode != http.StatusOK {
		t.Fatalf("complete: unexpected status %d", done.StatusCode)
	}
	var completion struct {
		Status    string `json:"status"`
		AccessURL string `json:"access_url"`
	}
	if err := json.NewDecoder(done.Body).Decode(&completion); err != nil {
		t.Fatalf("decode completion: %v", err)
	}
	if completion.Status != "completed" || completion.AccessURL == "" {
		t.Fatalf("unexpected completion: %+v", completion)
	}

	metrics, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer metrics.Body.Close()
	if metrics.StatusCode != http.StatusOK {
		t.Fatalf("metrics: unexpected status %d", metrics.StatusCode)
	}
}

func TestOperatorRoutesRequireRole(t *testing.T) {
	ts := newServer(t)

	token, _, err := authsvc.NewJWTManager("smoke-jwt", time.Minute).Issue(77, "buyer@example.com", "customer")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/admin/orders/stalled", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get stalled: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for customer role, got %d", resp.StatusCode)
	}
}
