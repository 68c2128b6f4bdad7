package pesapal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/philiapseudo-collab/dumu-apparels/internal/metrics"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := New(Config{
		BaseURL:        server.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
	}, slog.Default(), metrics.Registry("dumu_pesapal_test"))
	return client, server
}

func TestTimeoutDefaults(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler())

	if client.timeout != 10*time.Second {
		t.Fatalf("timeout = %v, want 10s", client.timeout)
	}
	if client.submitTimeout != 30*time.Second {
		t.Fatalf("submitTimeout = %v, want 30s", client.submitTimeout)
	}

	custom := New(Config{
		BaseURL:        "http://example.invalid",
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		Timeout:        3 * time.Second,
		SubmitTimeout:  9 * time.Second,
	}, slog.Default(), metrics.Registry("dumu_pesapal_test"))
	if custom.timeout != 3*time.Second || custom.submitTimeout != 9*time.Second {
		t.Fatalf("configured timeouts = %v %v", custom.timeout, custom.submitTimeout)
	}
}

func TestSubmitOrder(t *testing.T) {
	var submitted map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/api/Auth/RequestToken", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds["consumer_key"] != "key" || creds["consumer_secret"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-1"})
	})
	mux.HandleFunc("/api/Transactions/SubmitOrderRequest", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&submitted)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"order_tracking_id":  "trk-1",
			"merchant_reference": submitted["id"],
			"redirect_url":       "https://pay.pesapal.com/iframe/trk-1",
		})
	})
	client, _ := newTestClient(t, mux)

	resp, err := client.SubmitOrder(context.Background(), OrderRequest{
		MerchantReference: "ORDER_7",
		Currency:          "KES",
		Amount:            decimal.RequireFromString("4500.00"),
		Description:       "Court Sneaker",
		CallbackURL:       "https://dumuapparels.com/payment/callback",
		Billing: BillingAddress{
			EmailAddress: "instagram_900@dumuapparels.local",
			CountryCode:  "KE",
			FirstName:    "Instagram",
			LastName:     "Customer",
		},
	})
	if err != nil {
		t.Fatalf("submit order: %v", err)
	}
	if resp.RedirectURL != "https://pay.pesapal.com/iframe/trk-1" || resp.OrderTrackingID != "trk-1" {
		t.Fatalf("unexpected response %+v", resp)
	}

	if submitted["id"] != "ORDER_7" {
		t.Fatalf("submitted id = %v", submitted["id"])
	}
	if submitted["amount"] != 4500.0 {
		t.Fatalf("submitted amount = %v", submitted["amount"])
	}
	billing, _ := submitted["billing_address"].(map[string]any)
	if billing["country_code"] != "KE" {
		t.Fatalf("billing = %v", billing)
	}
	if _, ok := submitted["notification_id"]; ok {
		t.Fatal("notification_id must be omitted when unset")
	}
}

func TestSubmitOrderErrorEnvelope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/Auth/RequestToken", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-1"})
	})
	mux.HandleFunc("/api/Transactions/SubmitOrderRequest", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "duplicate merchant reference"},
		})
	})
	client, _ := newTestClient(t, mux)

	_, err := client.SubmitOrder(context.Background(), OrderRequest{MerchantReference: "ORDER_8"})
	if err == nil {
		t.Fatal("expected error for 200 response with error object")
	}
}

func TestGetTransactionStatusNested(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/Auth/RequestToken", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-1"})
	})
	mux.HandleFunc("/api/Transactions/GetTransactionStatus", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("orderTrackingId") != "trk-9" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"order_tracking_id": "trk-9",
			"data": map[string]any{
				"payment_status_description": "Completed",
			},
		})
	})
	client, _ := newTestClient(t, mux)

	status, err := client.GetTransactionStatus(context.Background(), "trk-9")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.StatusDescription != "Completed" {
		t.Fatalf("status = %q", status.StatusDescription)
	}
}

func TestAuthFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/Auth/RequestToken", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid consumer key"},
		})
	})
	client, _ := newTestClient(t, mux)

	_, err := client.GetTransactionStatus(context.Background(), "trk-1")
	if err == nil {
		t.Fatal("expected auth error")
	}
}

func TestRegisterIPN(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/Auth/RequestToken", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-1"})
	})
	mux.HandleFunc("/api/URLSetup/RegisterIPN", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["ipn_notification_type"] != "GET" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ipn_id": "ipn-7", "url": body["url"]})
	})
	client, _ := newTestClient(t, mux)

	ipnID, err := client.RegisterIPN(context.Background(), "https://dumuapparels.com/pesapal/ipn")
	if err != nil {
		t.Fatalf("register ipn: %v", err)
	}
	if ipnID != "ipn-7" {
		t.Fatalf("ipn id = %q", ipnID)
	}
}
