package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetRates_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/simple/price" {
			t.Fatalf("path = %s, want /simple/price", r.URL.Path)
		}
		if got := r.URL.Query().Get("ids"); got != "tether" {
			t.Fatalf("ids = %s, want tether", got)
		}
		if got := r.URL.Query().Get("vs_currencies"); got != "usd" {
			t.Fatalf("vs_currencies = %s, want usd", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tether":{"usd":0.999}}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rates, err := client.GetRates(ctx, []string{"tether"}, []string{"usd"})
	if err != nil {
		t.Fatalf("GetRates error: %v", err)
	}
	if rates["tether"]["usd"] != 0.999 {
		t.Fatalf("unexpected rates: %+v", rates)
	}
}

func TestGetRates_Unconfigured(t *testing.T) {
	var client *Client
	if _, err := client.GetRates(context.Background(), []string{"tether"}, []string{"usd"}); err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}
