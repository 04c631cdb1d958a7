// Package rates предоставляет получение и кэширование курсов стейблкоинов.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с провайдером курсов (Coingecko-совместимое API).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент провайдера курсов по указанному адресу.
// Сетевые ретраи делегированы retryablehttp.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

// GetRates запрашивает курсы указанных активов к указанным валютам.
// Ответ имеет вид {"tether":{"usd":1.0}}.
func (c *Client) GetRates(ctx context.Context, assets, currencies []string) (map[string]map[string]float64, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("rates client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	q := url.Values{}
	q.Set("ids", strings.Join(assets, ","))
	q.Set("vs_currencies", strings.Join(currencies, ","))

	reqURL := fmt.Sprintf("%s/simple/price?%s", base, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return result, nil
}
