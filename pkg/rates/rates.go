// Package rates looks up currency conversion rates and converts foreign
// amounts into home-currency minor units.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Client fetches conversion rates from the external rate service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a rate client for the given service base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type ratesResponse struct {
	Result string             `json:"result"`
	Rates  map[string]float64 `json:"rates"`
}

// Rate returns the conversion rate from one currency to another.
func (c *Client) Rate(ctx context.Context, from, to string) (float64, error) {
	url := fmt.Sprintf("%s/v6/latest/%s", c.baseURL, from)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build rate request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("rate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rate service returned status %d", resp.StatusCode)
	}

	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode rate response: %w", err)
	}

	if body.Result != "success" {
		return 0, fmt.Errorf("rate service reported result %q", body.Result)
	}

	rate, ok := body.Rates[to]
	if !ok {
		return 0, fmt.Errorf("no rate for %s in response", to)
	}
	return rate, nil
}

// ConvertMinor converts amount at rate and rounds half-away-from-zero to
// integer minor units of the target currency.
func ConvertMinor(amount, rate float64) int64 {
	return int64(math.Round(amount * rate))
}
