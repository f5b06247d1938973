// Package mgc is the HTTP client for the consent-management service
// (MGC), the upstream authority for privacy policies.
package mgc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/IgorTelles9/gateway-privacidade/internal/policy"
)

const defaultTimeout = 5 * time.Second

// Client fetches consent records from the MGC over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the MGC at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// FetchPolicy returns the consent record for (device, subject), or
// (nil, nil) when the subject has no consent covering the device.
// Network failures and non-2xx responses are returned as errors; the
// caller treats both as "no policy".
func (c *Client) FetchPolicy(ctx context.Context, deviceID, subjectID string) (policy.PrivacyPolicy, error) {
	endpoint := fmt.Sprintf("%s/consentimentos/titular/%s", c.baseURL, url.PathEscape(subjectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build consent request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch consents for titular %s: %w", subjectID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch consents for titular %s: unexpected status %d", subjectID, resp.StatusCode)
	}

	var consents []policy.PrivacyPolicy
	if err := json.NewDecoder(resp.Body).Decode(&consents); err != nil {
		return nil, fmt.Errorf("decode consents for titular %s: %w", subjectID, err)
	}

	for _, consent := range consents {
		if consent.DeviceID() == deviceID {
			return consent, nil
		}
	}
	return nil, nil
}
