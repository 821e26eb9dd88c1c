package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FreePBXProvider talks to a FreePBX-style HTTP gateway in front of the PBX.
//
// The gateway is expected to expose:
//   POST {base}/api/calls/{call_id}/hangup          graceful hangup
//   POST {base}/api/calls/{call_id}/hangup?force=1  force drop
//   GET  {base}/api/health
// authenticated with a bearer token.
//
// Keep this adapter free of business logic: it only translates commands and
// reports whether the gateway accepted them.
type FreePBXProvider struct {
	BaseURL  string
	APIToken string

	HTTPClient *http.Client
}

func NewFreePBXProvider(baseURL, apiToken string, timeout time.Duration) *FreePBXProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FreePBXProvider{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIToken:   apiToken,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (p *FreePBXProvider) Name() string { return "freepbx" }

func (p *FreePBXProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/api/health", nil)
	if err != nil {
		return err
	}
	p.authorize(req)

	resp, err := p.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telephony: pbx health returned %d", resp.StatusCode)
	}
	return nil
}

func (p *FreePBXProvider) TerminateCall(ctx context.Context, callID string) (bool, error) {
	return p.hangup(ctx, callID, false)
}

func (p *FreePBXProvider) ForceTerminateCall(ctx context.Context, callID string) (bool, error) {
	return p.hangup(ctx, callID, true)
}

type hangupResponse struct {
	Accepted bool   `json:"accepted"`
	Detail   string `json:"detail,omitempty"`
}

func (p *FreePBXProvider) hangup(ctx context.Context, callID string, force bool) (bool, error) {
	if callID == "" {
		return false, fmt.Errorf("telephony: call id is required")
	}

	u := fmt.Sprintf("%s/api/calls/%s/hangup", p.BaseURL, url.PathEscape(callID))
	if force {
		u += "?force=1"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return false, err
	}
	p.authorize(req)

	resp, err := p.client().Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	// 404 means the call is already gone at the PBX; the hangup goal is met.
	if resp.StatusCode == http.StatusNotFound {
		return true, nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return false, fmt.Errorf("telephony: pbx hangup returned %d", resp.StatusCode)
	}

	var body hangupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		// Gateway said OK but sent an unparseable body; trust the status.
		return true, nil
	}
	return body.Accepted, nil
}

func (p *FreePBXProvider) authorize(req *http.Request) {
	if p.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIToken)
	}
}

func (p *FreePBXProvider) client() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}
