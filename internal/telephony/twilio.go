package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dialer-platform/internal/config"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioProvider places calls through the Twilio REST API.
type TwilioProvider struct {
	accountSID  string
	authToken   string
	callbackURL string
	baseURL     string
	client      *http.Client
}

func NewTwilioProvider(cfg config.ProviderConfig) *TwilioProvider {
	return &TwilioProvider{
		accountSID:  cfg.AccountSID,
		authToken:   cfg.AuthToken,
		callbackURL: cfg.CallbackURL,
		baseURL:     twilioAPIBase,
		client:      &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s.json", p.baseURL, p.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: account probe returned %d", ErrProviderUnavailable, resp.StatusCode)
	}
	return nil
}

func (p *TwilioProvider) CreateCall(ctx context.Context, r CreateCallRequest) (CreateCallResult, error) {
	form := url.Values{}
	form.Set("To", r.PhoneNumber)
	form.Set("From", r.CallerID)
	form.Set("Url", p.callbackURL+"/answer")
	form.Set("StatusCallback", p.callbackURL+"/status")
	form.Set("StatusCallbackEvent", "initiated ringing answered completed")
	form.Set("MachineDetection", "Enable")

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", p.baseURL, p.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return CreateCallResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return CreateCallResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CreateCallResult{}, err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return CreateCallResult{}, fmt.Errorf("telephony: create call for item %s returned %d: %s", r.WorkItemID, resp.StatusCode, truncate(body, 256))
	}

	var payload struct {
		Sid string `json:"sid"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return CreateCallResult{}, fmt.Errorf("telephony: decode create call response: %w", err)
	}
	if payload.Sid == "" {
		return CreateCallResult{}, fmt.Errorf("telephony: create call response missing sid")
	}
	return CreateCallResult{CallID: payload.Sid}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
