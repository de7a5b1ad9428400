package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// TwoFactorProvider uses the 2Factor.in AUTOGEN2/VERIFY endpoints: the
// provider generates and checks the code, and the session store only binds
// its session reference to the phone it was sent to.
type TwoFactorProvider struct {
	apiKey      string
	baseURL     string
	countryCode string
	httpClient  *http.Client
	sessions    *SessionStore
	maxAttempts int
}

func NewTwoFactorProvider(apiKey, baseURL, countryCode string, httpClient *http.Client, sessions *SessionStore, maxAttempts int) *TwoFactorProvider {
	return &TwoFactorProvider{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		countryCode: countryCode,
		httpClient:  httpClient,
		sessions:    sessions,
		maxAttempts: maxAttempts,
	}
}

type twoFactorResponse struct {
	Status  string `json:"Status"`
	Details string `json:"Details"`
}

func (p *TwoFactorProvider) Name() string { return "twofactor" }

func (p *TwoFactorProvider) call(ctx context.Context, parts ...string) (*twoFactorResponse, error) {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, url.PathEscape(p.apiKey))
	for _, part := range parts {
		escaped = append(escaped, url.PathEscape(part))
	}
	endpoint := p.baseURL + "/" + strings.Join(escaped, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("2factor request failed: %w", err)
	}
	defer resp.Body.Close()

	var out twoFactorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("2factor returned status %d with unreadable body: %w", resp.StatusCode, err)
	}
	return &out, nil
}

func (p *TwoFactorProvider) Send(ctx context.Context, phone string) (string, error) {
	if phone == "" {
		return "", ErrPhoneMissing
	}
	res, err := p.call(ctx, "SMS", E164(phone, p.countryCode), "AUTOGEN2")
	if err != nil {
		return "", err
	}
	if res.Status != "Success" {
		detail := res.Details
		if detail == "" {
			detail = "Failed to send OTP"
		}
		return "", errors.New(detail)
	}
	return p.sessions.Create(ctx, phone, "", res.Details)
}

func (p *TwoFactorProvider) Verify(ctx context.Context, sessionID, phone, code string) error {
	s, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.Phone != phone || s.Ref == "" {
		return ErrInvalidCode
	}
	res, err := p.call(ctx, "SMS", "VERIFY", s.Ref, code)
	if err != nil {
		return err
	}
	if res.Status != "Success" || res.Details != "OTP Matched" {
		if ferr := p.sessions.Fail(ctx, sessionID, p.maxAttempts); ferr != nil {
			return ferr
		}
		return ErrInvalidCode
	}
	return p.sessions.Delete(ctx, sessionID)
}
