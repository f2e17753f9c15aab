package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"lms-calendar-api/core/constants"
	"lms-calendar-api/core/logger"
	"lms-calendar-api/modules/calendar/entity"
)

// apiClient is the request plumbing shared by the concrete adapters: token
// injection, taxonomy translation, bounded retries for transient failures and
// rate-limit pushback recorded in the backoff store.
type apiClient struct {
	providerName string
	http         *http.Client
	tokens       TokenSource
	backoff      BackoffStore
}

func newAPIClient(name string, tokens TokenSource, backoff BackoffStore, httpClient *http.Client) apiClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.ProviderCallTimeout}
	}
	return apiClient{providerName: name, http: httpClient, tokens: tokens, backoff: backoff}
}

func (c *apiClient) doJSON(ctx context.Context, integration *entity.CalendarIntegration, method, url string, body any, out any) error {
	if err := c.checkBackoff(ctx); err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return &ProviderError{Kind: KindPermanent, Message: "failed to encode payload", Err: err}
		}
	}

	transientLeft := constants.MaxTransientRetries
	rateLimitLeft := constants.MaxRateLimitRetries
	delay := constants.TransientRetryBaseDelay

	for {
		pe := c.attempt(ctx, integration, method, url, payload, out)
		if pe == nil {
			return nil
		}

		switch pe.Kind {
		case KindTransient:
			if transientLeft == 0 {
				return pe
			}
			transientLeft--
			if err := sleepCtx(ctx, delay); err != nil {
				return pe
			}
			delay *= 2
		case KindRateLimited:
			if c.backoff != nil {
				_ = c.backoff.SetProviderBackoff(ctx, c.providerName, time.Now().Add(pe.RetryAfter))
			}
			if rateLimitLeft == 0 {
				return pe
			}
			rateLimitLeft--
			logger.Warn("Provider:RateLimited", "provider", c.providerName, "retry_after", pe.RetryAfter.String())
			if err := sleepCtx(ctx, pe.RetryAfter); err != nil {
				return pe
			}
		default:
			return pe
		}
	}
}

func (c *apiClient) attempt(ctx context.Context, integration *entity.CalendarIntegration, method, url string, payload []byte, out any) *ProviderError {
	accessToken, err := c.tokens.AccessToken(ctx, integration)
	if err != nil {
		return &ProviderError{Kind: KindUnauthorized, Message: "failed to obtain access token", Err: err}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return &ProviderError{Kind: KindPermanent, Message: "failed to build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &ProviderError{Kind: KindTransient, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &ProviderError{Kind: KindTransient, StatusCode: resp.StatusCode, Message: "failed to decode response", Err: err}
		}
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	pe := ClassifyStatus(resp.StatusCode, resp.Header.Get("Retry-After"), string(snippet))
	logger.Error("Provider:APIError",
		"provider", c.providerName,
		"method", method,
		"status", resp.StatusCode,
		"kind", string(pe.Kind),
	)
	return pe
}

func (c *apiClient) checkBackoff(ctx context.Context) error {
	if c.backoff == nil {
		return nil
	}
	until, err := c.backoff.GetProviderBackoff(ctx, c.providerName)
	if err != nil {
		logger.Warn("Provider:BackoffCheck:Error", "provider", c.providerName, "error", err)
		return nil
	}
	if remaining := time.Until(until); remaining > 0 {
		return &ProviderError{
			Kind:       KindRateLimited,
			RetryAfter: remaining,
			Message:    fmt.Sprintf("%s is backing off for %s", c.providerName, remaining.Round(time.Second)),
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
