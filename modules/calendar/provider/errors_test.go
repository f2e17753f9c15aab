package provider

import (
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{401, KindUnauthorized},
		{403, KindRateLimited},
		{429, KindRateLimited},
		{404, KindNotFound},
		{410, KindNotFound},
		{408, KindTransient},
		{500, KindTransient},
		{502, KindTransient},
		{503, KindTransient},
		{400, KindPermanent},
		{418, KindPermanent},
		{422, KindPermanent},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("status_%d", tc.status), func(t *testing.T) {
			pe := ClassifyStatus(tc.status, "", "body")
			if pe.Kind != tc.want {
				t.Errorf("ClassifyStatus(%d) = %s, want %s", tc.status, pe.Kind, tc.want)
			}
			if pe.StatusCode != tc.status {
				t.Errorf("StatusCode = %d, want %d", pe.StatusCode, tc.status)
			}
		})
	}
}

func TestClassifyStatusRetryAfter(t *testing.T) {
	pe := ClassifyStatus(429, "120", "")
	if pe.RetryAfter != 2*time.Minute {
		t.Errorf("RetryAfter = %s, want 2m", pe.RetryAfter)
	}

	date := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	pe = ClassifyStatus(429, date, "")
	if pe.RetryAfter < 60*time.Second || pe.RetryAfter > 91*time.Second {
		t.Errorf("RetryAfter from HTTP date = %s, want about 90s", pe.RetryAfter)
	}

	// Unparseable header falls back to a conservative default.
	pe = ClassifyStatus(429, "soon", "")
	if pe.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter fallback = %s, want 30s", pe.RetryAfter)
	}
}

func TestKindOf(t *testing.T) {
	pe := &ProviderError{Kind: KindNotFound, StatusCode: 404, Message: "gone"}
	if !IsNotFound(pe) {
		t.Error("IsNotFound(pe) = false")
	}
	if IsNotFound(fmt.Errorf("plain error")) {
		t.Error("IsNotFound(plain) = true")
	}

	wrapped := fmt.Errorf("listing events: %w", pe)
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound(wrapped) = false")
	}
}
