package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// VerifyResult mirrors the siteverify response body.
type VerifyResult struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// ChallengeVerifier checks a step-up challenge token against the
// verification service.
type ChallengeVerifier interface {
	Enabled() bool
	Verify(ctx context.Context, token, remoteIP string) (VerifyResult, error)
}

// TurnstileVerifier talks to a Turnstile-compatible siteverify endpoint.
type TurnstileVerifier struct {
	secret  string
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewTurnstileVerifier(secret, verifyURL string) *TurnstileVerifier {
	if secret == "" {
		log.Println("⚠️ Challenge verification disabled: CHALLENGE_SECRET not set.")
	}
	return &TurnstileVerifier{
		secret: secret,
		url:    verifyURL,
		client: &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "challenge-verify",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.WithFields(log.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
					Warn("circuit breaker state changed")
			},
		}),
	}
}

func (v *TurnstileVerifier) Enabled() bool {
	return v.secret != ""
}

// Verify posts the token. Transport failures, non-2xx responses and an open
// breaker are returned as errors; a rejected token is a result with Success=false.
func (v *TurnstileVerifier) Verify(ctx context.Context, token, remoteIP string) (VerifyResult, error) {
	out, err := v.breaker.Execute(func() (interface{}, error) {
		return v.post(ctx, token, remoteIP)
	})
	if err != nil {
		return VerifyResult{}, err
	}
	return out.(VerifyResult), nil
}

func (v *TurnstileVerifier) post(ctx context.Context, token, remoteIP string) (VerifyResult, error) {
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, strings.NewReader(form.Encode()))
	if err != nil {
		return VerifyResult{}, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return VerifyResult{}, fmt.Errorf("verify request: unexpected status %d", resp.StatusCode)
	}

	var result VerifyResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return VerifyResult{}, fmt.Errorf("decode verify response: %w", err)
	}
	return result, nil
}
