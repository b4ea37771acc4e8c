package recorder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Alert kinds
const (
	AlertHighRiskBlock = "high_risk_block"
	AlertDegradedModel = "degraded_model"
)

// Alert is one webhook notification
type Alert struct {
	Kind           string    `json:"kind"`
	Email          string    `json:"email,omitempty"`
	Domain         string    `json:"domain,omitempty"`
	Fingerprint    string    `json:"fingerprint,omitempty"`
	Decision       string    `json:"decision,omitempty"`
	RiskScore      float64   `json:"riskScore"`
	Reason         string    `json:"reason,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	IdempotencyKey string    `json:"idempotencyKey"`
}

// Alerter delivers alerts to a webhook endpoint. A nil or unconfigured
// alerter is a no-op.
type Alerter struct {
	url    string
	client *http.Client

	OnError func(err error)
}

// NewAlerter creates an alerter; an empty URL disables delivery
func NewAlerter(url string, timeout time.Duration) *Alerter {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Alerter{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a webhook URL is configured
func (a *Alerter) Enabled() bool {
	return a != nil && a.url != ""
}

// Fire delivers one alert. The idempotency key is derived from the
// fingerprint and a one-minute timestamp bucket so retried or duplicate
// events collapse downstream.
func (a *Alerter) Fire(ctx context.Context, alert Alert) error {
	if !a.Enabled() {
		return nil
	}

	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	alert.IdempotencyKey = IdempotencyKey(alert.Kind, alert.Fingerprint, alert.Timestamp)

	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", alert.IdempotencyKey)

	resp, err := a.client.Do(req)
	if err != nil {
		a.fail(err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		err := fmt.Errorf("webhook returned status %d", resp.StatusCode)
		a.fail(err)
		return err
	}
	return nil
}

// FireAsync delivers an alert in the background with its own deadline
func (a *Alerter) FireAsync(alert Alert) {
	if !a.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.client.Timeout)
		defer cancel()
		_ = a.Fire(ctx, alert)
	}()
}

func (a *Alerter) fail(err error) {
	if a.OnError != nil {
		a.OnError(err)
	}
}

// IdempotencyKey hashes kind, fingerprint and the minute bucket
func IdempotencyKey(kind, fingerprint string, ts time.Time) string {
	bucket := ts.UTC().Truncate(time.Minute).Unix()
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%d", kind, fingerprint, bucket))
	return hex.EncodeToString(sum[:])
}
