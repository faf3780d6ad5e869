package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/84hero/chain-scanner/pkg/record"
	"github.com/pkg/errors"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body.
const SignatureHeader = "X-Scanner-Signature"

// Config holds configuration for the Webhook client.
type Config struct {
	URL            string        `mapstructure:"url"`
	Secret         string        `mapstructure:"secret"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// Client posts record batches to a URL.
type Client struct {
	cfg        Config
	secret     []byte
	httpClient *http.Client
}

// NewClient initializes a new Webhook client
func NewClient(cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 1 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}

	return &Client{
		cfg:    cfg,
		secret: []byte(cfg.Secret),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Payload is the body posted to consumers.
type Payload struct {
	Timestamp int64          `json:"timestamp"`
	Events    []record.Event `json:"events"`
}

// Sign returns the signature of body under secret.
func Sign(secret, body []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature is the signature of body under secret.
func Verify(secret, body []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return hmac.Equal(h.Sum(nil), want)
}

// Send posts events, retrying with exponential backoff.
func (c *Client) Send(ctx context.Context, events []record.Event) error {
	if len(events) == 0 {
		return nil
	}

	body, err := json.Marshal(Payload{
		Timestamp: time.Now().Unix(),
		Events:    events,
	})
	if err != nil {
		return errors.Wrap(err, "encode webhook payload")
	}

	var lastErr error
	backoff := c.cfg.InitialBackoff

	for i := 0; i < c.cfg.MaxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if i > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}

			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
		}

		if lastErr = c.attemptSend(ctx, body); lastErr == nil {
			return nil
		}
	}

	return errors.Wrapf(lastErr, "webhook failed after %d attempts", c.cfg.MaxAttempts)
}

func (c *Client) attemptSend(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "chain-scanner/v1")
	if len(c.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(c.secret, body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// any non-2xx is a failed attempt
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
