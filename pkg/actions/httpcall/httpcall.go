// Package httpcall performs the HTTP requests behind api_call and webhook actions.
package httpcall

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/registry"
)

const (
	// IdempotencyHeader carries the per-attempt idempotency key to the receiver.
	IdempotencyHeader = "Idempotency-Key"
	// SignatureHeader carries the hex HMAC-SHA256 of a signed webhook body.
	SignatureHeader = "X-Webhook-Signature"

	maxResponseBytes = 10 << 20
)

var ErrUnexpectedConfig = errors.New("unexpected action config")

// Call is one outbound HTTP request.
type Call struct {
	Method         string
	URL            string
	Headers        map[string]string
	Body           any
	Timeout        time.Duration
	IdempotencyKey string
	SigningSecret  string
}

// Adapter executes api_call and webhook actions.
type Adapter struct {
	client *http.Client
	logger *slog.Logger
}

func NewAdapter(client *http.Client, logger *slog.Logger) *Adapter {
	if client == nil {
		client = &http.Client{}
	}

	return &Adapter{
		client: client,
		logger: logger.With("module", "httpcall"),
	}
}

func (a *Adapter) Execute(ctx context.Context, request registry.Request) (map[string]any, error) {
	call := Call{IdempotencyKey: request.IdempotencyKey}

	switch config := request.Config.(type) {
	case *models.APICallConfig:
		call.Method = config.Method
		call.URL = config.URL
		call.Headers = config.Headers
		call.Body = config.Body
		call.Timeout = time.Duration(config.TimeoutSeconds) * time.Second
	case *models.WebhookActionConfig:
		call.Method = config.Method
		call.URL = config.URL
		call.Headers = config.Headers
		call.Body = config.Payload
		call.SigningSecret = config.Secret
	default:
		return nil, models.ConfigurationError(fmt.Errorf("%w: %T", ErrUnexpectedConfig, request.Config))
	}

	return a.Do(ctx, call)
}

// Do sends call and returns {statusCode, headers, body}. Non-2xx responses
// are classified with models.StatusError.
func (a *Adapter) Do(ctx context.Context, call Call) (map[string]any, error) {
	if call.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, call.Timeout)
		defer cancel()
	}

	req, err := buildRequest(ctx, call)
	if err != nil {
		return nil, models.ConfigurationError(err)
	}

	a.logger.DebugContext(ctx, "Sending HTTP request", "method", req.Method, "url", req.URL.Redacted())

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, models.Transient(fmt.Errorf("http request failed: %w", err))
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, models.Transient(fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, models.StatusError(resp.StatusCode,
			fmt.Errorf("%s %s: %s", req.Method, req.URL.Redacted(), truncate(string(bodyBytes), 512)))
	}

	var body any
	if len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, &body); err != nil {
			body = string(bodyBytes)
		}
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	a.logger.DebugContext(ctx, "HTTP request completed", "status", resp.StatusCode, "bytes", len(bodyBytes))

	return map[string]any{
		"statusCode": resp.StatusCode,
		"headers":    headers,
		"body":       body,
	}, nil
}

func buildRequest(ctx context.Context, call Call) (*http.Request, error) {
	method := strings.ToUpper(call.Method)
	if method == "" {
		method = http.MethodGet
	}

	var (
		payload     []byte
		reader      io.Reader
		contentType string
	)

	switch body := call.Body.(type) {
	case nil:
	case string:
		payload = []byte(body)
		contentType = "text/plain; charset=utf-8"
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}

		payload = encoded
		contentType = "application/json"
	}

	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, call.URL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	for key, value := range call.Headers {
		req.Header.Set(key, value)
	}

	if call.IdempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, call.IdempotencyKey)
	}

	if call.SigningSecret != "" {
		req.Header.Set(SignatureHeader, Sign(payload, call.SigningSecret))
	}

	return req, nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)

	return hex.EncodeToString(mac.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
