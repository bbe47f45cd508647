package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"bondledger/core/types"
	"bondledger/crypto"
)

// client talks to the bondd HTTP API.
type client struct {
	base     string
	http     *http.Client
	maxTries uint
}

func newClient(base string) *client {
	return &client{
		base:     strings.TrimRight(strings.TrimSpace(base), "/"),
		http:     &http.Client{Timeout: 10 * time.Second},
		maxTries: 4,
	}
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("bondd: %d: %s", e.Status, e.Message)
}

func (c *client) do(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &failure) != nil || failure.Error == "" {
			failure.Error = strings.TrimSpace(string(raw))
		}
		return nil, &apiError{Status: resp.StatusCode, Message: failure.Error}
	}
	return raw, nil
}

// retryable reports whether a failed read may be repeated.
func retryable(err error) bool {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status == http.StatusServiceUnavailable
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// get retries transport failures and throttling with exponential backoff.
// Submissions are never retried here; a resubmitted envelope would only be
// rejected for its nonce.
func (c *client) get(ctx context.Context, path string) (json.RawMessage, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	return backoff.Retry(ctx, func() (json.RawMessage, error) {
		raw, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return raw, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(c.maxTries))
}

func (c *client) nonce(ctx context.Context, addr crypto.Address) (uint64, error) {
	raw, err := c.get(ctx, "/v1/accounts/"+addr.String()+"/nonce")
	if err != nil {
		return 0, err
	}
	var out struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("decode nonce: %w", err)
	}
	return out.Nonce, nil
}

func (c *client) submit(ctx context.Context, env *types.Envelope) (json.RawMessage, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, "/v1/tx", body)
}

// buildEnvelope signs op with key. Payload must be a JSON object.
func buildEnvelope(key *crypto.PrivateKey, op string, payload string, nonce uint64) (*types.Envelope, error) {
	op = strings.TrimSpace(op)
	if op == "" {
		return nil, fmt.Errorf("op required")
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		payload = "{}"
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &probe); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	// Sign the bytes encoding/json will transmit, which compacts raw messages.
	canonical, err := json.Marshal(json.RawMessage(payload))
	if err != nil {
		return nil, err
	}
	env := &types.Envelope{Op: op, Nonce: nonce, Payload: canonical}
	if err := env.Sign(key); err != nil {
		return nil, err
	}
	return env, nil
}
