package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nativebridge/internal/interfaces/httpapi"

	"github.com/ethereum/go-ethereum/crypto"
)

type client struct {
	baseURL string
	key     *ecdsa.PrivateKey
	http    *http.Client
}

// newClient builds a client for baseURL. Requests are signed when rawKey, a
// hex secp256k1 private key, is set.
func newClient(baseURL, rawKey string) (*client, error) {
	c := &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	if rawKey = strings.TrimPrefix(strings.TrimSpace(rawKey), "0x"); rawKey != "" {
		key, err := crypto.HexToECDSA(rawKey)
		if err != nil {
			return nil, fmt.Errorf("signing key: %w", err)
		}
		c.key = key
	}
	return c, nil
}

func (c *client) get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *client) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != nil {
		if err := httpapi.SignRequest(req, payload, c.key, time.Now()); err != nil {
			return nil, err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		var failure struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		if json.Unmarshal(raw, &failure) == nil && failure.Error != "" {
			if failure.Reason != "" {
				return nil, fmt.Errorf("%s %s: %s (%s, status %d)", method, path, failure.Error, failure.Reason, resp.StatusCode)
			}
			return nil, fmt.Errorf("%s %s: %s (status %d)", method, path, failure.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return raw, nil
}
