// Package payments talks to the external payment processor over its JSON
// API. It only deals in processor references; payment state lives in the
// escrow ledger.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"travelmatch/apperr"
)

const defaultTimeout = 15 * time.Second

// Client implements the processor operations the escrow ledger needs:
// authorize a hold, capture it to the payee, or return it to the payer.
// The processor treats release and refund as idempotent per reference.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

type holdRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	PayerID  string `json:"payer_id"`
	PayeeID  string `json:"payee_id"`
}

type holdResponse struct {
	ReferenceID string `json:"reference_id"`
}

type processorError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// AuthorizeHold places a hold on the payer's funds and returns the
// processor's reference for it.
func (c *Client) AuthorizeHold(ctx context.Context, amount int64, currency, payerID, payeeID string) (string, error) {
	body, err := json.Marshal(holdRequest{
		Amount:   amount,
		Currency: currency,
		PayerID:  payerID,
		PayeeID:  payeeID,
	})
	if err != nil {
		return "", fmt.Errorf("payments: marshal hold: %w", err)
	}

	respBody, err := c.post(ctx, "/v1/holds", body)
	if err != nil {
		return "", err
	}

	var hold holdResponse
	if err := json.Unmarshal(respBody, &hold); err != nil {
		return "", apperr.Wrap(apperr.KindExternal, "payments: decode hold response", err)
	}
	if hold.ReferenceID == "" {
		return "", apperr.New(apperr.KindExternal, "payments: processor returned empty reference")
	}
	return hold.ReferenceID, nil
}

// Release captures the held funds to the payee.
func (c *Client) Release(ctx context.Context, referenceID string) error {
	_, err := c.post(ctx, "/v1/holds/"+referenceID+"/release", nil)
	return err
}

// Refund returns the held funds to the payer.
func (c *Client) Refund(ctx context.Context, referenceID string) error {
	_, err := c.post(ctx, "/v1/holds/"+referenceID+"/refund", nil)
	return err
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("payments: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExternal, "payments: processor unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExternal, "payments: read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var procErr processorError
		if json.Unmarshal(respBody, &procErr) == nil && procErr.Error.Message != "" {
			return nil, apperr.Newf(apperr.KindExternal, "payments: processor error (%d %s): %s",
				resp.StatusCode, procErr.Error.Code, procErr.Error.Message)
		}
		return nil, apperr.Newf(apperr.KindExternal, "payments: processor error (%d): %s",
			resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
