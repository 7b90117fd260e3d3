package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"swiftshop/internal/models"
)

// ErrUnavailable marks transport failures and gateway-side 5xx responses.
// Callers may retry; nothing durable has happened on our side.
var ErrUnavailable = errors.New("paystack unavailable")

type Client struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		client:    &http.Client{Timeout: timeout},
	}
}

// InitializedTransaction is the hosted-payment-page handle Paystack returns.
type InitializedTransaction struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// VerifiedTransaction is the gateway's authoritative answer for a reference.
// Metadata echoes back whatever was attached at initialization, verbatim.
type VerifiedTransaction struct {
	Succeeded  bool
	Reference  string
	AmountKobo int64
	Metadata   *models.PaymentIntent
}

func (c *Client) InitializeTransaction(ctx context.Context, email string, amountKobo int64, callbackURL string, metadata models.PaymentIntent) (*InitializedTransaction, error) {
	body := initializeRequest{
		Email:       email,
		Amount:      amountKobo,
		CallbackURL: callbackURL,
		Metadata:    metadata,
	}
	var resp initializeResponse
	if err := c.postJSON(ctx, "/transaction/initialize", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, fmt.Errorf("paystack initialize rejected: %s", resp.Message)
	}
	return &InitializedTransaction{
		AuthorizationURL: resp.Data.AuthorizationURL,
		AccessCode:       resp.Data.AccessCode,
		Reference:        resp.Data.Reference,
	}, nil
}

func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*VerifiedTransaction, error) {
	endpoint := c.baseURL + "/transaction/verify/" + url.PathEscape(reference)
	var resp verifyResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, fmt.Errorf("paystack verify rejected: %s", resp.Message)
	}
	return &VerifiedTransaction{
		Succeeded:  resp.Data.Status == "success",
		Reference:  resp.Data.Reference,
		AmountKobo: resp.Data.Amount,
		Metadata:   resp.Data.Metadata,
	}, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in any, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: http status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("paystack http status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("paystack http status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Wire types

type initializeRequest struct {
	Email       string               `json:"email"`
	Amount      int64                `json:"amount"`
	CallbackURL string               `json:"callback_url,omitempty"`
	Metadata    models.PaymentIntent `json:"metadata"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status    string                `json:"status"`
		Reference string                `json:"reference"`
		Amount    int64                 `json:"amount"`
		Metadata  *models.PaymentIntent `json:"metadata"`
	} `json:"data"`
}
