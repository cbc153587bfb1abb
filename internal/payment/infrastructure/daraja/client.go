// Package daraja talks to the Safaricom Daraja API: OAuth token exchange,
// Lipa na M-Pesa STK push and status query.
package daraja

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/palsapos/payments/internal/config"
	"github.com/palsapos/payments/internal/payment/domain"
	"github.com/palsapos/payments/pkg/clock"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	transactionType = "CustomerPayBillOnline"
	timestampLayout = "20060102150405"
)

type Client struct {
	cfg   config.Daraja
	http  *http.Client
	log   *slog.Logger
	clock clock.Clock
}

func NewClient(log *slog.Logger, cfg config.Daraja, clk clock.Clock) *Client {
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.HTTPTimeout},
		log:   log,
		clock: clk,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Authenticate exchanges the consumer credentials for a short-lived bearer
// token. Tokens are not cached; each provider call re-authenticates.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", &AuthError{Cause: err}
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &AuthError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.log.Error("daraja token generation failed", "status", resp.StatusCode, "body", string(body))
		return "", &AuthError{Cause: fmt.Errorf("token endpoint returned %d", resp.StatusCode)}
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", &AuthError{Cause: err}
	}
	if tok.AccessToken == "" {
		return "", &AuthError{Cause: errors.New("empty access token")}
	}
	return tok.AccessToken, nil
}

type pushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type pushResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	ErrorMessage        string `json:"errorMessage"`
}

// STKPush asks the provider to prompt the payer's handset for the given
// order. amountKES is whole shillings; Daraja rejects fractional amounts.
func (c *Client) STKPush(ctx context.Context, orderCode string, amountKES int64, phone string) (domain.Correlation, error) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return domain.Correlation{}, err
	}

	timestamp := c.clock.Now().Format(timestampLayout)
	payload := pushRequest{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            amountKES,
		PartyA:            phone,
		PartyB:            c.cfg.Shortcode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  orderCode,
		TransactionDesc:   fmt.Sprintf("Payment for Order %s", orderCode),
	}

	var out pushResponse
	if err := c.post(ctx, token, pushPath, payload, &out); err != nil {
		return domain.Correlation{}, &PushError{Cause: err}
	}

	if out.ResponseCode != "0" {
		msg := out.ResponseDescription
		if msg == "" {
			msg = out.ErrorMessage
		}
		c.log.Error("daraja stk push rejected", "order_code", orderCode, "response_code", out.ResponseCode, "message", msg)
		return domain.Correlation{}, &PushError{ProviderMessage: msg, Cause: fmt.Errorf("response code %q", out.ResponseCode)}
	}

	return domain.Correlation{
		CheckoutRequestID: out.CheckoutRequestID,
		MerchantRequestID: out.MerchantRequestID,
	}, nil
}

type queryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// QueryStatus fetches the provider's view of an in-flight push. The raw
// snapshot is passed through; callers reconcile via the callback path.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (json.RawMessage, error) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.clock.Now().Format(timestampLayout)
	payload := queryRequest{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var out json.RawMessage
	if err := c.post(ctx, token, queryPath, payload, &out); err != nil {
		return nil, &QueryError{Cause: err}
	}
	return out, nil
}

// password derives the Lipa na M-Pesa password for the given timestamp.
func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.Shortcode + c.cfg.Passkey + timestamp))
}

func (c *Client) post(ctx context.Context, token, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Daraja error bodies carry errorMessage; surface it for the logs.
		var pe pushResponse
		if json.Unmarshal(raw, &pe) == nil && pe.ErrorMessage != "" {
			return fmt.Errorf("provider returned %d: %s", resp.StatusCode, pe.ErrorMessage)
		}
		return fmt.Errorf("provider returned %d", resp.StatusCode)
	}
	return json.Unmarshal(raw, out)
}
