package daraja

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/palsapos/payments/internal/config"
	"github.com/palsapos/payments/pkg/clock"
	"github.com/palsapos/payments/pkg/logging"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Daraja{
		BaseURL:        srv.URL,
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		Shortcode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://shop.example/payments/mpesa/callback",
		HTTPTimeout:    5 * time.Second,
	}
	return NewClient(logging.New(), cfg, clock.NewFixed(testNow))
}

func tokenHandler(t *testing.T, next http.HandlerFunc) http.Handler {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "ck", user)
		require.Equal(t, "cs", pass)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-123"})
	})
	if next != nil {
		mux.HandleFunc("/", next)
	}
	return mux
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, tokenHandler(t, nil))

	tok, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-123", tok)
}

func TestAuthenticateRejected(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.Authenticate(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestSTKPush(t *testing.T) {
	t.Parallel()

	var got pushRequest
	c := newTestClient(t, tokenHandler(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mpesa/stkpush/v1/processrequest", r.URL.Path)
		require.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(pushResponse{
			ResponseCode:      "0",
			CheckoutRequestID: "ws_CO_123",
			MerchantRequestID: "mr_456",
		})
	}))

	res, err := c.STKPush(context.Background(), "ORD-1234-AB", 500, "254712345678")
	require.NoError(t, err)
	require.Equal(t, "ws_CO_123", res.CheckoutRequestID)
	require.Equal(t, "mr_456", res.MerchantRequestID)

	require.Equal(t, "174379", got.BusinessShortCode)
	require.Equal(t, "CustomerPayBillOnline", got.TransactionType)
	require.Equal(t, int64(500), got.Amount)
	require.Equal(t, "254712345678", got.PartyA)
	require.Equal(t, "254712345678", got.PhoneNumber)
	require.Equal(t, "ORD-1234-AB", got.AccountReference)
	require.Equal(t, "20250314093000", got.Timestamp)

	wantPassword := base64.StdEncoding.EncodeToString([]byte("174379" + "passkey" + "20250314093000"))
	require.Equal(t, wantPassword, got.Password)
}

func TestSTKPushProviderRejection(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, tokenHandler(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(pushResponse{
			ResponseCode:        "1",
			ResponseDescription: "Insufficient balance on shortcode",
		})
	}))

	_, err := c.STKPush(context.Background(), "ORD-1", 100, "254712345678")
	var pushErr *PushError
	require.ErrorAs(t, err, &pushErr)
	require.Equal(t, "Insufficient balance on shortcode", pushErr.ProviderMessage)
}

func TestSTKPushTransportFailure(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, tokenHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.STKPush(context.Background(), "ORD-1", 100, "254712345678")
	var pushErr *PushError
	require.ErrorAs(t, err, &pushErr)
	require.Empty(t, pushErr.ProviderMessage)
}

func TestSTKPushAuthFailurePropagates(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := c.STKPush(context.Background(), "ORD-1", 100, "254712345678")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestQueryStatus(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, tokenHandler(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mpesa/stkpushquery/v1/query", r.URL.Path)

		var q queryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		require.Equal(t, "ws_CO_123", q.CheckoutRequestID)

		_ = json.NewEncoder(w).Encode(map[string]string{
			"ResultCode": "0",
			"ResultDesc": "The service request is processed successfully.",
		})
	}))

	raw, err := c.QueryStatus(context.Background(), "ws_CO_123")
	require.NoError(t, err)

	var snapshot map[string]string
	require.NoError(t, json.Unmarshal(raw, &snapshot))
	require.Equal(t, "0", snapshot["ResultCode"])
}

func TestQueryStatusFailure(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, tokenHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.QueryStatus(context.Background(), "ws_CO_123")
	var queryErr *QueryError
	require.ErrorAs(t, err, &queryErr)
}
