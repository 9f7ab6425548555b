// Package kraken adapts Kraken Futures perpetuals to the canonical exchange
// contract. Contracts are quoted PF_XBTUSD style, there is no hedge mode,
// and margin mode rides on the leverage-preferences call: a preference with
// maxLeverage pins isolated leverage, omitting it reverts to cross.
package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"martingalian/internal/exchange"
)

const (
	// BaseURL is the production Kraken Futures API URL.
	BaseURL = "https://futures.kraken.com/derivatives"
)

var endpointWeights = map[string]int{
	"/api/v3/instruments":         1,
	"/api/v3/tickers":             1,
	"/api/v3/accounts":            2,
	"/api/v3/openpositions":       2,
	"/api/v3/openorders":          2,
	"/api/v3/orders/status":       1,
	"/api/v3/sendorder":           10,
	"/api/v3/editorder":           10,
	"/api/v3/cancelorder":         10,
	"/api/v3/cancelallorders":     25,
	"/api/v3/leveragepreferences": 1,
	"/api/v3/fills":               2,
}

// Adapter implements exchange.Adapter for Kraken Futures.
type Adapter struct {
	apiKey     string
	secretKey  string
	baseURL    string
	chartsURL  string
	httpClient *http.Client
	limiter    *exchange.RateLimiter
	quote      string
	nonce      atomic.Int64
}

// Config parameterizes New.
type Config struct {
	Credentials exchange.Credentials
	BaseURL     string
	Quote       string // wire quote, USD for the PF_ perpetual family
	Timeout     time.Duration
	Limiter     *exchange.RateLimiter
}

// New creates a Kraken adapter.
func New(cfg Config) *Adapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = BaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = exchange.NewRateLimiter(500, endpointWeights)
	}
	quote := cfg.Quote
	if quote == "" {
		quote = "USD"
	}
	a := &Adapter{
		apiKey:     strings.TrimSpace(cfg.Credentials.APIKey),
		secretKey:  strings.TrimSpace(cfg.Credentials.APISecret),
		baseURL:    baseURL,
		chartsURL:  strings.TrimSuffix(baseURL, "/derivatives") + "/api/charts/v1",
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		quote:      quote,
	}
	a.nonce.Store(time.Now().UnixMilli())
	return a
}

// Name implements exchange.Adapter.
func (a *Adapter) Name() string { return "kraken" }

// Capabilities implements exchange.Adapter.
func (a *Adapter) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		SupportsCancelAllBySymbol: true,
		SupportsOrderModify:       true,
		UsesAlgoEndpoints:         false,
		HedgeMode:                 false,
	}
}

// FormatPair implements exchange.Adapter: BTC/USD -> PF_XBTUSD.
func (a *Adapter) FormatPair(s exchange.Symbol) string {
	token := s.Token
	if token == "BTC" {
		token = "XBT"
	}
	quote := s.Quote
	if quote == "USDT" || quote == "USDC" {
		quote = "USD"
	}
	return "PF_" + token + quote
}

// ==================== TRANSPORT ====================

// nextNonce returns a strictly increasing nonce.
func (a *Adapter) nextNonce() string {
	return strconv.FormatInt(a.nonce.Add(1), 10)
}

// sign computes the Authent header: base64(HMAC-SHA512 over
// SHA256(postData + nonce + endpointPath), keyed by the base64-decoded
// secret). The path excludes the /derivatives prefix.
func (a *Adapter) sign(postData, nonce, endpointPath string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(a.secretKey)
	if err != nil {
		return "", fmt.Errorf("kraken: decoding api secret: %w", err)
	}
	inner := sha256.Sum256([]byte(postData + nonce + endpointPath))
	mac := hmac.New(sha512.New, secret)
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (a *Adapter) publicGet(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	return a.do(ctx, http.MethodGet, endpoint, params, false)
}

func (a *Adapter) signedGet(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	return a.do(ctx, http.MethodGet, endpoint, params, true)
}

func (a *Adapter) signedPost(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	return a.do(ctx, http.MethodPost, endpoint, params, true)
}

func (a *Adapter) signedPut(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	return a.do(ctx, http.MethodPut, endpoint, params, true)
}

// rawGet fetches an absolute URL outside the /derivatives tree, such as the
// charts service.
func (a *Adapter) rawGet(ctx context.Context, absoluteURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, absoluteURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &exchange.APIError{
			Exchange: a.Name(), Endpoint: absoluteURL,
			Message: err.Error(), Kind: exchange.KindTransient,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &exchange.APIError{
			Exchange: a.Name(), Endpoint: absoluteURL,
			Message: err.Error(), Kind: exchange.KindTransient,
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &exchange.APIError{
			Exchange: a.Name(), Endpoint: absoluteURL,
			StatusCode: resp.StatusCode, Message: string(body),
			Kind: exchange.ClassifyHTTP(resp.StatusCode),
		}
	}
	return body, nil
}

func (a *Adapter) do(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	if err := a.limiter.Wait(ctx, endpoint); err != nil {
		return nil, err
	}

	var postData string
	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		postData = values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = postData

	if signed {
		nonce := a.nextNonce()
		authent, err := a.sign(postData, nonce, endpoint)
		if err != nil {
			return nil, err
		}
		req.Header.Set("APIKey", a.apiKey)
		req.Header.Set("Nonce", nonce)
		req.Header.Set("Authent", authent)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &exchange.APIError{
			Exchange: a.Name(), Endpoint: endpoint,
			Message: err.Error(), Kind: exchange.KindTransient,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &exchange.APIError{
			Exchange: a.Name(), Endpoint: endpoint,
			Message: err.Error(), Kind: exchange.KindTransient,
		}
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &exchange.APIError{
			Exchange: a.Name(), Endpoint: endpoint,
			StatusCode: resp.StatusCode, Message: string(body),
			Kind: exchange.ClassifyHTTP(resp.StatusCode),
		}
		if apiErr.Kind == exchange.KindRateLimited {
			a.limiter.RecordRateLimitError(time.Now().Add(time.Second))
		}
		return nil, apiErr
	}

	var env struct {
		Result string `json:"result"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Result == "error" {
		return nil, a.resolveError(endpoint, env.Error)
	}
	return body, nil
}

// resolveError maps Kraken error strings onto the canonical taxonomy.
func (a *Adapter) resolveError(endpoint, wireError string) error {
	apiErr := &exchange.APIError{
		Exchange: a.Name(),
		Endpoint: endpoint,
		Code:     wireError,
		Message:  wireError,
		Kind:     exchange.KindInvalidRequest,
	}
	switch wireError {
	case "apiLimitExceeded":
		apiErr.Kind = exchange.KindRateLimited
		a.limiter.RecordRateLimitError(time.Now().Add(time.Second))
	case "authenticationError", "invalidApiKey", "requiredArgumentMissing:authent":
		apiErr.Kind = exchange.KindAuth
	case "nonceBelowThreshold", "nonceDuplicate":
		apiErr.Kind = exchange.KindTransient
	case "orderNotFound":
		apiErr.Kind = exchange.KindOrderNotFound
	}
	return apiErr
}

var _ exchange.Adapter = (*Adapter)(nil)
