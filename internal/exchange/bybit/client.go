// Package bybit adapts Bybit v5 linear perpetuals to the canonical exchange
// contract. Conditional orders share the regular order endpoints, selected by
// the orderFilter parameter, so no separate algo API exists here.
package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"martingalian/internal/exchange"
)

const (
	// BaseURL is the production Bybit API URL.
	BaseURL = "https://api.bybit.com"

	recvWindow = "10000"

	// category scopes every call to USDT-settled linear perpetuals.
	category = "linear"
)

var endpointWeights = map[string]int{
	"/v5/market/time":             1,
	"/v5/market/instruments-info": 1,
	"/v5/market/tickers":          1,
	"/v5/market/kline":            1,
	"/v5/market/risk-limit":       1,
	"/v5/account/wallet-balance":  5,
	"/v5/position/list":           5,
	"/v5/order/realtime":          1,
	"/v5/order/history":           1,
	"/v5/order/create":            1,
	"/v5/order/cancel":            1,
	"/v5/order/amend":             1,
	"/v5/order/cancel-all":        5,
	"/v5/position/set-leverage":   1,
	"/v5/position/switch-isolated": 1,
	"/v5/execution/list":          5,
}

// Adapter implements exchange.Adapter for Bybit linear perpetuals.
type Adapter struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	limiter    *exchange.RateLimiter
	quote      string
}

// Config parameterizes New.
type Config struct {
	Credentials exchange.Credentials
	BaseURL     string
	Quote       string
	Timeout     time.Duration
	Limiter     *exchange.RateLimiter
}

// New creates a Bybit adapter.
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
		limiter = exchange.NewRateLimiter(600, endpointWeights)
	}
	quote := cfg.Quote
	if quote == "" {
		quote = "USDT"
	}
	return &Adapter{
		apiKey:     strings.TrimSpace(cfg.Credentials.APIKey),
		secretKey:  strings.TrimSpace(cfg.Credentials.APISecret),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		quote:      quote,
	}
}

// Name implements exchange.Adapter.
func (a *Adapter) Name() string { return "bybit" }

// Capabilities implements exchange.Adapter.
func (a *Adapter) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		SupportsCancelAllBySymbol: true,
		SupportsOrderModify:       true,
		UsesAlgoEndpoints:         false,
		HedgeMode:                 true,
	}
}

// FormatPair implements exchange.Adapter: BTC/USDT -> BTCUSDT.
func (a *Adapter) FormatPair(s exchange.Symbol) string {
	return s.Token + s.Quote
}

// ==================== TRANSPORT ====================

// envelope wraps every v5 response.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// sign computes HMAC-SHA256 over timestamp + apiKey + recvWindow + payload,
// where payload is the query string for GET and the JSON body for POST.
func (a *Adapter) sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(a.secretKey))
	mac.Write([]byte(timestamp + a.apiKey + recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) publicGet(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, error) {
	return a.do(ctx, http.MethodGet, endpoint, params, nil, false)
}

func (a *Adapter) signedGet(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, error) {
	return a.do(ctx, http.MethodGet, endpoint, params, nil, true)
}

func (a *Adapter) signedPost(ctx context.Context, endpoint string, body map[string]any) (json.RawMessage, error) {
	return a.do(ctx, http.MethodPost, endpoint, nil, body, true)
}

func (a *Adapter) do(ctx context.Context, method, endpoint string, params map[string]string, body map[string]any, signed bool) (json.RawMessage, error) {
	if err := a.limiter.Wait(ctx, endpoint); err != nil {
		return nil, err
	}

	var query string
	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		query = values.Encode()
	}

	var payload string
	var reqBody io.Reader
	if method == http.MethodGet {
		payload = query
	} else {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = string(raw)
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = query

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-BAPI-API-KEY", a.apiKey)
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
		req.Header.Set("X-BAPI-SIGN", a.sign(timestamp, payload))
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &exchange.APIError{
			Exchange: a.Name(), Endpoint: endpoint,
			Message: err.Error(), Kind: exchange.KindTransient,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &exchange.APIError{
			Exchange: a.Name(), Endpoint: endpoint,
			Message: err.Error(), Kind: exchange.KindTransient,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &exchange.APIError{
			Exchange: a.Name(), Endpoint: endpoint,
			StatusCode: resp.StatusCode, Message: string(raw),
			Kind: exchange.ClassifyHTTP(resp.StatusCode),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("bybit: parsing envelope: %w", err)
	}
	if env.RetCode != 0 {
		return nil, a.resolveError(endpoint, env)
	}
	return env.Result, nil
}

// resolveError maps Bybit retCodes onto the canonical taxonomy.
func (a *Adapter) resolveError(endpoint string, env envelope) error {
	apiErr := &exchange.APIError{
		Exchange: a.Name(),
		Endpoint: endpoint,
		Code:     strconv.Itoa(env.RetCode),
		Message:  env.RetMsg,
		Kind:     exchange.KindInvalidRequest,
	}
	switch env.RetCode {
	case 10006, 10018: // rate limit / ip rate limit
		apiErr.Kind = exchange.KindRateLimited
		a.limiter.RecordRateLimitError(time.Now().Add(time.Second))
	case 10002: // request outside recv window
		apiErr.Kind = exchange.KindTransient
	case 10003, 10004, 33004: // invalid key / signature / key expired
		apiErr.Kind = exchange.KindAuth
	case 110001, 170213: // order does not exist
		apiErr.Kind = exchange.KindOrderNotFound
	}
	return apiErr
}

var _ exchange.Adapter = (*Adapter)(nil)
