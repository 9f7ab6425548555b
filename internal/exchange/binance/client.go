// Package binance adapts Binance USDⓈ-M futures to the canonical exchange
// contract. STOP-MARKET orders route through the conditional ("algo") order
// API that Binance split out of /fapi/v1/order in December 2025.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"martingalian/internal/exchange"
)

const (
	// BaseURL is the production Binance Futures API URL.
	BaseURL = "https://fapi.binance.com"

	// recvWindow tolerates clock skew between engine and exchange.
	recvWindow = "10000"
)

// endpointWeights drives the per-account rate limiter.
var endpointWeights = map[string]int{
	"/fapi/v1/time":            1,
	"/fapi/v1/exchangeInfo":    1,
	"/fapi/v1/premiumIndex":    1,
	"/fapi/v1/klines":          5,
	"/fapi/v1/leverageBracket": 1,
	"/fapi/v2/balance":         5,
	"/fapi/v2/positionRisk":    5,
	"/fapi/v1/openOrders":      1,
	"/fapi/v1/allOpenOrders":   40,
	"/fapi/v1/order":           1,
	"/fapi/v1/algoOrder":       1,
	"/fapi/v1/openAlgoOrders":  1,
	"/fapi/v1/allAlgoOrders":   5,
	"/fapi/v1/algoOpenOrders":  1,
	"/fapi/v1/userTrades":      5,
	"/fapi/v1/leverage":        1,
	"/fapi/v1/marginType":      1,
}

// Adapter implements exchange.Adapter for Binance futures.
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
	Quote       string // trading quote canonical, e.g. USDT
	Timeout     time.Duration
	Limiter     *exchange.RateLimiter
}

// New creates a Binance adapter. Keys are trimmed because stray whitespace
// breaks signature generation.
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
		limiter = exchange.NewRateLimiter(2400, endpointWeights)
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
func (a *Adapter) Name() string { return "binance" }

// Capabilities implements exchange.Adapter.
func (a *Adapter) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		SupportsCancelAllBySymbol: true,
		SupportsOrderModify:       true,
		UsesAlgoEndpoints:         true,
		HedgeMode:                 true,
	}
}

// FormatPair implements exchange.Adapter: BTC/USDT -> BTCUSDT.
func (a *Adapter) FormatPair(s exchange.Symbol) string {
	return s.Token + s.Quote
}

// ==================== TRANSPORT ====================

// signParams adds the HMAC-SHA256 signature over the sorted query string.
func (a *Adapter) signParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		values.Set(k, params[k])
	}
	query := values.Encode()

	mac := hmac.New(sha256.New, []byte(a.secretKey))
	mac.Write([]byte(query))
	return query + "&signature=" + hex.EncodeToString(mac.Sum(nil))
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

func (a *Adapter) signedDelete(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	return a.do(ctx, http.MethodDelete, endpoint, params, true)
}

func (a *Adapter) do(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	if err := a.limiter.Wait(ctx, endpoint); err != nil {
		return nil, err
	}

	if params == nil {
		params = map[string]string{}
	}

	var query string
	if signed {
		// Timestamp is refreshed per request so retried jobs never reuse a
		// stale signature.
		params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
		params["recvWindow"] = recvWindow
		query = a.signParams(params)
	} else {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		query = values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = query
	if signed {
		req.Header.Set("X-MBX-APIKEY", a.apiKey)
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

	if usedWeight := resp.Header.Get("X-MBX-USED-WEIGHT-1M"); usedWeight != "" {
		if weight, err := strconv.Atoi(usedWeight); err == nil {
			a.limiter.UpdateFromHeaders(weight)
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, a.resolveError(endpoint, resp, body)
	}
	return body, nil
}

// resolveError maps a Binance error payload onto the canonical taxonomy.
func (a *Adapter) resolveError(endpoint string, resp *http.Response, body []byte) error {
	apiErr := &exchange.APIError{
		Exchange:   a.Name(),
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Message:    string(body),
		Kind:       exchange.ClassifyHTTP(resp.StatusCode),
	}

	var wire struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Code != 0 {
		apiErr.Code = strconv.Itoa(wire.Code)
		apiErr.Message = wire.Msg
		switch wire.Code {
		case -1003, -1015: // too many requests / too many orders
			apiErr.Kind = exchange.KindRateLimited
		case -1021: // timestamp outside recvWindow
			apiErr.Kind = exchange.KindTransient
		case -1022, -2014, -2015: // signature / key rejections
			apiErr.Kind = exchange.KindAuth
		case -2011, -2013: // unknown order
			apiErr.Kind = exchange.KindOrderNotFound
		}
	}

	if apiErr.Kind == exchange.KindRateLimited {
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if secs, err := strconv.Atoi(retryAfter); err == nil {
				apiErr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		a.limiter.RecordRateLimitError(time.Now().Add(apiErr.RetryAfter))
	}
	return apiErr
}

var _ exchange.Adapter = (*Adapter)(nil)
