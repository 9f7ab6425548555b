// Package kucoin adapts KuCoin Futures to the canonical exchange contract.
// Contracts are quoted as TOKEN+QUOTE+"M" with BTC renamed XBT; sizes are
// integer lots. There is no hedge mode and no order amendment, and leverage
// rides on every order instead of a symbol-level setting.
package kucoin

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"martingalian/internal/exchange"
)

const (
	// BaseURL is the production KuCoin Futures API URL.
	BaseURL = "https://api-futures.kucoin.com"

	apiKeyVersion = "2"
)

var endpointWeights = map[string]int{
	"/api/v1/timestamp":        1,
	"/api/v1/contracts/active": 3,
	"/api/v1/kline/query":      3,
	"/api/v1/account-overview": 5,
	"/api/v1/positions":        2,
	"/api/v1/orders":           2,
	"/api/v1/stopOrders":       2,
	"/api/v1/fills":            5,
}

// Adapter implements exchange.Adapter for KuCoin Futures.
type Adapter struct {
	apiKey     string
	secretKey  string
	passphrase string
	baseURL    string
	httpClient *http.Client
	limiter    *exchange.RateLimiter
	quote      string

	mu       sync.Mutex
	leverage map[string]int // per-symbol, forwarded on each order
}

// Config parameterizes New.
type Config struct {
	Credentials exchange.Credentials
	BaseURL     string
	Quote       string
	Timeout     time.Duration
	Limiter     *exchange.RateLimiter
}

// New creates a KuCoin adapter.
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
		passphrase: strings.TrimSpace(cfg.Credentials.Passphrase),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		quote:      quote,
		leverage:   make(map[string]int),
	}
}

// Name implements exchange.Adapter.
func (a *Adapter) Name() string { return "kucoin" }

// Capabilities implements exchange.Adapter.
func (a *Adapter) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		SupportsCancelAllBySymbol: true,
		SupportsOrderModify:       false,
		UsesAlgoEndpoints:         true,
		HedgeMode:                 false,
	}
}

// FormatPair implements exchange.Adapter: BTC/USDT -> XBTUSDTM.
func (a *Adapter) FormatPair(s exchange.Symbol) string {
	token := s.Token
	if token == "BTC" {
		token = "XBT"
	}
	return token + s.Quote + "M"
}

// ==================== TRANSPORT ====================

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// sign computes base64(HMAC-SHA256(timestamp + method + path + body)). The
// passphrase header carries the same HMAC applied to the raw passphrase, per
// key version 2.
func (a *Adapter) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(a.secretKey))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
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

func (a *Adapter) signedDelete(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, error) {
	return a.do(ctx, http.MethodDelete, endpoint, params, nil, true)
}

func (a *Adapter) do(ctx context.Context, method, endpoint string, params map[string]string, body map[string]any, signed bool) (json.RawMessage, error) {
	if err := a.limiter.Wait(ctx, weightKey(endpoint)); err != nil {
		return nil, err
	}

	pathWithQuery := endpoint
	var query string
	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		query = values.Encode()
		pathWithQuery += "?" + query
	}

	var bodyStr string
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyStr = string(raw)
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = query

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("KC-API-KEY", a.apiKey)
		req.Header.Set("KC-API-SIGN", a.sign(timestamp+method+pathWithQuery+bodyStr))
		req.Header.Set("KC-API-TIMESTAMP", timestamp)
		req.Header.Set("KC-API-PASSPHRASE", a.sign(a.passphrase))
		req.Header.Set("KC-API-KEY-VERSION", apiKeyVersion)
	}
	if body != nil {
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

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &exchange.APIError{
				Exchange: a.Name(), Endpoint: endpoint,
				StatusCode: resp.StatusCode, Message: string(raw),
				Kind: exchange.ClassifyHTTP(resp.StatusCode),
			}
		}
		return nil, fmt.Errorf("kucoin: parsing envelope: %w", err)
	}
	if env.Code != "200000" {
		return nil, a.resolveError(endpoint, resp.StatusCode, env)
	}
	return env.Data, nil
}

// resolveError maps KuCoin error codes onto the canonical taxonomy.
func (a *Adapter) resolveError(endpoint string, statusCode int, env envelope) error {
	apiErr := &exchange.APIError{
		Exchange:   a.Name(),
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Code:       env.Code,
		Message:    env.Msg,
		Kind:       exchange.KindInvalidRequest,
	}
	switch env.Code {
	case "429000", "1015": // too many requests
		apiErr.Kind = exchange.KindRateLimited
		a.limiter.RecordRateLimitError(time.Now().Add(time.Second))
	case "400003", "400004", "400005", "400006", "400007": // key / passphrase / signature
		apiErr.Kind = exchange.KindAuth
	case "100004", "404000": // order not found
		apiErr.Kind = exchange.KindOrderNotFound
	case "400002": // timestamp outside tolerance
		apiErr.Kind = exchange.KindTransient
	default:
		if statusCode >= 500 {
			apiErr.Kind = exchange.KindTransient
		}
	}
	return apiErr
}

// weightKey collapses /api/v1/orders/{id} style paths onto their weight
// table entry.
func weightKey(endpoint string) string {
	for prefix := range endpointWeights {
		if strings.HasPrefix(endpoint, prefix) {
			return prefix
		}
	}
	return endpoint
}

var _ exchange.Adapter = (*Adapter)(nil)
