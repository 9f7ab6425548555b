// Package bitget adapts BitGet v2 USDT-FUTURES to the canonical exchange
// contract. TP and SL attach to the position through the plan-order API and
// carry no size; the symbol-level cancel-all endpoint is unreliable, so
// cancel-all iterates individual cancels.
package bitget

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
	"time"

	"martingalian/internal/exchange"
)

const (
	// BaseURL is the production BitGet API URL.
	BaseURL = "https://api.bitget.com"

	productType = "USDT-FUTURES"
)

var endpointWeights = map[string]int{
	"/api/v2/public/time":                  1,
	"/api/v2/mix/market/contracts":         1,
	"/api/v2/mix/market/symbol-price":      1,
	"/api/v2/mix/market/candles":           1,
	"/api/v2/mix/market/query-position-lever": 1,
	"/api/v2/mix/account/accounts":         5,
	"/api/v2/mix/position/all-position":    5,
	"/api/v2/mix/order/orders-pending":     1,
	"/api/v2/mix/order/orders-plan-pending": 1,
	"/api/v2/mix/order/place-order":        1,
	"/api/v2/mix/order/place-tpsl-order":   1,
	"/api/v2/mix/order/cancel-order":       1,
	"/api/v2/mix/order/cancel-plan-order":  1,
	"/api/v2/mix/order/modify-order":       1,
	"/api/v2/mix/order/detail":             1,
	"/api/v2/mix/order/fills":              5,
	"/api/v2/mix/account/set-leverage":     1,
	"/api/v2/mix/account/set-margin-mode":  1,
}

// Adapter implements exchange.Adapter for BitGet futures.
type Adapter struct {
	apiKey     string
	secretKey  string
	passphrase string
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

// New creates a BitGet adapter.
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
	}
}

// Name implements exchange.Adapter.
func (a *Adapter) Name() string { return "bitget" }

// Capabilities implements exchange.Adapter.
func (a *Adapter) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		SupportsCancelAllBySymbol: false,
		SupportsOrderModify:       true,
		UsesAlgoEndpoints:         true,
		PositionAttachedTpsl:      true,
		HedgeMode:                 true,
	}
}

// FormatPair implements exchange.Adapter: BTC/USDT -> BTCUSDT.
func (a *Adapter) FormatPair(s exchange.Symbol) string {
	return s.Token + s.Quote
}

// ==================== TRANSPORT ====================

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// sign computes base64(HMAC-SHA256(timestamp + method + path + body)).
func (a *Adapter) sign(timestamp, method, pathWithQuery, body string) string {
	mac := hmac.New(sha256.New, []byte(a.secretKey))
	mac.Write([]byte(timestamp + method + pathWithQuery + body))
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

func (a *Adapter) do(ctx context.Context, method, endpoint string, params map[string]string, body map[string]any, signed bool) (json.RawMessage, error) {
	if err := a.limiter.Wait(ctx, endpoint); err != nil {
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
		req.Header.Set("ACCESS-KEY", a.apiKey)
		req.Header.Set("ACCESS-SIGN", a.sign(timestamp, method, pathWithQuery, bodyStr))
		req.Header.Set("ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("ACCESS-PASSPHRASE", a.passphrase)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("locale", "en-US")

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
		apiErr := &exchange.APIError{
			Exchange: a.Name(), Endpoint: endpoint,
			StatusCode: resp.StatusCode, Message: string(raw),
			Kind: exchange.ClassifyHTTP(resp.StatusCode),
		}
		if apiErr.Kind == exchange.KindRateLimited {
			a.limiter.RecordRateLimitError(time.Now().Add(time.Second))
		}
		return nil, apiErr
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("bitget: parsing envelope: %w", err)
	}
	if env.Code != "00000" {
		return nil, a.resolveError(endpoint, env)
	}
	return env.Data, nil
}

// resolveError maps BitGet error codes onto the canonical taxonomy.
func (a *Adapter) resolveError(endpoint string, env envelope) error {
	apiErr := &exchange.APIError{
		Exchange: a.Name(),
		Endpoint: endpoint,
		Code:     env.Code,
		Message:  env.Msg,
		Kind:     exchange.KindInvalidRequest,
	}
	switch env.Code {
	case "429", "40429", "40030": // too many requests
		apiErr.Kind = exchange.KindRateLimited
		a.limiter.RecordRateLimitError(time.Now().Add(time.Second))
	case "40009", "40012", "40037", "40006": // signature / key / passphrase
		apiErr.Kind = exchange.KindAuth
	case "40109", "43001", "43025": // order not found / already gone
		apiErr.Kind = exchange.KindOrderNotFound
	case "40010": // request timestamp expired
		apiErr.Kind = exchange.KindTransient
	}
	return apiErr
}

var _ exchange.Adapter = (*Adapter)(nil)
