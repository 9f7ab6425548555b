// Package vault loads exchange API credentials from HashiCorp Vault and
// hands out ready adapters per account. Secrets never land in Postgres; the
// accounts table only carries the Vault path.
package vault

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/vault/api"

	"martingalian/internal/exchange"
)

// Config connects the Vault client.
type Config struct {
	Address    string
	Token      string
	TLSEnabled bool
	CACert     string
}

// Client wraps the HashiCorp Vault client with a read-through credential
// cache. Credentials rotate rarely; Invalidate drops a cached entry after an
// auth failure so the next read hits Vault again.
type Client struct {
	client *api.Client

	mu    sync.RWMutex
	cache map[string]exchange.Credentials
}

// NewClient creates the Vault client.
func NewClient(cfg Config) (*Client, error) {
	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{
		client: client,
		cache:  map[string]exchange.Credentials{},
	}, nil
}

// Credentials reads the API key material stored at the KV v2 path. Expected
// fields: api_key, api_secret and, for the venues that need one, passphrase.
func (c *Client) Credentials(ctx context.Context, path string) (exchange.Credentials, error) {
	c.mu.RLock()
	if creds, ok := c.cache[path]; ok {
		c.mu.RUnlock()
		return creds, nil
	}
	c.mu.RUnlock()

	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return exchange.Credentials{}, fmt.Errorf("failed to read vault secret %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return exchange.Credentials{}, fmt.Errorf("vault secret %s not found", path)
	}

	// KV v2 nests the payload under "data".
	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested
	}

	creds := exchange.Credentials{
		APIKey:     stringField(data, "api_key"),
		APISecret:  stringField(data, "api_secret"),
		Passphrase: stringField(data, "passphrase"),
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return exchange.Credentials{}, fmt.Errorf("vault secret %s is missing api_key or api_secret", path)
	}

	c.mu.Lock()
	c.cache[path] = creds
	c.mu.Unlock()
	return creds, nil
}

// Invalidate drops a cached credential, forcing a fresh Vault read.
func (c *Client) Invalidate(path string) {
	c.mu.Lock()
	delete(c.cache, path)
	c.mu.Unlock()
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
