package vault

import (
	"context"
	"fmt"
	"sync"
	"time"

	"martingalian/internal/database"
	"martingalian/internal/exchange"
	"martingalian/internal/exchange/binance"
	"martingalian/internal/exchange/bitget"
	"martingalian/internal/exchange/bybit"
	"martingalian/internal/exchange/kraken"
	"martingalian/internal/exchange/kucoin"
)

// Provider builds and caches one adapter per account. Each adapter carries
// its own rate limiter, so two accounts on the same venue spend separate
// request budgets.
type Provider struct {
	Vault   *Client
	Timeout time.Duration

	mu       sync.Mutex
	adapters map[int64]exchange.Adapter
}

// NewProvider wires the provider around the credential store.
func NewProvider(vault *Client) *Provider {
	return &Provider{
		Vault:    vault,
		Timeout:  15 * time.Second,
		adapters: map[int64]exchange.Adapter{},
	}
}

// ForAccount returns the adapter for the account, constructing it on first
// use from the Vault-held credentials.
func (p *Provider) ForAccount(ctx context.Context, account *database.Account) (exchange.Adapter, error) {
	p.mu.Lock()
	if adapter, ok := p.adapters[account.ID]; ok {
		p.mu.Unlock()
		return adapter, nil
	}
	p.mu.Unlock()

	creds, err := p.Vault.Credentials(ctx, account.VaultPath)
	if err != nil {
		return nil, err
	}

	adapter, err := p.build(account, creds)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.adapters[account.ID]; ok {
		return existing, nil
	}
	p.adapters[account.ID] = adapter
	return adapter, nil
}

// Evict drops a cached adapter, for credential rotation.
func (p *Provider) Evict(account *database.Account) {
	p.mu.Lock()
	delete(p.adapters, account.ID)
	p.mu.Unlock()
	p.Vault.Invalidate(account.VaultPath)
}

func (p *Provider) build(account *database.Account, creds exchange.Credentials) (exchange.Adapter, error) {
	switch account.Exchange {
	case "binance":
		return binance.New(binance.Config{Credentials: creds, Quote: account.Quote, Timeout: p.Timeout}), nil
	case "bybit":
		return bybit.New(bybit.Config{Credentials: creds, Quote: account.Quote, Timeout: p.Timeout}), nil
	case "bitget":
		return bitget.New(bitget.Config{Credentials: creds, Quote: account.Quote, Timeout: p.Timeout}), nil
	case "kucoin":
		return kucoin.New(kucoin.Config{Credentials: creds, Quote: account.Quote, Timeout: p.Timeout}), nil
	case "kraken":
		return kraken.New(kraken.Config{Credentials: creds, Quote: account.Quote, Timeout: p.Timeout}), nil
	default:
		return nil, fmt.Errorf("vault: unsupported exchange %q for account %d", account.Exchange, account.ID)
	}
}
