package exchange

import (
	"fmt"
	"strings"
)

// Symbol is the canonical internal form of a contract: base token plus quote
// currency. Exchange wire encodings ("BTCUSDT", "BTC-USDT", "XBTUSDTM",
// "PF_XBTUSD") are the adapters' business.
type Symbol struct {
	Token string
	Quote string
}

func (s Symbol) String() string {
	return s.Token + "/" + s.Quote
}

// IsZero reports whether the symbol is unset.
func (s Symbol) IsZero() bool {
	return s.Token == "" && s.Quote == ""
}

// knownQuotes are tried longest-first when decoding concatenated pairs.
var knownQuotes = []string{"USDT", "USDC", "BUSD", "USD", "BTC", "ETH", "EUR"}

// ParseConcatenatedPair decodes wire pairs like "BTCUSDT" into the canonical
// symbol by matching a known quote suffix.
func ParseConcatenatedPair(pair string) (Symbol, error) {
	p := strings.ToUpper(strings.TrimSpace(pair))
	for _, quote := range knownQuotes {
		if strings.HasSuffix(p, quote) && len(p) > len(quote) {
			return Symbol{Token: strings.TrimSuffix(p, quote), Quote: quote}, nil
		}
	}
	return Symbol{}, fmt.Errorf("exchange: cannot decode trading pair %q", pair)
}

// ParseDelimitedPair decodes pairs like "BTC-USDT" or "BTC_USDT".
func ParseDelimitedPair(pair, delimiter string) (Symbol, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(pair)), delimiter)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Symbol{}, fmt.Errorf("exchange: cannot decode trading pair %q", pair)
	}
	return Symbol{Token: parts[0], Quote: parts[1]}, nil
}
