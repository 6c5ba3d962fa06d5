package model

import "strings"

// Pair identifies a traded pair in the two forms Kraken uses: the request key sent
// as ?pair= (e.g. "XBTEUR") and the key under which the response is returned
// (e.g. "XXBTZEUR").
type Pair struct {
	Crypto    string `json:"crypto" yaml:"crypto"`
	Currency  string `json:"currency" yaml:"currency"`
	Name      string `json:"name" yaml:"name"`
	ResultKey string `json:"result_key" yaml:"result_key"`
}

// NewPair builds a pair from its two asset codes. When resultKey is empty the legacy
// Kraken naming rule "X<crypto>Z<currency>" is applied.
func NewPair(crypto, currency, resultKey string) Pair {
	crypto = strings.ToUpper(strings.TrimSpace(crypto))
	currency = strings.ToUpper(strings.TrimSpace(currency))
	resultKey = strings.ToUpper(strings.TrimSpace(resultKey))
	if resultKey == "" {
		resultKey = "X" + crypto + "Z" + currency
	}
	return Pair{
		Crypto:    crypto,
		Currency:  currency,
		Name:      crypto + currency,
		ResultKey: resultKey,
	}
}

func (p Pair) String() string { return p.Name }

// DefaultPairs is the managed set used when no pair configuration is supplied.
// BCH and DASH are listed by Kraken without the X/Z prefixes.
func DefaultPairs() []Pair {
	return []Pair{
		NewPair("XBT", "EUR", ""),
		NewPair("XRP", "EUR", ""),
		NewPair("BCH", "EUR", "BCHEUR"),
		NewPair("ETC", "EUR", ""),
		NewPair("ETH", "EUR", ""),
		NewPair("LTC", "EUR", ""),
		NewPair("DASH", "EUR", "DASHEUR"),
		NewPair("XMR", "EUR", ""),
	}
}
