// Package portfolio defines the request-scoped value types shared by the
// aggregation, balance and swap components.
//
// Every type here is created fresh per request and never persisted. The only
// process-wide data are SourceConfig (owned by the aggregator registry) and the
// token table built once at startup.
package portfolio

import (
	"strings"
	"time"
)

// DefaultDecimals applies to assets missing from the token table. Most fungible
// assets on the target chain use 8 decimals.
const DefaultDecimals = 8

// =============================================================================
// Tokens
// =============================================================================

// Token represents a fungible token.
type Token struct {
	Address  string `json:"address" yaml:"address"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Name     string `json:"name,omitempty" yaml:"name"`
	Decimals int    `json:"decimals" yaml:"decimals"`
}

// TokenTable resolves asset types to token metadata.
type TokenTable struct {
	byAddress map[string]Token
	byLower   map[string]Token
}

// NewTokenTable indexes tokens by address. Later entries win on duplicates.
func NewTokenTable(tokens []Token) *TokenTable {
	t := &TokenTable{
		byAddress: make(map[string]Token, len(tokens)),
		byLower:   make(map[string]Token, len(tokens)),
	}
	for _, tok := range tokens {
		if tok.Address == "" {
			continue
		}
		t.byAddress[tok.Address] = tok
		t.byLower[strings.ToLower(tok.Address)] = tok
	}
	return t
}

// Lookup returns the token for address. Unknown addresses resolve to
// {Symbol: address, Decimals: DefaultDecimals} and ok=false.
func (t *TokenTable) Lookup(address string) (Token, bool) {
	if t != nil {
		if tok, ok := t.byAddress[address]; ok {
			return tok, true
		}
		if tok, ok := t.byLower[strings.ToLower(address)]; ok {
			return tok, true
		}
	}
	return Token{Address: address, Symbol: address, Decimals: DefaultDecimals}, false
}

// Len returns the number of known tokens.
func (t *TokenTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byAddress)
}

// =============================================================================
// Balances
// =============================================================================

// RawBalance is one balance entry as reported by an indexer.
type RawBalance struct {
	AssetType string `json:"assetType"`
	Amount    string `json:"amount"`
}

// Balance is a normalized, optionally priced balance.
// NormalizedAmount equals RawAmount / 10^Decimals. Amount carries the same value
// as an exact decimal string.
type Balance struct {
	AssetType        string   `json:"assetType"`
	Symbol           string   `json:"symbol"`
	RawAmount        string   `json:"rawAmount"`
	Decimals         int      `json:"decimals"`
	Amount           string   `json:"amount"`
	NormalizedAmount float64  `json:"normalizedAmount"`
	USDPrice         *float64 `json:"usdPrice,omitempty"`
	USDValue         *float64 `json:"usdValue,omitempty"`
}

// InvalidBalance is a raw entry rejected by normalization.
type InvalidBalance struct {
	AssetType string `json:"assetType"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
}

// =============================================================================
// Pools
// =============================================================================

// Pool is one (protocol, market) record. Amount fields are strings because
// minimal-unit values can exceed int64.
type Pool struct {
	ID          string  `json:"id"`
	Protocol    string  `json:"protocol"`
	Asset       string  `json:"asset"`
	APR         float64 `json:"apr"`
	TotalStaked string  `json:"totalStaked"`
	MinStake    string  `json:"minStake,omitempty"`
	MaxStake    string  `json:"maxStake,omitempty"`
	IsActive    bool    `json:"isActive"`
	SourceName  string  `json:"sourceName"`
}

// =============================================================================
// Swaps and actions
// =============================================================================

// SwapQuote is a provider quote with both amounts in minimal units.
// Slippage is a fraction, 0.01 meaning 1%.
type SwapQuote struct {
	Provider  string   `json:"provider"`
	AmountIn  string   `json:"amountIn"`
	AmountOut string   `json:"amountOut"`
	Path      []string `json:"path"`
	Slippage  float64  `json:"slippage"`
}

// TransactionPayload is an entry-function call passed through to the wallet unmodified.
type TransactionPayload struct {
	Type          string        `json:"type"`
	Function      string        `json:"function"`
	TypeArguments []string      `json:"typeArguments"`
	Arguments     []interface{} `json:"arguments"`
}

// =============================================================================
// Sources
// =============================================================================

// SourceKind selects the fetch protocol of a source.
type SourceKind string

const (
	SourceREST    SourceKind = "rest"
	SourceGraphQL SourceKind = "graphql"
	SourceView    SourceKind = "view"
)

// TransformKind tags the Transform variant.
type TransformKind string

const (
	TransformDefault TransformKind = "default"
	TransformMapping TransformKind = "mapping"
	TransformScript  TransformKind = "script"
	TransformCustom  TransformKind = "custom"
)

// Transform describes how a source body becomes pools. Only the fields of the
// selected Kind are read.
type Transform struct {
	Kind TransformKind `json:"kind" yaml:"kind"`

	// mapping: Root is a JSONPath selecting the item array; Fields maps pool
	// field names to gjson paths inside each item.
	Root   string            `json:"root,omitempty" yaml:"root"`
	Fields map[string]string `json:"fields,omitempty" yaml:"fields"`

	// script: JavaScript defining function Entry(input) returning an array of pools.
	Script string `json:"-" yaml:"script"`
	Entry  string `json:"entry,omitempty" yaml:"entry"`

	// custom: name of a transform registered in code.
	Name string `json:"name,omitempty" yaml:"name"`
}

// ViewCall is the body of an on-chain view request.
type ViewCall struct {
	Function      string        `json:"function" yaml:"function"`
	TypeArguments []string      `json:"type_arguments" yaml:"type_arguments"`
	Arguments     []interface{} `json:"arguments" yaml:"arguments"`
}

// SourceConfig is the static description of one pool data provider.
type SourceConfig struct {
	Name      string                 `json:"name" yaml:"name"`
	Kind      SourceKind             `json:"kind" yaml:"kind"`
	URL       string                 `json:"url" yaml:"url"`
	Enabled   bool                   `json:"enabled" yaml:"enabled"`
	Protocol  string                 `json:"protocol,omitempty" yaml:"protocol"`
	Method    string                 `json:"method,omitempty" yaml:"method"`
	Headers   map[string]string      `json:"-" yaml:"headers"`
	Body      string                 `json:"-" yaml:"body"`
	Query     string                 `json:"-" yaml:"query"`
	Variables map[string]interface{} `json:"-" yaml:"variables"`
	View      *ViewCall              `json:"view,omitempty" yaml:"view"`
	CacheTTL  time.Duration          `json:"cacheTTL,omitempty" yaml:"cache_ttl"`
	Transform *Transform             `json:"transform,omitempty" yaml:"transform"`
}

// TransformKind returns the effective transform kind, treating a missing
// transform as the default envelope.
func (s SourceConfig) TransformKind() TransformKind {
	if s.Transform == nil || s.Transform.Kind == "" {
		return TransformDefault
	}
	return s.Transform.Kind
}

// Clone returns a copy safe to mutate without affecting s.
func (s SourceConfig) Clone() SourceConfig {
	out := s
	if s.Headers != nil {
		out.Headers = make(map[string]string, len(s.Headers))
		for k, v := range s.Headers {
			out.Headers[k] = v
		}
	}
	if s.Transform != nil {
		t := *s.Transform
		out.Transform = &t
	}
	return out
}
